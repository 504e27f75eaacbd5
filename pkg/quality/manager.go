// Package quality implements the DataQualityManager (spec.md §4.6): gap
// detection and bar-quality scoring, gap filling (live/hybrid only),
// derived-bar aggregation, and indicator-warmup bookkeeping. It runs on
// its own thread, waking on the session-data arrival event or a bounded
// timeout.
package quality

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/timeutil"
	"github.com/marketsession/engine/pkg/types"
)

// Record is the quality state for one (symbol, interval): bar quality
// percentage plus outstanding gaps.
type Record struct {
	Quality float64
	Gaps    []types.GapInfo
}

type derivedKey struct {
	Symbol  string
	Derived types.Interval
}

// Manager is the DataQualityManager. Safe for concurrent use; Run drives
// the manager's own loop, but Sweep can also be invoked synchronously
// (e.g. by tests, or by the coordinator after a mid-session catch-up).
type Manager struct {
	sd   *sessiondata.SessionData
	repo repository.Repository
	tm   *timeutil.TimeManager
	cfg  config.GapFillerConfig
	mode types.Mode

	mu           sync.Mutex
	quality      map[string]map[types.Interval]*Record
	derivations  map[string]map[types.Interval]types.Interval // symbol -> derived -> base
	lastBaseSeen map[derivedKey]time.Time                      // last base-bar timestamp folded into a derived window
	sessionOpen  map[string]time.Time
}

func New(sd *sessiondata.SessionData, repo repository.Repository, tm *timeutil.TimeManager, cfg config.GapFillerConfig, mode types.Mode) *Manager {
	return &Manager{
		sd:           sd,
		repo:         repo,
		tm:           tm,
		cfg:          cfg,
		mode:         mode,
		quality:      make(map[string]map[types.Interval]*Record),
		derivations:  make(map[string]map[types.Interval]types.Interval),
		lastBaseSeen: make(map[derivedKey]time.Time),
		sessionOpen:  make(map[string]time.Time),
	}
}

// RegisterDerivation records that derived is produced by aggregating base
// for symbol. Called by the coordinator whenever the RequirementAnalyzer
// resolves a derivation path.
func (m *Manager) RegisterDerivation(symbol string, derived, base types.Interval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDerived, ok := m.derivations[symbol]
	if !ok {
		byDerived = make(map[types.Interval]types.Interval)
		m.derivations[symbol] = byDerived
	}
	byDerived[derived] = base
}

// SetSessionOpen records the current trading day's open for symbol, the
// lower bound for gap-detection's expected-timestamp enumeration.
func (m *Manager) SetSessionOpen(symbol string, open time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionOpen[symbol] = open
}

func (m *Manager) sessionOpenFor(symbol string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessionOpen[symbol]
	return t, ok
}

// GetQuality returns the current quality record for (symbol, interval).
func (m *Manager) GetQuality(symbol string, interval types.Interval) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byInterval, ok := m.quality[symbol]
	if !ok {
		return Record{}, false
	}
	rec, ok := byInterval[interval]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// SymbolQuality is one (symbol, interval) quality record, flattened for
// the status document.
type SymbolQuality struct {
	Symbol   string
	Interval types.Interval
	Record   Record
}

// Snapshot returns every quality record currently held, in no particular
// order.
func (m *Manager) Snapshot() []SymbolQuality {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SymbolQuality, 0, len(m.quality))
	for symbol, byInterval := range m.quality {
		for interval, rec := range byInterval {
			out = append(out, SymbolQuality{Symbol: symbol, Interval: interval, Record: *rec})
		}
	}
	return out
}

func (m *Manager) setQuality(symbol string, interval types.Interval, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byInterval, ok := m.quality[symbol]
	if !ok {
		byInterval = make(map[types.Interval]*Record)
		m.quality[symbol] = byInterval
	}
	r := rec
	byInterval[interval] = &r
}

// Run drives the manager's own thread: it wakes on every data-arrival
// signal, or at least every wakeTimeout, and performs one full sweep.
// Returns when ctx is done.
func (m *Manager) Run(ctx context.Context, wakeTimeout time.Duration) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, wakeTimeout)
		_ = m.sd.WaitForArrival(waitCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		m.Sweep(ctx)
	}
}

// Sweep performs one full pass over every active symbol: gap detection,
// bar-quality scoring, gap filling, derived-bar aggregation, and
// indicator-warmup bookkeeping.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.tm.Now()

	for _, symbol := range m.sd.GetActiveSymbols() {
		for _, interval := range m.sd.StreamedIntervals(symbol) {
			m.sweepInterval(ctx, symbol, interval, now)
		}
		m.sweepDerived(symbol, now)
	}
}

func (m *Manager) sweepInterval(ctx context.Context, symbol string, interval types.Interval, now time.Time) {
	open, ok := m.sessionOpenFor(symbol)
	if !ok {
		return
	}

	bars, err := m.sd.GetLastN(symbol, interval, types.DefaultRingCapacity)
	if err != nil {
		return
	}

	gaps, present := detectGaps(open, now, interval, bars)

	if len(gaps) > 0 && m.mode != types.ModeBacktest && m.cfg.EnableSessionQuality {
		m.fillGaps(ctx, symbol, interval, gaps)
		if refreshed, err := m.sd.GetLastN(symbol, interval, types.DefaultRingCapacity); err == nil {
			bars = refreshed
			gaps, present = detectGaps(open, now, interval, bars)
		}
	}

	expected := expectedCount(open, now, interval)
	quality := 100.0
	if expected > 0 {
		quality = 100.0 * float64(present) / float64(expected)
		if quality > 100 {
			quality = 100
		}
		if quality < 0 {
			quality = 0
		}
	}
	m.setQuality(symbol, interval, Record{Quality: quality, Gaps: gaps})

	for _, identity := range m.sd.IndicatorIdentitiesForInterval(symbol, interval) {
		_ = m.sd.MarkIndicatorWarmup(symbol, identity, len(bars), now)
	}
}

// detectGaps enumerates expected bar-start timestamps from open to now and
// reports which are missing, grouped into consecutive runs.
func detectGaps(open, now time.Time, interval types.Interval, present []types.Bar) ([]types.GapInfo, int) {
	seen := make(map[int64]bool, len(present))
	for _, b := range present {
		seen[b.Timestamp.Unix()] = true
	}

	step := time.Duration(interval.Seconds()) * time.Second
	if step <= 0 {
		return nil, len(present)
	}

	var gaps []types.GapInfo
	var cur *types.GapInfo
	count := 0

	for t := open; t.Before(now); t = t.Add(step) {
		if seen[t.Unix()] {
			count++
			if cur != nil {
				gaps = append(gaps, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &types.GapInfo{Start: t, End: t, Count: 1}
		} else {
			cur.End = t
			cur.Count++
		}
	}
	if cur != nil {
		gaps = append(gaps, *cur)
	}

	return gaps, count
}

func expectedCount(open, now time.Time, interval types.Interval) int {
	step := time.Duration(interval.Seconds()) * time.Second
	if step <= 0 {
		return 0
	}
	elapsed := now.Sub(open)
	if elapsed <= 0 {
		return 0
	}
	return int((elapsed + step - 1) / step)
}

// fillGaps requests the missing bars from the repository and inserts them
// through SessionData's privileged gap-fill path, retrying with bounded
// exponential backoff per spec.md §4.6.
func (m *Manager) fillGaps(ctx context.Context, symbol string, interval types.Interval, gaps []types.GapInfo) {
	for _, gap := range gaps {
		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxInt(m.cfg.MaxRetries, 0)))
		if m.cfg.RetryIntervalSeconds > 0 {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = time.Duration(m.cfg.RetryIntervalSeconds) * time.Second
			bo = backoff.WithMaxRetries(eb, uint64(maxInt(m.cfg.MaxRetries, 0)))
		}

		err := backoff.Retry(func() error {
			bars, err := m.repo.GetBars(ctx, symbol, interval, gap.Start, gap.End.Add(time.Duration(interval.Seconds())*time.Second))
			if err != nil {
				if errors.Is(err, types.ErrPermanentExternal) {
					return backoff.Permanent(err)
				}
				return err
			}
			for _, bar := range bars {
				if err := m.sd.InsertGapFilledBar(symbol, interval, bar); err != nil {
					log.WithError(err).WithField("symbol", symbol).Debug("quality: gap-fill insert failed")
				}
			}
			return nil
		}, bo)

		if err != nil {
			log.WithError(err).WithFields(log.Fields{"symbol": symbol, "interval": interval.String()}).Warn("quality: gap fill exhausted retries")
		}
	}
}

// sweepDerived aggregates newly-complete base windows into derived bars
// for every (base, derived) pair registered on symbol.
func (m *Manager) sweepDerived(symbol string, now time.Time) {
	m.mu.Lock()
	pairs := make(map[types.Interval]types.Interval, len(m.derivations[symbol]))
	for derived, base := range m.derivations[symbol] {
		pairs[derived] = base
	}
	m.mu.Unlock()

	for derived, base := range pairs {
		m.aggregateOne(symbol, derived, base, now)
	}
}

func (m *Manager) aggregateOne(symbol string, derived, base types.Interval, now time.Time) {
	key := derivedKey{Symbol: symbol, Derived: derived}

	m.mu.Lock()
	lastSeen := m.lastBaseSeen[key]
	m.mu.Unlock()

	baseBars, err := m.sd.GetBarsSince(symbol, base, types.Bar{Timestamp: lastSeen})
	if err != nil || len(baseBars) == 0 {
		return
	}

	derivedSeconds := derived.Seconds()
	baseSeconds := base.Seconds()
	if baseSeconds <= 0 || derivedSeconds <= 0 {
		return
	}
	barsPerWindow := int(derivedSeconds / baseSeconds)
	if barsPerWindow < 1 {
		return
	}

	var windowStart time.Time
	var windowBars []types.Bar

	flush := func() {
		if len(windowBars) == 0 {
			return
		}
		windowEnd := windowStart.Add(time.Duration(derivedSeconds) * time.Second)
		if windowEnd.After(now) {
			// window not yet fully closed: leave these bars for the next sweep
			return
		}
		agg := types.AggregateBars(windowStart, windowBars)
		if err := m.sd.AppendBar(symbol, derived, agg, sessiondata.SourceDerived); err != nil {
			log.WithError(err).WithField("symbol", symbol).Debug("quality: derived bar append failed")
		}
		m.mu.Lock()
		m.lastBaseSeen[key] = windowBars[len(windowBars)-1].Timestamp
		m.mu.Unlock()
		windowBars = nil
	}

	for _, bar := range baseBars {
		alignedStart := alignToWindow(bar.Timestamp, derivedSeconds)
		if windowStart.IsZero() {
			windowStart = alignedStart
		}
		if !alignedStart.Equal(windowStart) {
			flush()
			windowStart = alignedStart
		}
		windowBars = append(windowBars, bar)
		if len(windowBars) == barsPerWindow {
			flush()
			windowStart = time.Time{}
		}
	}
	if windowEndsBeforeNow(windowStart, derivedSeconds, now) {
		flush()
	}
}

func alignToWindow(t time.Time, windowSeconds int64) time.Time {
	unix := t.Unix()
	aligned := unix - (unix % windowSeconds)
	return time.Unix(aligned, 0).In(t.Location())
}

func windowEndsBeforeNow(windowStart time.Time, windowSeconds int64, now time.Time) bool {
	if windowStart.IsZero() {
		return false
	}
	return !windowStart.Add(time.Duration(windowSeconds) * time.Second).After(now)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
