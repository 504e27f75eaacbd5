// Package sessiondata implements SessionData: the process-wide, in-memory
// store of current-session and historical bars, ticks, quotes, indicator
// bookkeeping and per-symbol session metrics (spec.md §3/§4.2).
//
// Concurrency model: a registry lock (mu) guards symbol-set membership,
// active-stream bookkeeping and session-lifecycle fields. Per-symbol state
// is guarded by each SymbolSessionData's own mutex, always acquired in
// lexicographic symbol order when more than one must be held at once, to
// rule out lock-order deadlocks. The single most-recent bar per
// (symbol, interval) is additionally kept in a lock-free map so the hot
// read path never blocks behind a writer touching unrelated history.
package sessiondata

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/requirement"
	"github.com/marketsession/engine/pkg/types"
)

// AppendSource distinguishes who is appending a bar. SourceGapFill is the
// privileged source: it may splice a bar behind the latest one and write to
// a locked symbol; every other source is subject to the ordering and lock
// checks. The trading-window check is the caller's (see AppendBar).
type AppendSource string

const (
	SourceStream   AppendSource = "stream"
	SourcePrefetch AppendSource = "prefetch"
	SourceGapFill  AppendSource = "gap_fill"
	SourceAdhoc    AppendSource = "adhoc"
	SourceDerived  AppendSource = "derived"
)

// PendingProvisioning is one queued request for the coordinator's streaming
// loop to enact: attach (or detach) a stream for a (symbol, kind, interval).
// SessionData never calls back up into the coordinator directly — see
// DESIGN.md's resolution of the cyclic-reference open question.
type PendingProvisioning struct {
	Op requirement.SessionQueueOp
}

type SessionData struct {
	mu sync.RWMutex

	symbols       map[string]*types.SymbolSessionData
	configSymbols map[string]bool // declared in the session config or upgraded, vs adhoc-only

	activeStreams map[types.StreamKey]bool

	latestBar sync.Map // string -> types.Bar

	arrival *arrivalEvent

	sessionActive      int32
	currentSessionDate time.Time
	mode               types.Mode

	pendingMu sync.Mutex
	pending   []PendingProvisioning

	cfg config.SessionConfig
}

func New(cfg config.SessionConfig) *SessionData {
	configSymbols := make(map[string]bool, len(cfg.SessionDataConfig.Symbols))
	for _, symbol := range cfg.SessionDataConfig.Symbols {
		configSymbols[symbol] = true
	}
	return &SessionData{
		symbols:       make(map[string]*types.SymbolSessionData),
		configSymbols: configSymbols,
		activeStreams: make(map[types.StreamKey]bool),
		arrival:       newArrivalEvent(),
		mode:          cfg.Mode,
		cfg:           cfg,
	}
}

func latestKey(symbol string, interval types.Interval) string {
	return symbol + "|" + interval.String()
}

// WaitForArrival blocks until the next bar/tick/quote arrival anywhere in
// the store, or ctx is done. Used by the data-quality manager's wake loop.
func (sd *SessionData) WaitForArrival(ctx context.Context) error {
	return sd.arrival.Wait(ctx)
}

func (sd *SessionData) signalArrival() {
	sd.arrival.Broadcast()
}

// getOrCreateSymbol is an internal accessor that creates the symbol record
// if absent. Caller must hold sd.mu for writing.
func (sd *SessionData) getOrCreateSymbol(symbol string) *types.SymbolSessionData {
	s, ok := sd.symbols[symbol]
	if !ok {
		s = types.NewSymbolSessionData(symbol)
		sd.symbols[symbol] = s
	}
	return s
}

func (sd *SessionData) getSymbol(symbol string) (*types.SymbolSessionData, error) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	s, ok := sd.symbols[symbol]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownSymbol, "symbol %s", symbol)
	}
	return s, nil
}

// GetActiveSymbols returns the current symbol set, sorted.
func (sd *SessionData) GetActiveSymbols() []string {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	out := make([]string, 0, len(sd.symbols))
	for s := range sd.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// lockSymbols acquires the write lock for every named symbol in
// lexicographic order, returning the records in that same order and a
// release function. Any symbol not already present is created under the
// registry write lock first.
func (sd *SessionData) lockSymbols(symbols ...string) ([]*types.SymbolSessionData, func()) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	sd.mu.Lock()
	recs := make([]*types.SymbolSessionData, 0, len(sorted))
	for _, s := range sorted {
		recs = append(recs, sd.getOrCreateSymbol(s))
	}
	sd.mu.Unlock()

	for _, r := range recs {
		r.Lock()
	}
	return recs, func() {
		for i := len(recs) - 1; i >= 0; i-- {
			recs[i].Unlock()
		}
	}
}

// LockSymbol marks a symbol as locked (e.g. by risk control or an operator
// action): subsequent writes are rejected with ErrSymbolLocked until
// UnlockSymbol is called.
func (sd *SessionData) LockSymbol(symbol, reason string) {
	recs, release := sd.lockSymbols(symbol)
	defer release()
	recs[0].SetLock(true, reason)
}

func (sd *SessionData) UnlockSymbol(symbol string) {
	recs, release := sd.lockSymbols(symbol)
	defer release()
	recs[0].SetLock(false, "")
}

func (sd *SessionData) IsSymbolLocked(symbol string) (bool, string) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return false, ""
	}
	s.RLock()
	defer s.RUnlock()
	return s.IsLocked()
}

// IsSessionActive reports whether the session is marked active
// (ActivateSession/DeactivateSession; spec.md's Streaming/Paused vs
// Stopped/SessionEnded distinction, as seen from SessionData's point of
// view). The flag is advisory: the write methods do not consult it.
func (sd *SessionData) IsSessionActive() bool {
	return atomic.LoadInt32(&sd.sessionActive) == 1
}

func (sd *SessionData) ActivateSession() {
	atomic.StoreInt32(&sd.sessionActive, 1)
}

func (sd *SessionData) DeactivateSession() {
	atomic.StoreInt32(&sd.sessionActive, 0)
}

// StartNewSession resets every symbol's current-session state (intervals,
// ticks, quotes, metrics) and records the new session date. Historical
// data and indicator registrations survive — only the current trading
// day's accumulation is cleared.
func (sd *SessionData) StartNewSession(date time.Time) error {
	sd.mu.Lock()
	symbols := make([]string, 0, len(sd.symbols))
	for s := range sd.symbols {
		symbols = append(symbols, s)
	}
	sd.currentSessionDate = date
	sd.mu.Unlock()

	for _, s := range symbols {
		recs, release := sd.lockSymbols(s)
		recs[0].ResetCurrentSession()
		release()
	}

	sd.latestBar.Range(func(key, _ interface{}) bool {
		sd.latestBar.Delete(key)
		return true
	})

	return nil
}

// RollSession promotes each symbol's current-session bars on every
// provisioned interval, streamed or derived, into that interval's
// historical record (keyed by the
// outgoing session date), then resets current-session state the same way
// StartNewSession does. trailingDaysCap bounds how many historical days
// are retained per interval.
func (sd *SessionData) RollSession(outgoingDate time.Time, trailingDaysCap int) error {
	dateKey := outgoingDate.Format("2006-01-02")

	sd.mu.RLock()
	symbols := make([]string, 0, len(sd.symbols))
	for s := range sd.symbols {
		symbols = append(symbols, s)
	}
	sd.mu.RUnlock()

	for _, symbol := range symbols {
		recs, release := sd.lockSymbols(symbol)
		rec := recs[0]
		for _, interval := range rec.Intervals() {
			data, ok := rec.Interval(interval)
			if !ok || data.Len() == 0 {
				continue
			}
			bars := data.LastN(data.Len())
			rec.PromoteHistoricalDay(interval, dateKey, bars, trailingDaysCap)
		}
		rec.ResetCurrentSession()
		release()
	}

	sd.latestBar.Range(func(key, _ interface{}) bool {
		sd.latestBar.Delete(key)
		return true
	})

	log.WithField("date", dateKey).Debug("sessiondata: rolled session")
	return nil
}
