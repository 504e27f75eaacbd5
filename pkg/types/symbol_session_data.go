package types

import "sync"

// SymbolSessionData is the per-symbol container described in spec.md §3: a
// mapping of interval to both current-session and historical bars, the
// ticks/quotes seen this session, the indicators map, the running session
// metrics, and adhoc-provisioning bookkeeping.
//
// Mutex guards everything below it except the latest-bar pointers, which
// SessionData keeps in a separate lock-free map so readers of "most recent
// N" never block on unrelated writers (spec.md §4.2 fast-path invariant).
type SymbolSessionData struct {
	Symbol string

	mu sync.RWMutex

	intervals   map[Interval]*IntervalData
	historical  map[Interval]*HistoricalIntervalData
	historicalDateOrder map[Interval][]string

	ticks  []Tick
	quotes []Quote

	indicators map[string]*IndicatorMetadata

	metrics SessionMetrics

	adhocIntervals map[Interval]bool

	locked       bool
	lockReason   string
}

func NewSymbolSessionData(symbol string) *SymbolSessionData {
	return &SymbolSessionData{
		Symbol:              symbol,
		intervals:           make(map[Interval]*IntervalData),
		historical:          make(map[Interval]*HistoricalIntervalData),
		historicalDateOrder: make(map[Interval][]string),
		indicators:          make(map[string]*IndicatorMetadata),
		adhocIntervals:      make(map[Interval]bool),
	}
}

// Lock/Unlock expose the symbol's mutex for callers (SessionData) that need
// to hold it across several operations or to acquire multiple symbols'
// locks in a fixed order.
func (s *SymbolSessionData) Lock()    { s.mu.Lock() }
func (s *SymbolSessionData) Unlock()  { s.mu.Unlock() }
func (s *SymbolSessionData) RLock()   { s.mu.RLock() }
func (s *SymbolSessionData) RUnlock() { s.mu.RUnlock() }

// EnsureInterval returns the IntervalData for interval, creating it
// (derived or streamed, per the derived flag) if absent; adhoc=true also
// records the interval as adhoc-provisioned. Caller must hold the write
// lock.
func (s *SymbolSessionData) EnsureInterval(interval Interval, derived bool, adhoc bool) *IntervalData {
	d, ok := s.intervals[interval]
	if !ok {
		d = NewIntervalData(interval, derived, DefaultRingCapacity)
		s.intervals[interval] = d
	}
	if adhoc {
		s.adhocIntervals[interval] = true
	}
	return d
}

// Interval returns the IntervalData for interval without creating it.
// Caller must hold at least the read lock.
func (s *SymbolSessionData) Interval(interval Interval) (*IntervalData, bool) {
	d, ok := s.intervals[interval]
	return d, ok
}

// Intervals returns the set of intervals currently provisioned on this
// symbol. Caller must hold at least the read lock.
func (s *SymbolSessionData) Intervals() []Interval {
	out := make([]Interval, 0, len(s.intervals))
	for iv := range s.intervals {
		out = append(out, iv)
	}
	return out
}

// IsAdhocInterval reports whether interval came from adhoc (non-config)
// provisioning.
func (s *SymbolSessionData) IsAdhocInterval(interval Interval) bool {
	return s.adhocIntervals[interval]
}

// EnsureHistorical returns the HistoricalIntervalData for interval,
// creating it if absent. Caller must hold the write lock.
func (s *SymbolSessionData) EnsureHistorical(interval Interval) *HistoricalIntervalData {
	h, ok := s.historical[interval]
	if !ok {
		h = NewHistoricalIntervalData(interval)
		s.historical[interval] = h
	}
	return h
}

func (s *SymbolSessionData) Historical(interval Interval) (*HistoricalIntervalData, bool) {
	h, ok := s.historical[interval]
	return h, ok
}

func (s *SymbolSessionData) PromoteHistoricalDay(interval Interval, date string, bars []Bar, trailingDaysCap int) {
	h := s.EnsureHistorical(interval)
	order := s.historicalDateOrder[interval]
	s.historicalDateOrder[interval] = h.PromoteDay(date, bars, trailingDaysCap, order)
}

func (s *SymbolSessionData) AppendTick(t Tick)   { s.ticks = append(s.ticks, t) }
func (s *SymbolSessionData) AppendQuote(q Quote) { s.quotes = append(s.quotes, q) }
func (s *SymbolSessionData) Ticks() []Tick       { return s.ticks }
func (s *SymbolSessionData) Quotes() []Quote     { return s.quotes }

// Indicator returns the indicator metadata for the given identity. Caller
// must hold at least the read lock.
func (s *SymbolSessionData) Indicator(identity string) (*IndicatorMetadata, bool) {
	m, ok := s.indicators[identity]
	return m, ok
}

// IndicatorMetadataMap exposes the full indicator map for iteration (e.g.
// by the quality manager sweeping validity). Caller must hold at least the
// read lock.
func (s *SymbolSessionData) IndicatorMetadataMap() map[string]*IndicatorMetadata {
	return s.indicators
}

// PutIndicator registers or replaces the metadata for an indicator
// identity. Caller must hold the write lock.
func (s *SymbolSessionData) PutIndicator(meta *IndicatorMetadata) {
	s.indicators[meta.Identity] = meta
}

func (s *SymbolSessionData) Metrics() SessionMetrics {
	return s.metrics
}

func (s *SymbolSessionData) ApplyMetricsBar(bar Bar) {
	s.metrics.ApplyBar(bar)
}

func (s *SymbolSessionData) ResetMetrics() {
	s.metrics.Reset()
}

func (s *SymbolSessionData) ResetCurrentSession() {
	s.intervals = make(map[Interval]*IntervalData)
	s.ticks = nil
	s.quotes = nil
	s.metrics.Reset()
}

func (s *SymbolSessionData) IsLocked() (bool, string) {
	return s.locked, s.lockReason
}

func (s *SymbolSessionData) SetLock(locked bool, reason string) {
	s.locked = locked
	s.lockReason = reason
}
