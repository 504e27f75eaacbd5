package statusdoc

import (
	"encoding/json"
	"time"

	"github.com/marketsession/engine/pkg/quality"
	"github.com/marketsession/engine/pkg/scanner"
	"github.com/marketsession/engine/pkg/timeutil"
	"github.com/marketsession/engine/pkg/types"
)

// IntervalQuality is one symbol's flattened quality record for the
// document's JSON shape — quality.SymbolQuality with the interval rendered
// as its string form, since JSON object keys cannot be Interval values.
type IntervalQuality struct {
	Interval string        `json:"interval"`
	Quality  float64       `json:"quality_percent"`
	Gaps     []types.GapInfo `json:"gaps,omitempty"`
}

// SymbolStatus is one symbol's section of the document.
type SymbolStatus struct {
	Symbol   string                 `json:"symbol"`
	Metrics  types.SessionMetrics   `json:"metrics"`
	Quality  []IntervalQuality      `json:"quality,omitempty"`
}

// ScannerStatus mirrors scanner.Status for the document's JSON shape.
type ScannerStatus struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	NextScanTime time.Time `json:"next_scan_time,omitempty"`
}

// Snapshot is the full observable status document (spec.md §6): session
// lifecycle state, per-symbol quality and metrics, scanner status,
// calendar cache hit rate, and subscription overrun count. ResolvedConfig
// is the adhoc-patched configuration snapshot (see patch.go) — raw JSON so
// additive fields a caller patched in survive round-tripping untouched.
type Snapshot struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	SessionDate     time.Time          `json:"session_date"`
	State           string             `json:"state"`
	Symbols         []SymbolStatus     `json:"symbols"`
	Scanners        []ScannerStatus    `json:"scanners,omitempty"`
	CacheStats      timeutil.CacheStats `json:"calendar_cache_stats"`
	OverrunCount    int64              `json:"subscription_overruns"`
	ResolvedConfig  json.RawMessage    `json:"resolved_config,omitempty"`
}

// BuildSnapshot assembles a Snapshot from the session's live collaborators.
// symbols is the set of currently-active symbols; metricsOf lets the
// caller (pkg/coordinator, which already holds SessionData) supply
// per-symbol metrics without this package importing sessiondata directly.
func BuildSnapshot(
	now time.Time,
	sessionDate time.Time,
	state string,
	symbols []string,
	metricsOf func(symbol string) types.SessionMetrics,
	qualityM *quality.Manager,
	scannerM *scanner.Manager,
	tm *timeutil.TimeManager,
	overrunCount int64,
	resolvedConfig json.RawMessage,
) Snapshot {
	bySymbol := make(map[string][]IntervalQuality, len(symbols))
	for _, sq := range qualityM.Snapshot() {
		bySymbol[sq.Symbol] = append(bySymbol[sq.Symbol], IntervalQuality{
			Interval: sq.Interval.String(),
			Quality:  sq.Record.Quality,
			Gaps:     sq.Record.Gaps,
		})
		BarQualityPercent.WithLabelValues(sq.Symbol, sq.Interval.String()).Set(sq.Record.Quality)
		OutstandingGaps.WithLabelValues(sq.Symbol, sq.Interval.String()).Set(float64(len(sq.Record.Gaps)))
	}

	symStatus := make([]SymbolStatus, 0, len(symbols))
	for _, s := range symbols {
		symStatus = append(symStatus, SymbolStatus{
			Symbol:  s,
			Metrics: metricsOf(s),
			Quality: bySymbol[s],
		})
	}

	var scanStatus []ScannerStatus
	for _, s := range scannerM.Statuses() {
		scanStatus = append(scanStatus, ScannerStatus{Name: s.Name, State: s.State.String(), NextScanTime: s.NextScanTime})
		for _, st := range []scanner.State{scanner.Initialized, scanner.SetupPending, scanner.SetupComplete, scanner.Scanning, scanner.ScanComplete, scanner.TeardownComplete, scanner.Error} {
			v := 0.0
			if st == s.State {
				v = 1.0
			}
			ScannerState.WithLabelValues(s.Name, st.String()).Set(v)
		}
	}

	stats := tm.CacheStats()
	CalendarCacheHits.Set(float64(stats.Hits))
	CalendarCacheMisses.Set(float64(stats.Misses))

	return Snapshot{
		GeneratedAt:    now,
		SessionDate:    sessionDate,
		State:          state,
		Symbols:        symStatus,
		Scanners:       scanStatus,
		CacheStats:     stats,
		OverrunCount:   overrunCount,
		ResolvedConfig: resolvedConfig,
	}
}
