// Package statusdoc implements the observable status document spec.md §6
// requires: a periodically-written JSON snapshot of the session's current
// state (per-symbol quality, scanner status, subscription overruns, cache
// hit rates) plus the Prometheus counters the same data backs.
package statusdoc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionOverruns is registered for clock-driven StreamSubscription
	// waits that time out, but nothing in this module increments it; the
	// overrun count reaches the status document through
	// Snapshot.OverrunCount.
	SubscriptionOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionengine_subscription_overruns_total",
		Help: "Total clock-driven downstream subscription waits that timed out.",
	})

	// CalendarCacheHits and CalendarCacheMisses mirror TimeManager's
	// CacheStats into Prometheus.
	CalendarCacheHits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionengine_calendar_cache_hits",
		Help: "TimeManager trading-calendar cache hits since process start.",
	})
	CalendarCacheMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionengine_calendar_cache_misses",
		Help: "TimeManager trading-calendar cache misses since process start.",
	})

	// BarQualityPercent is the last-swept bar quality score per (symbol,
	// interval).
	BarQualityPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessionengine_bar_quality_percent",
		Help: "Last-swept bar quality percentage, per symbol and interval.",
	}, []string{"symbol", "interval"})

	// OutstandingGaps is the last-swept outstanding gap count per (symbol,
	// interval).
	OutstandingGaps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessionengine_outstanding_gaps",
		Help: "Last-swept outstanding gap count, per symbol and interval.",
	}, []string{"symbol", "interval"})

	// ScannerState exposes each registered scanner's lifecycle state as a
	// 0/1 gauge per (scanner, state) pair, the idiomatic Prometheus
	// encoding for an enum.
	ScannerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessionengine_scanner_state",
		Help: "1 for the scanner's current lifecycle state, 0 otherwise.",
	}, []string{"scanner", "state"})

	// WriteFailures counts status-document writes dropped after a flock
	// or marshal failure (spec.md §7's TransientExternal posture: logged,
	// never fatal).
	WriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionengine_status_write_failures_total",
		Help: "Total status document writes that failed and were dropped.",
	})
)
