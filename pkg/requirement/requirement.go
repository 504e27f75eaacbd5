// Package requirement implements the RequirementAnalyzer: a pure function
// translating logical asks (symbols/streams/indicators) into a
// deterministic sequence of provisioning steps (spec.md §4.3). It is used
// identically by the session-config boot path and by adhoc entry points,
// including scanners.
package requirement

import (
	"fmt"
	"math"
	"sort"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/types"
)

// AskKind is the kind of logical ask being requested.
type AskKind string

const (
	AskSymbol      AskKind = "symbol"
	AskBarInterval AskKind = "bar_interval"
	AskIndicator   AskKind = "indicator"
)

// Ask is one logical request: provision a symbol, a base bar interval, or
// an indicator.
type Ask struct {
	Symbol string
	Kind   AskKind

	Interval types.Interval // for AskBarInterval
	Indicator types.IndicatorConfig // for AskIndicator

	ExplicitHistoricalDays int // for explicit historical requests
}

// Snapshot is the narrow read-only view of SessionData the analyzer needs
// for deduplication / upgrade detection. sessiondata.SessionData implements
// this interface; requirement does not import sessiondata, which keeps the
// dependency one-directional.
type Snapshot interface {
	HasSymbol(symbol string) bool
	IsSymbolAdhocOnly(symbol string) bool
	HasInterval(symbol string, interval types.Interval) bool
	IsIntervalStreamed(symbol string, interval types.Interval) bool
	StreamedIntervals(symbol string) []types.Interval
	HasIndicator(symbol, identity string) bool
	IsSymbolLocked(symbol string) (bool, string)
}

type SymbolOpKind string

const (
	SymbolOpCreate       SymbolOpKind = "create"
	SymbolOpUpgrade      SymbolOpKind = "upgrade_from_adhoc"
	SymbolOpNoop         SymbolOpKind = "noop"
)

type IntervalOpKind string

const (
	IntervalOpAddBase    IntervalOpKind = "add_as_base"
	IntervalOpAddDerived IntervalOpKind = "add_as_derived"
	IntervalOpNoop       IntervalOpKind = "noop"
)

type IntervalOp struct {
	Symbol      string
	Interval    types.Interval
	Kind        IntervalOpKind
	DerivedFrom types.Interval // valid when Kind == IntervalOpAddDerived
}

type HistoricalOp struct {
	Symbol   string
	Interval types.Interval
	Days     int
}

type SessionQueueOp struct {
	Symbol   string
	Kind     types.StreamKind
	Interval types.Interval
	Attach   bool
}

type IndicatorOp struct {
	Symbol     string
	Config     types.IndicatorConfig
	Identity   string
	WarmupBars int
	Noop       bool
}

type QualityOp struct {
	Symbol  string
	Compute bool
}

// ProvisioningRequirements is the analyzer's output: a fully-resolved,
// deterministic set of steps for the executor to enact.
type ProvisioningRequirements struct {
	CanProceed         bool
	ValidationErrors   []error
	ValidationWarnings []string

	SymbolOps       map[string]SymbolOpKind
	IntervalOps     []IntervalOp
	HistoricalOps   []HistoricalOp
	SessionQueueOps []SessionQueueOp
	IndicatorOps    []IndicatorOp
	QualityOps      []QualityOp
}

func newRequirements() *ProvisioningRequirements {
	return &ProvisioningRequirements{
		CanProceed: true,
		SymbolOps:  make(map[string]SymbolOpKind),
	}
}

func (r *ProvisioningRequirements) addError(err error) {
	r.CanProceed = false
	r.ValidationErrors = append(r.ValidationErrors, err)
}

func (r *ProvisioningRequirements) addWarning(w string) {
	r.ValidationWarnings = append(r.ValidationWarnings, w)
}

// tradingDaySeconds approximates one trading day for historical-day
// conversion purposes (6.5h regular US-equities session as a conservative
// default; callers provisioning other asset classes may override via
// config in a future revision — see DESIGN.md open question).
const tradingDaySeconds = 6.5 * 3600

// Analyze is the pure function described in spec.md §4.3: it never mutates
// snap and always returns a fully-formed ProvisioningRequirements, setting
// CanProceed=false and populating ValidationErrors on any failure.
func Analyze(asks []Ask, snap Snapshot, cfg config.SessionConfig) *ProvisioningRequirements {
	reqs := newRequirements()

	// track streamed intervals introduced within this batch, per symbol,
	// so indicator derivation search can see bar-interval asks processed
	// earlier in the same call.
	batchStreamed := make(map[string]map[types.Interval]bool)
	streamedSet := func(symbol string) map[types.Interval]bool {
		set, ok := batchStreamed[symbol]
		if !ok {
			set = make(map[types.Interval]bool)
			for _, iv := range snap.StreamedIntervals(symbol) {
				set[iv] = true
			}
			batchStreamed[symbol] = set
		}
		return set
	}

	historicalDaysNeeded := make(map[string]map[types.Interval]int) // symbol -> interval -> days
	requestHistorical := func(symbol string, interval types.Interval, days int) {
		m, ok := historicalDaysNeeded[symbol]
		if !ok {
			m = make(map[types.Interval]int)
			historicalDaysNeeded[symbol] = m
		}
		if days > m[interval] {
			m[interval] = days
		}
	}

	seenIndicatorIdentities := make(map[string]bool)

	for _, ask := range asks {
		if locked, reason := snap.IsSymbolLocked(ask.Symbol); locked && ask.Kind == AskSymbol {
			reqs.addWarning(fmt.Sprintf("symbol %s is locked (%s)", ask.Symbol, reason))
		}

		switch ask.Kind {
		case AskSymbol:
			resolveSymbolOp(reqs, snap, ask.Symbol)

		case AskBarInterval:
			if ask.Interval.IsZero() {
				reqs.addError(fmt.Errorf("bar_interval ask for %s: interval is required", ask.Symbol))
				continue
			}
			if snap.HasInterval(ask.Symbol, ask.Interval) {
				reqs.IntervalOps = append(reqs.IntervalOps, IntervalOp{Symbol: ask.Symbol, Interval: ask.Interval, Kind: IntervalOpNoop})
				continue
			}
			reqs.IntervalOps = append(reqs.IntervalOps, IntervalOp{Symbol: ask.Symbol, Interval: ask.Interval, Kind: IntervalOpAddBase})
			reqs.SessionQueueOps = append(reqs.SessionQueueOps, SessionQueueOp{Symbol: ask.Symbol, Kind: types.StreamKindBar, Interval: ask.Interval, Attach: true})
			streamedSet(ask.Symbol)[ask.Interval] = true
			if ask.ExplicitHistoricalDays > 0 {
				requestHistorical(ask.Symbol, ask.Interval, ask.ExplicitHistoricalDays)
			}

		case AskIndicator:
			resolveIndicatorOp(reqs, snap, ask, streamedSet(ask.Symbol), requestHistorical, seenIndicatorIdentities)

		default:
			reqs.addError(fmt.Errorf("unknown ask kind %q for symbol %s", ask.Kind, ask.Symbol))
		}
	}

	for symbol, byInterval := range historicalDaysNeeded {
		for interval, days := range byInterval {
			reqs.HistoricalOps = append(reqs.HistoricalOps, HistoricalOp{Symbol: symbol, Interval: interval, Days: days})
		}
	}
	sort.Slice(reqs.HistoricalOps, func(i, j int) bool {
		a, b := reqs.HistoricalOps[i], reqs.HistoricalOps[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Interval.Seconds() < b.Interval.Seconds()
	})

	// quality ops: one per distinct symbol touched, gated by config flag
	touched := make(map[string]bool)
	for s := range reqs.SymbolOps {
		touched[s] = true
	}
	for _, op := range reqs.IntervalOps {
		touched[op.Symbol] = true
	}
	symbols := make([]string, 0, len(touched))
	for s := range touched {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		reqs.QualityOps = append(reqs.QualityOps, QualityOp{Symbol: s, Compute: cfg.SessionDataConfig.Historical.EnableQuality})
	}

	return reqs
}

func resolveSymbolOp(reqs *ProvisioningRequirements, snap Snapshot, symbol string) {
	if _, already := reqs.SymbolOps[symbol]; already {
		return
	}
	switch {
	case !snap.HasSymbol(symbol):
		reqs.SymbolOps[symbol] = SymbolOpCreate
	case snap.IsSymbolAdhocOnly(symbol):
		reqs.SymbolOps[symbol] = SymbolOpUpgrade
	default:
		reqs.SymbolOps[symbol] = SymbolOpNoop
	}
}

func resolveIndicatorOp(
	reqs *ProvisioningRequirements,
	snap Snapshot,
	ask Ask,
	streamed map[types.Interval]bool,
	requestHistorical func(symbol string, interval types.Interval, days int),
	seen map[string]bool,
) {
	cfg := ask.Indicator
	identity := cfg.Identity()
	dedupKey := ask.Symbol + "|" + identity

	if seen[dedupKey] || snap.HasIndicator(ask.Symbol, identity) {
		reqs.addWarning(fmt.Sprintf("duplicate indicator %s on %s: noop", identity, ask.Symbol))
		reqs.IndicatorOps = append(reqs.IndicatorOps, IndicatorOp{Symbol: ask.Symbol, Config: cfg, Identity: identity, Noop: true})
		return
	}
	seen[dedupKey] = true

	target := cfg.Interval

	if streamed[target] || snap.HasInterval(ask.Symbol, target) {
		// target is already streamed or provisioned; nothing to provision
		// beyond the indicator registration itself.
	} else {
		// find the coarsest streamed interval that can feed target
		best, ok := coarsestDerivableSource(target, streamed)
		if !ok {
			reqs.addError(fmt.Errorf("%w: no streamed interval can feed %s on %s", types.ErrNoDerivationPath, target, ask.Symbol))
			return
		}
		reqs.IntervalOps = append(reqs.IntervalOps, IntervalOp{
			Symbol:      ask.Symbol,
			Interval:    target,
			Kind:        IntervalOpAddDerived,
			DerivedFrom: best,
		})
		streamed[target] = true
	}

	warmupBars := cfg.WarmupBars()
	reqs.IndicatorOps = append(reqs.IndicatorOps, IndicatorOp{
		Symbol:     ask.Symbol,
		Config:     cfg,
		Identity:   identity,
		WarmupBars: warmupBars,
	})

	days := int(math.Ceil(float64(warmupBars) * float64(target.Seconds()) / tradingDaySeconds))
	if days < 1 {
		days = 1
	}
	requestHistorical(ask.Symbol, target, days)
}

// coarsestDerivableSource returns the streamed interval with the largest
// seconds-length that target.DerivableFrom() is true for.
func coarsestDerivableSource(target types.Interval, streamed map[types.Interval]bool) (types.Interval, bool) {
	var best types.Interval
	found := false
	for candidate := range streamed {
		if !target.DerivableFrom(candidate) {
			continue
		}
		if !found || candidate.Seconds() > best.Seconds() {
			best = candidate
			found = true
		}
	}
	return best, found
}

// AsksForConfigBoot walks the session config template and produces the
// full set of asks for cold boot or mid-session upgrade of every
// config-declared symbol — the same function handles both (spec.md §4.3).
func AsksForConfigBoot(cfg config.SessionConfig) []Ask {
	var asks []Ask

	for _, symbol := range cfg.SessionDataConfig.Symbols {
		asks = append(asks, Ask{Symbol: symbol, Kind: AskSymbol})

		for _, stream := range cfg.SessionDataConfig.Streams {
			if stream.Kind == types.StreamKindBar {
				asks = append(asks, Ask{Symbol: symbol, Kind: AskBarInterval, Interval: stream.Interval})
			}
		}

		for _, hist := range cfg.SessionDataConfig.Historical.Data {
			if !hist.AppliesToAll() && !contains(hist.ApplyTo, symbol) {
				continue
			}
			for _, interval := range hist.Intervals {
				asks = append(asks, Ask{Symbol: symbol, Kind: AskBarInterval, Interval: interval, ExplicitHistoricalDays: hist.TrailingDays})
			}
		}

		names := make([]string, 0, len(cfg.SessionDataConfig.Historical.Indicators))
		for name := range cfg.SessionDataConfig.Historical.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			asks = append(asks, Ask{Symbol: symbol, Kind: AskIndicator, Indicator: cfg.SessionDataConfig.Historical.Indicators[name]})
		}
	}

	return asks
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
