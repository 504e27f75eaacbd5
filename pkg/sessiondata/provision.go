package sessiondata

import (
	"time"

	"github.com/marketsession/engine/pkg/requirement"
	"github.com/marketsession/engine/pkg/types"
)

// The methods in this file implement requirement.Snapshot, letting
// SessionData be passed directly to requirement.Analyze without either
// package importing the other's concrete type.
var _ requirement.Snapshot = (*SessionData)(nil)

func (sd *SessionData) HasSymbol(symbol string) bool {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	_, ok := sd.symbols[symbol]
	return ok
}

func (sd *SessionData) IsSymbolAdhocOnly(symbol string) bool {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	_, exists := sd.symbols[symbol]
	return exists && !sd.configSymbols[symbol]
}

func (sd *SessionData) HasInterval(symbol string, interval types.Interval) bool {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return false
	}
	s.RLock()
	defer s.RUnlock()
	_, ok := s.Interval(interval)
	return ok
}

func (sd *SessionData) IsIntervalStreamed(symbol string, interval types.Interval) bool {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return false
	}
	s.RLock()
	defer s.RUnlock()
	data, ok := s.Interval(interval)
	return ok && !data.Derived
}

func (sd *SessionData) StreamedIntervals(symbol string) []types.Interval {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return nil
	}
	s.RLock()
	defer s.RUnlock()
	var out []types.Interval
	for _, iv := range s.Intervals() {
		if data, ok := s.Interval(iv); ok && !data.Derived {
			out = append(out, iv)
		}
	}
	return out
}

func (sd *SessionData) HasIndicator(symbol, identity string) bool {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return false
	}
	s.RLock()
	defer s.RUnlock()
	_, ok := s.Indicator(identity)
	return ok
}

// enactLocal applies every op in reqs that SessionData can resolve purely
// from its own in-memory state (symbol/interval/indicator bookkeeping),
// and queues the stream-attachment ops onto the pending-provisioning list
// for the coordinator's streaming loop to drain. Historical and quality
// ops are left in reqs for the caller. adhoc marks the new intervals as
// adhoc-provisioned and the new indicators' source as adhoc; false marks
// them as coming from the session config.
func (sd *SessionData) enactLocal(reqs *requirement.ProvisioningRequirements, adhoc bool) {
	for symbol, op := range reqs.SymbolOps {
		switch op {
		case requirement.SymbolOpCreate:
			sd.mu.Lock()
			sd.getOrCreateSymbol(symbol)
			sd.mu.Unlock()
		case requirement.SymbolOpUpgrade:
			sd.mu.Lock()
			sd.getOrCreateSymbol(symbol)
			sd.configSymbols[symbol] = true
			sd.mu.Unlock()
		}
	}

	for _, op := range reqs.IntervalOps {
		if op.Kind == requirement.IntervalOpNoop {
			continue
		}
		recs, release := sd.lockSymbols(op.Symbol)
		recs[0].EnsureInterval(op.Interval, op.Kind == requirement.IntervalOpAddDerived, adhoc)
		release()
	}

	source := types.IndicatorSourceAdhoc
	if !adhoc {
		source = types.IndicatorSourceConfig
	}
	for _, op := range reqs.IndicatorOps {
		if op.Noop {
			continue
		}
		recs, release := sd.lockSymbols(op.Symbol)
		recs[0].PutIndicator(&types.IndicatorMetadata{
			Identity:   op.Identity,
			Config:     op.Config,
			Source:     source,
			WarmupBars: op.WarmupBars,
		})
		release()
	}

	sd.pendingMu.Lock()
	defer sd.pendingMu.Unlock()
	for _, op := range reqs.SessionQueueOps {
		op := op
		sd.pending = append(sd.pending, PendingProvisioning{Op: op})
	}
}

// DrainPending returns and clears every queued stream-attachment request.
// Called once per streaming-loop iteration by the coordinator.
func (sd *SessionData) DrainPending() []PendingProvisioning {
	sd.pendingMu.Lock()
	defer sd.pendingMu.Unlock()
	out := sd.pending
	sd.pending = nil
	return out
}

// Boot runs the RequirementAnalyzer over the session config's full symbol
// and stream/indicator template, enacting everything it can resolve
// locally. The returned requirements still carry HistoricalOps and
// QualityOps for the coordinator's initializer to enact against the
// repository and the quality manager — SessionData has no knowledge of
// either.
func (sd *SessionData) Boot() *requirement.ProvisioningRequirements {
	asks := requirement.AsksForConfigBoot(sd.cfg)
	reqs := requirement.Analyze(asks, sd, sd.cfg)
	if reqs.CanProceed {
		sd.enactLocal(reqs, false)
	}
	return reqs
}

// AddSymbol is the unified adhoc entry point for provisioning a new symbol
// mid-session: it runs the RequirementAnalyzer over a single AskSymbol and
// enacts whatever it resolves.
func (sd *SessionData) AddSymbol(symbol string) (*requirement.ProvisioningRequirements, error) {
	reqs := requirement.Analyze([]requirement.Ask{{Symbol: symbol, Kind: requirement.AskSymbol}}, sd, sd.cfg)
	if reqs.CanProceed {
		sd.enactLocal(reqs, true)
	}
	return reqs, nil
}

// AddBarInterval provisions a new streamed base interval on an existing
// (or new) symbol.
func (sd *SessionData) AddBarInterval(symbol string, interval types.Interval, historicalDays int) (*requirement.ProvisioningRequirements, error) {
	reqs := requirement.Analyze([]requirement.Ask{
		{Symbol: symbol, Kind: requirement.AskSymbol},
		{Symbol: symbol, Kind: requirement.AskBarInterval, Interval: interval, ExplicitHistoricalDays: historicalDays},
	}, sd, sd.cfg)
	if reqs.CanProceed {
		sd.enactLocal(reqs, true)
	}
	return reqs, nil
}

// AddIndicator is the key entry point spec.md §4.3 describes: it invokes
// the RequirementAnalyzer (possibly discovering a derivation path or a
// fresh historical backfill is needed) and enacts everything it can
// resolve locally, queuing stream attachment for the coordinator and
// returning the historical/quality follow-up in the requirements.
func (sd *SessionData) AddIndicator(symbol string, cfg types.IndicatorConfig) (*requirement.ProvisioningRequirements, error) {
	reqs := requirement.Analyze([]requirement.Ask{
		{Symbol: symbol, Kind: requirement.AskSymbol},
		{Symbol: symbol, Kind: requirement.AskIndicator, Indicator: cfg},
	}, sd, sd.cfg)
	if reqs.CanProceed {
		sd.enactLocal(reqs, true)
	}
	return reqs, nil
}

// RemoveSymbolAdhoc removes a symbol that was provisioned purely adhoc
// (neither declared in the session config nor upgraded). Removing a config
// symbol is rejected as a state violation — the config symbol set is only
// ever changed by a fresh session config, not an adhoc call.
func (sd *SessionData) RemoveSymbolAdhoc(symbol string) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.configSymbols[symbol] {
		return errorStateViolation(symbol)
	}
	delete(sd.symbols, symbol)
	delete(sd.configSymbols, symbol)

	for key := range sd.activeStreams {
		if key.Symbol == symbol {
			delete(sd.activeStreams, key)
		}
	}

	return nil
}

func errorStateViolation(symbol string) error {
	return &types.ReportedError{
		Phase:   types.PhaseStreaming,
		Symbols: []string{symbol},
		Kind:    types.KindStateViolation,
		Cause:   types.ErrStateViolation,
	}
}

func (sd *SessionData) CurrentSessionDate() time.Time {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.currentSessionDate
}
