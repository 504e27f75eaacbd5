package coordinator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/pkg/requirement"
	"github.com/marketsession/engine/pkg/types"
)

// attachStream starts a prefetch-backed queue for key covering
// [from, sessionClose) and wires it into the StreamCoordinator merge.
// Historical prefetch (init, catch-up) and live/backtest current-session
// prefetch both go through the same call: the only difference is the
// window they request.
func (c *Coordinator) attachStream(ctx context.Context, key types.StreamKey, from, sessionClose time.Time) {
	handle := c.prefetch.StartPrefetch(ctx, key, sessionClose, from)
	c.feed.AttachStream(key, handle.Ch)
}

func (c *Coordinator) detachStream(key types.StreamKey) {
	c.feed.DetachStream(key)
}

// enactPending drains SessionData's queued stream-attachment requests and
// wires (or unwires) each one, using the current session's remaining
// window as the load range. This is called once during initialization
// (for the config-boot template) and once per streaming-loop iteration
// (for adhoc adds discovered mid-session).
func (c *Coordinator) enactPending(ctx context.Context, now, sessionClose time.Time) {
	ops := c.sd.DrainPending()
	for _, pp := range ops {
		op := pp.Op
		key := types.StreamKey{Symbol: op.Symbol, Kind: op.Kind, Interval: op.Interval}
		if op.Attach {
			c.attachStream(ctx, key, now, sessionClose)
			log.WithFields(log.Fields{"symbol": op.Symbol, "kind": op.Kind, "interval": op.Interval}).Info("coordinator: attached stream")
		} else {
			c.detachStream(key)
			log.WithFields(log.Fields{"symbol": op.Symbol, "kind": op.Kind, "interval": op.Interval}).Info("coordinator: detached stream")
		}
	}
}

// enactHistorical runs every HistoricalOp in reqs: a bounded-window
// prefetch per (symbol, interval), grouped by calendar day and promoted
// into SessionData's historical record.
//
// The channel must be drained before Wait is consulted: Handle.Ch is a
// bounded queue (prefetch.QueueCapacity), and a historical window can
// easily hold more items than that capacity, so waiting for completion
// before reading would deadlock the loader against its own full queue.
// Ranging over the channel first is itself the drain; by the time it
// closes the load has already finished, so the trailing Wait call only
// recovers the LoadResult and never blocks.
func (c *Coordinator) enactHistorical(ctx context.Context, ops []requirement.HistoricalOp, sessionOpen time.Time) {
	for _, op := range ops {
		from := sessionOpen.AddDate(0, 0, -op.Days)
		key := types.StreamKey{Symbol: op.Symbol, Kind: types.StreamKindBar, Interval: op.Interval}
		handle := c.prefetch.StartPrefetch(ctx, key, sessionOpen, from)

		byDate := make(map[string][]types.Bar)
		for item := range handle.Ch {
			if item.Bar == nil {
				continue
			}
			dateKey := item.Bar.Timestamp.Format("2006-01-02")
			byDate[dateKey] = append(byDate[dateKey], *item.Bar)
		}

		for date, bars := range byDate {
			if err := c.sd.AddHistoricalBars(op.Symbol, op.Interval, date, bars, c.trailingDaysCap); err != nil {
				log.WithError(err).WithFields(log.Fields{"symbol": op.Symbol, "interval": op.Interval, "date": date}).Error("coordinator: failed to promote historical bars")
			}
		}

		res := handle.Wait(DefaultPrefetchTimeout)
		if res.TimedOut {
			log.WithFields(log.Fields{"symbol": op.Symbol, "interval": op.Interval}).Warn("coordinator: historical prefetch wait timed out after drain")
		}
		if res.Err != nil {
			log.WithError(res.Err).WithFields(log.Fields{"symbol": op.Symbol, "interval": op.Interval}).Warn("coordinator: historical prefetch reported an error")
		}
	}
}

// applyRequirements is the shared tail end of every provisioning path
// (config boot and each adhoc entry point): register derivations and
// session-open bookkeeping with the quality manager, run historical
// backfill, wire any newly-queued streams, then — if any symbol asked for
// quality computation — run one immediate sweep rather than waiting for
// the quality manager's next periodic wake, so a freshly backfilled
// symbol has gap/quality scoring available before the first bar streams.
func (c *Coordinator) applyRequirements(ctx context.Context, reqs *requirement.ProvisioningRequirements, now, sessionOpen, sessionClose time.Time) {
	for _, op := range reqs.IntervalOps {
		if op.Kind == requirement.IntervalOpAddDerived {
			c.qualityM.RegisterDerivation(op.Symbol, op.Interval, op.DerivedFrom)
		}
	}
	for symbol := range reqs.SymbolOps {
		c.qualityM.SetSessionOpen(symbol, sessionOpen)
	}

	c.enactHistorical(ctx, reqs.HistoricalOps, sessionOpen)
	c.enactPending(ctx, now, sessionClose)

	for _, op := range reqs.QualityOps {
		if op.Compute {
			c.qualityM.Sweep(ctx)
			break
		}
	}
}

// addSymbolUnified is the unified adhoc entry point for provisioning a new
// symbol mid-session (spec.md §4.4: "add_symbol_unified"). It pauses
// streaming while historical catch-up runs, matching §5's "the same gate
// internally" rule, then resumes.
func (c *Coordinator) addSymbolUnified(ctx context.Context, symbol string) (*requirement.ProvisioningRequirements, error) {
	return c.withCatchUpPause(ctx, func() (*requirement.ProvisioningRequirements, error) {
		return c.sd.AddSymbol(symbol)
	})
}

// addBarUnified provisions a new streamed base interval on an existing (or
// new) symbol.
func (c *Coordinator) addBarUnified(ctx context.Context, symbol string, interval types.Interval, historicalDays int) (*requirement.ProvisioningRequirements, error) {
	return c.withCatchUpPause(ctx, func() (*requirement.ProvisioningRequirements, error) {
		return c.sd.AddBarInterval(symbol, interval, historicalDays)
	})
}

// addIndicatorUnified provisions an indicator, possibly discovering a
// derivation path or a fresh historical backfill is needed.
func (c *Coordinator) addIndicatorUnified(ctx context.Context, symbol string, cfg types.IndicatorConfig) (*requirement.ProvisioningRequirements, error) {
	return c.withCatchUpPause(ctx, func() (*requirement.ProvisioningRequirements, error) {
		return c.sd.AddIndicator(symbol, cfg)
	})
}

// withCatchUpPause runs enact over a gate closure so the streaming loop
// halts mid-session while historical data for the new ask is loaded and
// caught up to the current clock (spec.md §5). Only meaningful once
// streaming has started; before that the gate is irrelevant since the
// loop hasn't begun polling it.
func (c *Coordinator) withCatchUpPause(ctx context.Context, enact func() (*requirement.ProvisioningRequirements, error)) (*requirement.ProvisioningRequirements, error) {
	wasStreaming := c.GetState() == Streaming
	if wasStreaming {
		c.pauseGate.Close()
		defer c.pauseGate.Open()
	}

	reqs, err := enact()
	if err != nil {
		return reqs, err
	}
	if reqs == nil || !reqs.CanProceed {
		return reqs, nil
	}

	now := c.tm.Now()
	sessionOpen := c.sd.CurrentSessionDate()
	c.applyRequirements(ctx, reqs, now, sessionOpen, c.currentSessionClose())
	return reqs, nil
}
