package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/statusdoc"
	"github.com/marketsession/engine/pkg/stream"
	"github.com/marketsession/engine/pkg/streamfeed"
	"github.com/marketsession/engine/pkg/types"
)

const idlePoll = 20 * time.Millisecond

// runLoop drives the nine-step streaming loop (spec.md §4.4) until it
// transitions out of Streaming: Terminating (stop requested) or
// SessionEnded (backtest close reached, or the feed drained).
func (c *Coordinator) runLoop(ctx context.Context) {
	for {
		// 1. stop_requested check.
		if c.stopWasRequested() {
			return
		}

		// 2. pause gate.
		if err := c.pauseGate.Wait(ctx); err != nil {
			return
		}
		if c.stopWasRequested() {
			return
		}

		now := c.tm.Now()
		sessionClose := c.currentSessionClose()

		// 3. drain pending dynamic-provisioning requests.
		c.enactPending(ctx, now, sessionClose)

		// 4. backtest close-time check.
		if c.cfg.Mode == types.ModeBacktest && !now.Before(sessionClose) {
			c.setState(SessionEnded)
			c.writeStatusIfConfigured(now)
			return
		}

		// 5. next item from the StreamCoordinator merge.
		item, status := c.feed.Next()
		switch status {
		case streamfeed.Drained:
			c.setState(SessionEnded)
			c.writeStatusIfConfigured(now)
			return
		case streamfeed.Empty:
			c.idle(ctx)
			continue
		}

		// 6. window + staleness filter.
		if c.shouldDiscard(item, now, sessionClose) {
			continue
		}

		// 7. append; OutOfOrder is logged and skipped, not fatal.
		if err := c.appendItem(item); err != nil {
			if errors.Is(err, types.ErrOutOfOrder) {
				log.WithError(err).WithField("key", item.Key.String()).Warn("coordinator: out-of-order item skipped")
			} else {
				log.WithError(err).WithField("key", item.Key.String()).Error("coordinator: append failed")
			}
			continue
		}

		// 8. advance the clock — the only place it moves during streaming.
		c.advanceClock(item)

		c.scanners.Tick(ctx, c.tm.Now())

		// 9. notify downstream, and wait for its ack in data-driven mode.
		c.notifyDownstream(ctx)

		c.maybeWriteStatus(now)
	}
}

// maybeWriteStatus writes the status document every statusEveryN
// iterations, if WithStatusDocument was configured. A nil writer keeps
// this free for callers that never opted in.
func (c *Coordinator) maybeWriteStatus(now time.Time) {
	if c.statusWriter == nil {
		return
	}
	c.iterationCount++
	if c.iterationCount%int64(c.statusEveryN) != 0 {
		return
	}
	c.writeStatus(now)
}

// writeStatusIfConfigured always writes on a SessionEnded transition
// (spec.md's "written after every SessionEnded entry"), independent of
// the iteration-count cadence maybeWriteStatus applies mid-session.
func (c *Coordinator) writeStatusIfConfigured(now time.Time) {
	if c.statusWriter == nil {
		return
	}
	c.writeStatus(now)
}

func (c *Coordinator) writeStatus(now time.Time) {
	c.mu.Lock()
	resolvedConfig := c.resolvedConfig
	c.mu.Unlock()

	symbols := c.sd.GetActiveSymbols()
	snapshot := statusdoc.BuildSnapshot(
		now,
		c.sd.CurrentSessionDate(),
		c.GetState().String(),
		symbols,
		func(symbol string) types.SessionMetrics {
			m, _ := c.sd.GetSessionMetrics(symbol)
			return m
		},
		c.qualityM,
		c.scanners,
		c.tm,
		c.notify.Overruns(),
		resolvedConfig,
	)
	c.statusWriter.Write(snapshot)
}

// idle is the live/backtest "nothing ready right now" pause: a short sleep
// so the loop doesn't spin while prefetch queues refill.
func (c *Coordinator) idle(ctx context.Context) {
	timer := time.NewTimer(idlePoll)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// shouldDiscard implements step 6: items outside today's open-close window,
// or older than now() minus the stale threshold (mid-session start
// catch-up noise, spec.md §5), are dropped before ever reaching SessionData.
func (c *Coordinator) shouldDiscard(item types.Item, now, sessionClose time.Time) bool {
	sessionOpen := c.sd.CurrentSessionDate()
	if item.Timestamp.Before(sessionOpen) || !item.Timestamp.Before(sessionClose) {
		log.WithField("key", item.Key.String()).Debug("coordinator: item outside session window, discarding")
		return true
	}
	if item.Timestamp.Before(now.Add(-c.staleThreshold)) {
		log.WithField("key", item.Key.String()).Debug("coordinator: stale item discarded")
		return true
	}
	return false
}

func (c *Coordinator) appendItem(item types.Item) error {
	switch item.Key.Kind {
	case types.StreamKindBar:
		return c.sd.AppendBar(item.Key.Symbol, item.Key.Interval, *item.Bar, sessiondata.SourceStream)
	case types.StreamKindTick:
		return c.sd.AppendTick(item.Key.Symbol, *item.Tick)
	case types.StreamKindQuote:
		return c.sd.AppendQuote(item.Key.Symbol, *item.Quote)
	default:
		return errors.Errorf("unknown stream kind %q", item.Key.Kind)
	}
}

// advanceClock is a no-op in live mode, where TimeManager tracks real wall
// time and SetBacktestTime is refused.
func (c *Coordinator) advanceClock(item types.Item) {
	if c.cfg.Mode == types.ModeLive {
		return
	}

	t := item.Timestamp
	if item.Bar != nil {
		t = item.Bar.EndTime(item.Key.Interval)
	}
	if err := c.tm.SetBacktestTime(t, false); err != nil {
		log.WithError(err).Warn("coordinator: clock advance rejected")
	}
}

// notifyDownstream is step 9: Reset+Signal the notify subscription
// (coordinator is its sole writer), then, only in data-driven mode, wait
// for the downstream's ack before the next iteration may notify again —
// satisfying spec.md §5's "at most one unacknowledged item delivered at
// any time".
func (c *Coordinator) notifyDownstream(ctx context.Context) {
	c.notify.Reset()
	c.notify.Signal()

	if c.notify.Mode() != stream.ModeDataDriven {
		return
	}

	result, err := c.ack.Wait(ctx, 0)
	if err != nil {
		log.WithError(err).Warn("coordinator: wait for downstream ack failed")
		return
	}
	if result == stream.Signalled {
		c.ack.Reset()
	}
}
