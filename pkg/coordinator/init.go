package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/types"
)

// Start runs the coordinator to completion: Initializing, PreSessionScanning,
// Streaming (and Paused, via Pause/Resume) for one trading day, then either
// rolls to the next configured backtest day or terminates. It blocks the
// calling goroutine; call Stop from another goroutine to end it early.
func (c *Coordinator) Start(ctx context.Context) error {
	c.setState(Initializing)

	date, err := c.firstSessionDate(ctx)
	if err != nil {
		c.setState(Terminating)
		return types.NewReportedError(types.PhaseInitialization, types.KindFatalInit, err)
	}

	for {
		if err := c.initializeForDate(ctx, date); err != nil {
			c.setState(Terminating)
			return err
		}

		c.setState(PreSessionScanning)
		c.scanners.RunPreSession(ctx, c.tm.Now())

		c.startQualityManager(ctx)
		c.setState(Streaming)
		c.runLoop(ctx)

		c.stopQualityManager()
		c.scanners.Shutdown(ctx, c.tm.Now())
		c.sd.DeactivateSession()

		if c.stopWasRequested() {
			c.setState(Terminating)
			return nil
		}

		if !c.moreDaysRemain(date) {
			c.setState(Terminating)
			return nil
		}

		if err := c.sd.RollSession(date, c.trailingDaysCap); err != nil {
			c.setState(Terminating)
			return types.NewReportedError(types.PhaseTeardown, types.KindFatalInit, err)
		}

		next, err := c.tm.GetNextTradingDate(ctx, date, 1, c.cfg.ExchangeGroup, c.cfg.AssetClass)
		if err != nil {
			c.setState(Terminating)
			return types.NewReportedError(types.PhaseTeardown, types.KindFatalInit, err)
		}
		date = next
		c.setState(Initializing)
	}
}

func (c *Coordinator) firstSessionDate(ctx context.Context) (time.Time, error) {
	if c.cfg.Mode == types.ModeBacktest {
		return c.tm.GetFirstTradingDate(ctx, c.cfg.Backtest.StartDate, c.cfg.ExchangeGroup, c.cfg.AssetClass)
	}
	return c.tm.GetFirstTradingDate(ctx, time.Now(), c.cfg.ExchangeGroup, c.cfg.AssetClass)
}

func (c *Coordinator) moreDaysRemain(currentDate time.Time) bool {
	if c.cfg.Mode != types.ModeBacktest || c.cfg.Backtest == nil {
		return false
	}
	return currentDate.Before(c.cfg.Backtest.EndDate)
}

// initializeForDate is the Initializing state's entry action: resolve the
// day's trading-session hours, reset SessionData for the new day, boot
// every config-declared symbol/stream/indicator through the
// RequirementAnalyzer, and enact whatever it resolves (historical
// backfill, derived-interval registration, stream attachment).
func (c *Coordinator) initializeForDate(ctx context.Context, date time.Time) error {
	session, err := c.tm.GetTradingSession(ctx, date, c.cfg.ExchangeGroup, c.cfg.AssetClass)
	if err != nil {
		return types.NewReportedError(types.PhaseInitialization, types.KindFatalInit, err)
	}
	if !session.IsTradingDay {
		return types.NewReportedError(types.PhaseInitialization, types.KindFatalInit,
			errors.Wrapf(types.ErrFatalInit, "date %s is not a trading day", date.Format("2006-01-02")))
	}

	c.mu.Lock()
	c.session = session
	c.stopRequested = false
	c.mu.Unlock()

	if c.cfg.Mode != types.ModeLive {
		if err := c.tm.SetBacktestTime(session.RegularOpen, true); err != nil {
			return types.NewReportedError(types.PhaseInitialization, types.KindFatalInit, err)
		}
	}

	if err := c.sd.StartNewSession(session.RegularOpen); err != nil {
		return types.NewReportedError(types.PhaseInitialization, types.KindFatalInit, err)
	}
	c.sd.ActivateSession()

	reqs := c.sd.Boot()
	for _, w := range reqs.ValidationWarnings {
		log.Warn("coordinator: " + w)
	}
	if !reqs.CanProceed {
		return types.NewReportedError(types.PhaseInitialization, types.KindValidation,
			multierr.Combine(reqs.ValidationErrors...), c.cfg.SessionDataConfig.Symbols...)
	}

	c.applyRequirements(ctx, reqs, c.tm.Now(), session.RegularOpen, session.RegularClose)
	c.attachNonBarStreams(ctx, session)

	return nil
}

// attachNonBarStreams wires tick/quote streams declared in config: these
// never go through the RequirementAnalyzer (it only resolves bar-interval
// derivation paths), so the coordinator attaches them directly.
func (c *Coordinator) attachNonBarStreams(ctx context.Context, session repository.TradingSession) {
	for _, symbol := range c.cfg.SessionDataConfig.Symbols {
		for _, desc := range c.cfg.SessionDataConfig.Streams {
			if desc.Kind == types.StreamKindBar {
				continue
			}
			key := types.StreamKey{Symbol: symbol, Kind: desc.Kind}
			c.attachStream(ctx, key, session.RegularOpen, session.RegularClose)
		}
	}
}

func (c *Coordinator) startQualityManager(ctx context.Context) {
	qctx, cancel := context.WithCancel(ctx)
	c.qualityCancel = cancel
	c.qualityDone = make(chan struct{})
	go func() {
		defer close(c.qualityDone)
		c.qualityM.Run(qctx, DefaultQualityWake)
	}()
}

func (c *Coordinator) stopQualityManager() {
	if c.qualityCancel == nil {
		return
	}
	c.qualityCancel()
	select {
	case <-c.qualityDone:
	case <-time.After(c.shutdownWindow):
		log.Warn("coordinator: quality manager did not stop within shutdown window")
	}
	c.qualityCancel = nil
}
