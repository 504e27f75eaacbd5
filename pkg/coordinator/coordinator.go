// Package coordinator implements the SessionCoordinator (spec.md §4.4):
// the top-level state machine that owns TimeManager, SessionData, the
// StreamCoordinator merge, the DataQualityManager, the PrefetchWorker and
// the ScannerManager, and drives the streaming loop that ties them
// together.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/prefetch"
	"github.com/marketsession/engine/pkg/quality"
	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/scanner"
	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/statusdoc"
	"github.com/marketsession/engine/pkg/stream"
	"github.com/marketsession/engine/pkg/streamfeed"
	"github.com/marketsession/engine/pkg/timeutil"
	"github.com/marketsession/engine/pkg/types"
)

// Defaults the constructor falls back to when a SessionConfig leaves the
// corresponding knob at its zero value.
const (
	DefaultStaleThreshold  = 5 * time.Minute
	DefaultPrefetchTimeout = 30 * time.Second
	DefaultQualityWake     = time.Second
	DefaultShutdownWindow  = 10 * time.Second
	DefaultLiveScannerPool = 4

	defaultRateInterval = 100 * time.Millisecond
	defaultRateBurst    = 5
)

// Coordinator is the SessionCoordinator. One instance drives exactly one
// session config: Start blocks the calling goroutine until the session
// ends (backtest, after rolling through every configured day) or Stop is
// called (live).
type Coordinator struct {
	cfg  config.SessionConfig
	repo repository.Repository

	sd       *sessiondata.SessionData
	tm       *timeutil.TimeManager
	qualityM *quality.Manager
	scanners *scanner.Manager
	prefetch *prefetch.Worker
	feed     *streamfeed.Coordinator

	pauseGate *stream.PauseGate

	// notify is the StreamSubscription a DownstreamProcessor subscribes to
	// (spec.md §6): the coordinator is its sole writer (Reset+Signal each
	// iteration), the downstream its sole reader (Wait). ack is the
	// reverse channel: the downstream is its sole writer (reset()+signal()
	// "back to the coordinator" per spec.md §6, in data-driven mode), the
	// coordinator its sole reader. Splitting the handshake into two
	// single-writer objects avoids a double-wait deadlock that a single
	// shared Subscription cannot resolve: the coordinator's own Signal()
	// and the downstream's ack both flow through the same mutex-guarded
	// "waiting" flag, so a literal single-object ping-pong would have the
	// coordinator's post-Signal Wait() race the downstream's Reset() and
	// fail with IllegalState almost every time.
	notify *stream.Subscription
	ack    *stream.Subscription

	staleThreshold  time.Duration
	trailingDaysCap int
	shutdownWindow  time.Duration

	mu            sync.Mutex
	state         State
	stopRequested bool
	session       repository.TradingSession

	qualityCancel context.CancelFunc
	qualityDone   chan struct{}

	statusWriter   *statusdoc.Writer
	statusEveryN   int
	iterationCount int64
	resolvedConfig json.RawMessage
}

// Option configures optional Coordinator behavior at construction.
type Option func(*Coordinator)

// WithStatusDocument enables the observable status document (spec.md §6):
// every statusEveryN streaming-loop iterations (and once after every
// SessionEnded transition), a Snapshot is written to path. A non-positive
// statusEveryN falls back to statusdoc.DefaultWriteEveryN.
func WithStatusDocument(path string, statusEveryN int) Option {
	return func(c *Coordinator) {
		if statusEveryN <= 0 {
			statusEveryN = statusdoc.DefaultWriteEveryN
		}
		c.statusWriter = statusdoc.NewWriter(path)
		c.statusEveryN = statusEveryN
	}
}

func (c *Coordinator) currentSessionClose() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.RegularClose
}

// New constructs a Coordinator in the Stopped state. downstreamMode
// selects the wait semantics of the notify and ack Subscriptions (spec.md §4.8);
// callers in live mode should pass stream.ModeLive, backtest callers
// stream.ModeDataDriven or stream.ModeClockDriven depending on
// cfg.Backtest.SpeedMultiplier.
func New(cfg config.SessionConfig, repo repository.Repository, loc *time.Location, downstreamMode stream.Mode, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tm := timeutil.New(cfg.Mode, loc, repo)
	sd := sessiondata.New(cfg)

	liveScannerPool := int64(DefaultLiveScannerPool)

	resolvedConfig, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal resolved session config")
	}

	c := &Coordinator{
		cfg:             cfg,
		repo:            repo,
		sd:              sd,
		tm:              tm,
		qualityM:        quality.New(sd, repo, tm, cfg.SessionDataConfig.GapFiller, cfg.Mode),
		scanners:        scanner.New(sd, tm, cfg.Mode, liveScannerPool),
		prefetch:        prefetch.New(repo, defaultRateInterval, defaultRateBurst),
		feed:            streamfeed.New(),
		pauseGate:       stream.NewPauseGate(),
		notify:          stream.New(downstreamMode),
		ack:             stream.New(downstreamMode),
		staleThreshold:  cfg.SessionDataConfig.StaleThreshold,
		trailingDaysCap: trailingDaysCap(cfg),
		shutdownWindow:  DefaultShutdownWindow,
		state:           Stopped,
		resolvedConfig:  resolvedConfig,
	}
	if c.staleThreshold <= 0 {
		c.staleThreshold = DefaultStaleThreshold
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ApplyConfigDelta merges an adhoc provisioning delta into the status
// document's resolved-config snapshot (spec.md §6). It does not affect the
// live SessionConfig the coordinator already built its collaborators from
// — only the document's record of what has been asked for since boot.
func (c *Coordinator) ApplyConfigDelta(delta json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged, err := statusdoc.ApplyConfigDelta(c.resolvedConfig, delta)
	if err != nil {
		return err
	}
	c.resolvedConfig = merged
	return nil
}

// trailingDaysCap is the widest trailing_days requested by any historical
// block in the config; SessionData.RollSession and AddHistoricalBars use
// it uniformly to bound retained history.
func trailingDaysCap(cfg config.SessionConfig) int {
	max := 0
	for _, h := range cfg.SessionDataConfig.Historical.Data {
		if h.TrailingDays > max {
			max = h.TrailingDays
		}
	}
	return max
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.WithFields(log.Fields{"from": c.state, "to": s}).Info("coordinator: state transition")
	c.state = s
}

// GetState returns the coordinator's current lifecycle state.
func (c *Coordinator) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionData exposes the shared store for callers that need read access
// (e.g. a downstream processor wiring itself up before Start).
func (c *Coordinator) SessionData() *sessiondata.SessionData { return c.sd }

// TimeManager exposes the shared clock authority.
func (c *Coordinator) TimeManager() *timeutil.TimeManager { return c.tm }

// Downstream exposes the subscription a DownstreamProcessor implementation
// waits on for new-data notifications (spec.md §6).
func (c *Coordinator) Downstream() *stream.Subscription { return c.notify }

// DownstreamAck exposes the subscription a DownstreamProcessor
// implementation resets and signals to acknowledge it has finished
// processing the current notification, in data-driven mode.
func (c *Coordinator) DownstreamAck() *stream.Subscription { return c.ack }

// Scanners exposes the ScannerManager so callers can Register scanners
// before Start.
func (c *Coordinator) Scanners() *scanner.Manager { return c.scanners }

// Stop requests a cooperative shutdown: the streaming loop checks the
// flag at the top of its next iteration and transitions to Terminating.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopRequested = true
	c.mu.Unlock()
	c.pauseGate.Open() // a paused loop must wake up to observe stop_requested
}

func (c *Coordinator) stopWasRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// Pause closes the streaming gate. Refused in live mode (spec.md §4.4:
// "live mode refuses pause").
func (c *Coordinator) Pause() error {
	if c.cfg.Mode == types.ModeLive {
		return errors.Wrap(types.ErrStateViolation, "pause is not permitted in live mode")
	}
	if c.GetState() != Streaming {
		return errors.Wrapf(types.ErrStateViolation, "pause requires state Streaming, got %s", c.GetState())
	}
	c.pauseGate.Close()
	c.setState(Paused)
	return nil
}

// Resume reopens the streaming gate.
func (c *Coordinator) Resume() error {
	if c.GetState() != Paused {
		return errors.Wrapf(types.ErrStateViolation, "resume requires state Paused, got %s", c.GetState())
	}
	c.pauseGate.Open()
	c.setState(Streaming)
	return nil
}

// IsPaused reports whether the coordinator is currently in the Paused
// state.
func (c *Coordinator) IsPaused() bool {
	return c.GetState() == Paused
}
