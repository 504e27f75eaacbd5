package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/gertd/go-pluralize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/timeutil"
	"github.com/marketsession/engine/pkg/types"
)

var plural = pluralize.NewClient()

// window is a parsed config.ScheduleWindow: start/end as time-of-day
// durations since midnight, so comparison against "now" never depends on
// the session date.
type window struct {
	start    time.Duration
	end      time.Duration
	interval time.Duration
}

func parseTimeOfDay(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func (w window) contains(tod time.Duration) bool {
	return tod >= w.start && tod <= w.end
}

// instance is one scanner's lifecycle record.
type instance struct {
	mu    sync.Mutex
	name  string
	s     Scanner
	cfg   config.ScannerConfig
	state State

	preSession bool
	windows    []window

	nextScanTime time.Time
	running      bool
}

// Manager is the ScannerManager. In backtest, scan hooks run on the
// calling goroutine and block the clock; in live, Tick dispatches each due
// scanner onto a bounded pool so the streaming loop is never blocked by a
// slow scan.
type Manager struct {
	sd   *sessiondata.SessionData
	tm   *timeutil.TimeManager
	mode types.Mode

	mu        sync.Mutex
	instances []*instance

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New constructs a Manager. liveConcurrency bounds the number of scanner
// tasks that may run concurrently in live mode (spec.md §4.9's "small
// pool"); it is ignored in backtest, where hooks always run inline.
func New(sd *sessiondata.SessionData, tm *timeutil.TimeManager, mode types.Mode, liveConcurrency int64) *Manager {
	if liveConcurrency < 1 {
		liveConcurrency = 1
	}
	return &Manager{
		sd:   sd,
		tm:   tm,
		mode: mode,
		sem:  semaphore.NewWeighted(liveConcurrency),
	}
}

// Register adds a scanner under cfg's schedule. name is used in log lines
// and status reporting only.
func (m *Manager) Register(name string, cfg config.ScannerConfig, s Scanner) error {
	windows := make([]window, 0, len(cfg.RegularSession))
	for _, w := range cfg.RegularSession {
		start, err := parseTimeOfDay(w.Start)
		if err != nil {
			return err
		}
		end, err := parseTimeOfDay(w.End)
		if err != nil {
			return err
		}
		windows = append(windows, window{start: start, end: end, interval: w.Interval})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = append(m.instances, &instance{
		name:       name,
		s:          s,
		cfg:        cfg,
		state:      Initialized,
		preSession: cfg.PreSession,
		windows:    windows,
	})
	return nil
}

func (m *Manager) scanContext(now time.Time, cfg config.ScannerConfig) Context {
	return Context{
		SessionData: m.sd,
		TimeManager: m.tm,
		Mode:        m.mode,
		Now:         now,
		Config:      cfg.Config,
	}
}

// RunPreSession runs setup + one scan for every scanner with PreSession
// set, sequentially, regardless of mode (pre-session scanning always
// blocks coordinator startup).
func (m *Manager) RunPreSession(ctx context.Context, now time.Time) {
	m.mu.Lock()
	instances := append([]*instance(nil), m.instances...)
	m.mu.Unlock()

	for _, inst := range instances {
		if !inst.preSession {
			continue
		}
		m.setupAndScan(ctx, inst, now)
	}
}

// Tick is invoked once per coordinator streaming-loop iteration. For every
// registered scanner whose next_scan_time has arrived and who is inside one
// of its regular-session windows, it runs (or dispatches) a scan.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	instances := append([]*instance(nil), m.instances...)
	m.mu.Unlock()

	tod := timeOfDay(now)

	for _, inst := range instances {
		w, due := inst.dueWindow(now, tod)
		if !due {
			continue
		}

		if m.mode == types.ModeBacktest {
			m.setupAndScan(ctx, inst, now)
			inst.advance(now, w)
			continue
		}

		inst.mu.Lock()
		alreadyRunning := inst.running
		inst.mu.Unlock()
		if alreadyRunning {
			log.WithField("scanner", inst.name).Warn("scanner: previous scan still running, skipping this schedule")
			continue
		}

		if !m.sem.TryAcquire(1) {
			log.WithField("scanner", inst.name).Warn("scanner: live pool saturated, skipping this schedule")
			continue
		}

		inst.mu.Lock()
		inst.running = true
		inst.mu.Unlock()
		inst.advance(now, w)

		m.wg.Add(1)
		go func(inst *instance) {
			defer m.wg.Done()
			defer m.sem.Release(1)
			m.setupAndScan(ctx, inst, now)
			inst.mu.Lock()
			inst.running = false
			inst.mu.Unlock()
		}(inst)
	}
}

// dueWindow reports whether inst should scan right now: tod must fall
// inside one of its regular-session windows, and nextScanTime (zero on the
// first pass through a window) must not be in the future.
func (inst *instance) dueWindow(now time.Time, tod time.Duration) (window, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	for _, w := range inst.windows {
		if !w.contains(tod) {
			continue
		}
		if inst.nextScanTime.IsZero() || !inst.nextScanTime.After(now) {
			return w, true
		}
	}
	return window{}, false
}

// advance moves inst's next_scan_time forward by w's interval, so a scan
// already dispatched this tick is not dispatched again until the interval
// elapses (spec.md §4.9).
func (inst *instance) advance(now time.Time, w window) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	next := now.Add(w.interval)
	if w.interval <= 0 {
		next = now.Add(time.Minute)
	}
	inst.nextScanTime = next
}

// setupAndScan drives one scanner through setup (once) and a single scan,
// promoting every discovered symbol through SessionData's unified adhoc
// path. Errors move the instance to the terminal Error state.
func (m *Manager) setupAndScan(ctx context.Context, inst *instance, now time.Time) {
	runID := uuid.NewString()

	inst.mu.Lock()
	needsSetup := inst.state == Initialized
	if needsSetup {
		inst.state = SetupPending
	}
	inst.mu.Unlock()

	sctx := m.scanContext(now, inst.cfg)

	if needsSetup {
		ok, err := inst.s.Setup(sctx)
		if err != nil || !ok {
			inst.mu.Lock()
			inst.state = Error
			inst.mu.Unlock()
			log.WithError(err).WithField("scanner", inst.name).Error("scanner: setup failed")
			return
		}
		inst.mu.Lock()
		inst.state = SetupComplete
		inst.mu.Unlock()
	}

	inst.mu.Lock()
	inst.state = Scanning
	inst.mu.Unlock()

	result, err := inst.s.Scan(sctx)

	inst.mu.Lock()
	inst.state = ScanComplete
	inst.mu.Unlock()

	if err != nil {
		log.WithError(err).WithField("scanner", inst.name).Error("scanner: scan failed")
		return
	}

	for _, symbol := range result.Symbols {
		if _, err := m.sd.AddSymbol(symbol); err != nil {
			log.WithError(err).WithFields(log.Fields{"scanner": inst.name, "symbol": symbol}).Warn("scanner: symbol promotion failed")
		}
	}

	log.WithFields(log.Fields{
		"scanner": inst.name,
		"run_id":  runID,
	}).Infof("scanner: discovered %d %s", len(result.Symbols), plural.Pluralize("symbol", len(result.Symbols), false))
}

// Shutdown tears down every scanner that reached a non-terminal state,
// exactly once each, and waits for any in-flight live scans to finish.
func (m *Manager) Shutdown(ctx context.Context, now time.Time) {
	m.wg.Wait()

	m.mu.Lock()
	instances := append([]*instance(nil), m.instances...)
	m.mu.Unlock()

	for _, inst := range instances {
		inst.mu.Lock()
		state := inst.state
		inst.mu.Unlock()
		if state == Initialized || state == TeardownComplete || state == Error {
			continue
		}

		sctx := m.scanContext(now, inst.cfg)
		if err := inst.s.Teardown(sctx); err != nil {
			log.WithError(err).WithField("scanner", inst.name).Error("scanner: teardown failed")
			inst.mu.Lock()
			inst.state = Error
			inst.mu.Unlock()
			continue
		}
		inst.mu.Lock()
		inst.state = TeardownComplete
		inst.mu.Unlock()
	}
}

// Status is one scanner's observable snapshot for the status document.
type Status struct {
	Name         string
	State        State
	NextScanTime time.Time
}

// Statuses returns a snapshot of every registered scanner's current state,
// in registration order.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	instances := append([]*instance(nil), m.instances...)
	m.mu.Unlock()

	out := make([]Status, 0, len(instances))
	for _, inst := range instances {
		inst.mu.Lock()
		out = append(out, Status{Name: inst.name, State: inst.state, NextScanTime: inst.nextScanTime})
		inst.mu.Unlock()
	}
	return out
}
