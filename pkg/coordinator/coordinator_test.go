package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/stream"
	"github.com/marketsession/engine/pkg/streamfeed"
	"github.com/marketsession/engine/pkg/types"
)

type fakeRepo struct {
	bars map[string][]types.Bar
}

func (f *fakeRepo) GetBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error) {
	var out []types.Bar
	for _, b := range f.bars[symbol] {
		if !b.Timestamp.Before(start) && b.Timestamp.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetTicks(ctx context.Context, symbol string, start, end time.Time) ([]types.Tick, error) {
	return nil, nil
}
func (f *fakeRepo) GetQuotes(ctx context.Context, symbol string, start, end time.Time) ([]types.Quote, error) {
	return nil, nil
}
func (f *fakeRepo) GetTradingSession(ctx context.Context, date time.Time, exchangeGroup, assetClass string) (repository.TradingSession, error) {
	open := time.Date(date.Year(), date.Month(), date.Day(), 9, 30, 0, 0, time.UTC)
	return repository.TradingSession{Date: date, IsTradingDay: true, RegularOpen: open, RegularClose: open.Add(6*time.Hour + 30*time.Minute)}, nil
}
func (f *fakeRepo) GetHolidays(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	return nil, nil
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		Mode: types.ModeBacktest,
		Backtest: &config.BacktestConfig{
			StartDate: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		},
		SessionDataConfig: config.SessionDataConfig{
			Symbols: []string{"AAPL"},
			Streams: []config.StreamDescriptor{{Kind: types.StreamKindBar, Interval: types.NewInterval(types.UnitMinute, 1)}},
		},
		TradingConfig: config.TradingConfig{MaxBuyingPower: 1, MaxPerTrade: 1, MaxPerSymbol: 1, MaxOpenPositions: 1},
		ExchangeGroup: "US",
		AssetClass:    "equity",
	}
}

func newTestCoordinator(t *testing.T, mode stream.Mode) *Coordinator {
	t.Helper()
	c, err := New(testConfig(), &fakeRepo{}, time.UTC, mode)
	require.NoError(t, err)
	return c
}

func TestPauseRefusedInLiveMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = types.ModeLive
	cfg.Backtest = nil
	c, err := New(cfg, &fakeRepo{}, time.UTC, stream.ModeLive)
	require.NoError(t, err)

	err = c.Pause()
	assert.ErrorIs(t, err, types.ErrStateViolation)
}

func TestPauseRefusedOutsideStreaming(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	err := c.Pause()
	assert.ErrorIs(t, err, types.ErrStateViolation)
}

func TestPauseThenResumeRoundTrips(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	c.setState(Streaming)

	require.NoError(t, c.Pause())
	assert.True(t, c.IsPaused())
	assert.Equal(t, Paused, c.GetState())

	require.NoError(t, c.Resume())
	assert.False(t, c.IsPaused())
	assert.Equal(t, Streaming, c.GetState())
}

func TestResumeRefusedWhenNotPaused(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	err := c.Resume()
	assert.ErrorIs(t, err, types.ErrStateViolation)
}

func TestStopOpensAPausedGate(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	c.setState(Streaming)
	require.NoError(t, c.Pause())

	c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.pauseGate.Wait(ctx))
	assert.True(t, c.stopWasRequested())
}

func TestShouldDiscardOutsideSessionWindow(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	close_ := open.Add(6 * time.Hour)
	require.NoError(t, c.sd.StartNewSession(open))

	before := types.Item{Timestamp: open.Add(-time.Minute)}
	after := types.Item{Timestamp: close_}
	inside := types.Item{Timestamp: open.Add(time.Minute)}

	now := open.Add(time.Minute)
	assert.True(t, c.shouldDiscard(before, now, close_))
	assert.True(t, c.shouldDiscard(after, now, close_))
	assert.False(t, c.shouldDiscard(inside, now, close_))
}

func TestShouldDiscardStaleItem(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	c.staleThreshold = time.Minute
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	close_ := open.Add(6 * time.Hour)
	require.NoError(t, c.sd.StartNewSession(open))

	now := open.Add(10 * time.Minute)
	stale := types.Item{Timestamp: now.Add(-5 * time.Minute)}
	fresh := types.Item{Timestamp: now.Add(-10 * time.Second)}

	assert.True(t, c.shouldDiscard(stale, now, close_))
	assert.False(t, c.shouldDiscard(fresh, now, close_))
}

func TestAppendItemDispatchesByKind(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	require.NoError(t, c.sd.StartNewSession(open))

	interval := types.NewInterval(types.UnitMinute, 1)
	barItem := types.NewBarItem("AAPL", interval, types.Bar{Timestamp: open, Open: 1, High: 1, Low: 1, Close: 1})
	require.NoError(t, c.appendItem(barItem))

	bars, err := c.sd.GetLastN("AAPL", interval, 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, open, bars[0].Timestamp)
}

func TestNotifyDownstreamWaitsForAckInDataDrivenMode(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeDataDriven)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := c.notify.Wait(ctx, 0)
		if err == nil {
			c.ack.Reset()
			c.ack.Signal()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.notifyDownstream(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("downstream goroutine never observed the notification")
	}
}

func TestRunLoopStopsOnStopRequest(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	require.NoError(t, c.sd.StartNewSession(open))
	c.mu.Lock()
	c.session = repository.TradingSession{RegularOpen: open, RegularClose: open.Add(6 * time.Hour)}
	c.mu.Unlock()
	require.NoError(t, c.tm.SetBacktestTime(open, true))

	c.setState(Streaming)
	c.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runLoop(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runLoop did not return after Stop")
	}
}

func TestRunLoopEndsSessionAtBacktestClose(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	close_ := open.Add(6 * time.Hour)
	require.NoError(t, c.sd.StartNewSession(open))
	c.mu.Lock()
	c.session = repository.TradingSession{RegularOpen: open, RegularClose: close_}
	c.mu.Unlock()
	require.NoError(t, c.tm.SetBacktestTime(close_, true))

	c.setState(Streaming)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runLoop(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runLoop did not end the session at the close boundary")
	}
	assert.Equal(t, SessionEnded, c.GetState())
}

func TestRunLoopAppendsAttachedStreamItems(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	close_ := open.Add(6 * time.Hour)
	require.NoError(t, c.sd.StartNewSession(open))
	c.mu.Lock()
	c.session = repository.TradingSession{RegularOpen: open, RegularClose: close_}
	c.mu.Unlock()
	require.NoError(t, c.tm.SetBacktestTime(open, true))

	interval := types.NewInterval(types.UnitMinute, 1)
	ch := make(chan types.Item, 1)
	ch <- types.NewBarItem("AAPL", interval, types.Bar{Timestamp: open, Open: 1, High: 1, Low: 1, Close: 1})
	close(ch)
	c.feed.AttachStream(types.StreamKey{Symbol: "AAPL", Kind: types.StreamKindBar, Interval: interval}, ch)

	c.setState(Streaming)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runLoop(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runLoop did not drain the attached stream and end the session")
	}

	bars, err := c.sd.GetLastN("AAPL", interval, 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, SessionEnded, c.GetState())
}

func TestStreamfeedReportsDrainedOnceAllStreamsClose(t *testing.T) {
	c := newTestCoordinator(t, stream.ModeClockDriven)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	close_ := open.Add(6 * time.Hour)
	c.mu.Lock()
	c.session = repository.TradingSession{RegularOpen: open, RegularClose: close_}
	c.mu.Unlock()
	require.NoError(t, c.sd.StartNewSession(open))
	require.NoError(t, c.tm.SetBacktestTime(open, true))

	ch := make(chan types.Item)
	close(ch)
	key := types.StreamKey{Symbol: "AAPL", Kind: types.StreamKindBar, Interval: types.NewInterval(types.UnitMinute, 1)}
	c.feed.AttachStream(key, ch)

	item, status := c.feed.Next()
	assert.Equal(t, streamfeed.Drained, status)
	assert.Equal(t, types.Item{}, item)
}
