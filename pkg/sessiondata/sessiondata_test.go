package sessiondata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/types"
)

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		Mode: types.ModeLive,
		SessionDataConfig: config.SessionDataConfig{
			Symbols: []string{"AAPL"},
			Streams: []config.StreamDescriptor{{Kind: types.StreamKindBar, Interval: types.NewInterval(types.UnitMinute, 1)}},
		},
		TradingConfig: config.TradingConfig{MaxBuyingPower: 1, MaxPerTrade: 1, MaxPerSymbol: 1, MaxOpenPositions: 1},
	}
}

func bar(ts time.Time, close float64) types.Bar {
	return types.Bar{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

func TestAppendBarRejectsOutOfOrder(t *testing.T) {
	sd := New(testConfig())
	interval := types.NewInterval(types.UnitMinute, 1)
	t0 := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	require.NoError(t, sd.AppendBar("AAPL", interval, bar(t0, 100), SourceStream))
	err := sd.AppendBar("AAPL", interval, bar(t0.Add(-time.Minute), 101), SourceStream)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrOutOfOrder)
}

func TestAppendBarGapFillBypassesOrdering(t *testing.T) {
	sd := New(testConfig())
	interval := types.NewInterval(types.UnitMinute, 1)
	t0 := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	require.NoError(t, sd.AppendBar("AAPL", interval, bar(t0, 100), SourceStream))
	require.NoError(t, sd.AppendBar("AAPL", interval, bar(t0.Add(2*time.Minute), 102), SourceStream))

	err := sd.AppendBar("AAPL", interval, bar(t0.Add(time.Minute), 101), SourceGapFill)
	assert.NoError(t, err)

	bars, err := sd.GetLastN("AAPL", interval, 10)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	// The gap-filled bar must be spliced into its chronological position,
	// not appended at the tail.
	require.True(t, bars[0].Timestamp.Equal(t0))
	require.True(t, bars[1].Timestamp.Equal(t0.Add(time.Minute)))
	require.True(t, bars[2].Timestamp.Equal(t0.Add(2*time.Minute)))
	assert.Equal(t, 101.0, bars[1].Close)

	// Backfilling an older hole must not move the latest-bar pointer
	// backwards (spec.md §4.6 item 3).
	latest, ok := sd.GetLatestBar("AAPL", interval)
	require.True(t, ok)
	assert.True(t, latest.Timestamp.Equal(t0.Add(2*time.Minute)))
	assert.Equal(t, 102.0, latest.Close)
}

func TestGetLatestBarFastPath(t *testing.T) {
	sd := New(testConfig())
	interval := types.NewInterval(types.UnitMinute, 1)
	t0 := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	_, ok := sd.GetLatestBar("AAPL", interval)
	assert.False(t, ok)

	require.NoError(t, sd.AppendBar("AAPL", interval, bar(t0, 100), SourceStream))
	latest, ok := sd.GetLatestBar("AAPL", interval)
	require.True(t, ok)
	assert.Equal(t, 100.0, latest.Close)
}

func TestAppendBarRejectsOnLockedSymbol(t *testing.T) {
	sd := New(testConfig())
	interval := types.NewInterval(types.UnitMinute, 1)
	sd.LockSymbol("AAPL", "risk breach")

	err := sd.AppendBar("AAPL", interval, bar(time.Now(), 100), SourceStream)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSymbolLocked)

	sd.UnlockSymbol("AAPL")
	assert.NoError(t, sd.AppendBar("AAPL", interval, bar(time.Now(), 100), SourceStream))
}

func TestAddIndicatorDerivesFromCoarsestStreamedInterval(t *testing.T) {
	sd := New(testConfig())
	base := types.NewInterval(types.UnitMinute, 1)
	require.NoError(t, sd.AppendBar("AAPL", base, bar(time.Now(), 100), SourceStream))

	target := types.NewInterval(types.UnitMinute, 5)
	cfg := types.IndicatorConfig{Kind: "sma", Interval: target, Period: 20}

	reqs, err := sd.AddIndicator("AAPL", cfg)
	require.NoError(t, err)
	require.True(t, reqs.CanProceed)
	require.Len(t, reqs.IntervalOps, 1)
	assert.Equal(t, base, reqs.IntervalOps[0].DerivedFrom)

	assert.True(t, sd.HasIndicator("AAPL", cfg.Identity()))
	assert.True(t, sd.HasInterval("AAPL", target))
}

func TestAddIndicatorNoDerivationPathFails(t *testing.T) {
	sd := New(testConfig())
	cfg := types.IndicatorConfig{Kind: "sma", Interval: types.NewInterval(types.UnitMinute, 5), Period: 20}

	reqs, err := sd.AddIndicator("NEWSYM", cfg)
	require.NoError(t, err)
	assert.False(t, reqs.CanProceed)
	require.NotEmpty(t, reqs.ValidationErrors)
}

func TestAddIndicatorDuplicateIsNoopWithWarning(t *testing.T) {
	sd := New(testConfig())
	base := types.NewInterval(types.UnitMinute, 1)
	require.NoError(t, sd.AppendBar("AAPL", base, bar(time.Now(), 100), SourceStream))
	cfg := types.IndicatorConfig{Kind: "sma", Interval: base, Period: 20}

	_, err := sd.AddIndicator("AAPL", cfg)
	require.NoError(t, err)

	reqs, err := sd.AddIndicator("AAPL", cfg)
	require.NoError(t, err)
	assert.True(t, reqs.CanProceed)
	assert.NotEmpty(t, reqs.ValidationWarnings)
}

func TestRemoveSymbolAdhocRejectsConfigSymbol(t *testing.T) {
	sd := New(testConfig())
	reqs, err := sd.AddSymbol("AAPL")
	require.NoError(t, err)
	require.True(t, reqs.CanProceed)

	// AAPL is declared in the session config, so it is a config symbol
	// from construction on and adhoc removal is rejected.
	err = sd.RemoveSymbolAdhoc("AAPL")
	assert.ErrorIs(t, err, types.ErrStateViolation)
	assert.True(t, sd.HasSymbol("AAPL"))
}

func TestWaitForArrivalWakesOnAppend(t *testing.T) {
	sd := New(testConfig())
	interval := types.NewInterval(types.UnitMinute, 1)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- sd.WaitForArrival(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sd.AppendBar("AAPL", interval, bar(time.Now(), 100), SourceStream))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForArrival did not wake up")
	}
}

func TestRollSessionPromotesToHistorical(t *testing.T) {
	sd := New(testConfig())
	interval := types.NewInterval(types.UnitMinute, 1)
	day1 := time.Date(2026, 7, 29, 9, 30, 0, 0, time.UTC)

	require.NoError(t, sd.AppendBar("AAPL", interval, bar(day1, 100), SourceStream))
	require.NoError(t, sd.AppendBar("AAPL", interval, bar(day1.Add(time.Minute), 101), SourceStream))

	require.NoError(t, sd.RollSession(day1, 5))

	hist, err := sd.GetHistorical("AAPL", interval)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.TotalBars())

	_, ok := sd.GetLatestBar("AAPL", interval)
	assert.False(t, ok)
}
