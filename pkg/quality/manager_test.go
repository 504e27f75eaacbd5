package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/timeutil"
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
	return repository.TradingSession{Date: date, IsTradingDay: true, RegularOpen: date, RegularClose: date.Add(6 * time.Hour)}, nil
}
func (f *fakeRepo) GetHolidays(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	return nil, nil
}

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

func TestDetectGapsFindsMissingRun(t *testing.T) {
	interval := types.NewInterval(types.UnitMinute, 1)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	now := open.Add(5 * time.Minute)

	present := []types.Bar{
		{Timestamp: open},
		{Timestamp: open.Add(1 * time.Minute)},
		{Timestamp: open.Add(4 * time.Minute)},
	}

	gaps, count := detectGaps(open, now, interval, present)
	require.Len(t, gaps, 1)
	assert.Equal(t, open.Add(2*time.Minute), gaps[0].Start)
	assert.Equal(t, open.Add(3*time.Minute), gaps[0].End)
	assert.Equal(t, 2, gaps[0].Count)
	assert.Equal(t, 3, count)
}

func TestSweepComputesQualityAndFillsGaps(t *testing.T) {
	interval := types.NewInterval(types.UnitMinute, 1)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	sd := sessiondata.New(testConfig())
	require.NoError(t, sd.AppendBar("AAPL", interval, types.Bar{Timestamp: open, Open: 1, High: 1, Low: 1, Close: 1}, sessiondata.SourceStream))
	require.NoError(t, sd.AppendBar("AAPL", interval, types.Bar{Timestamp: open.Add(2 * time.Minute), Open: 1, High: 1, Low: 1, Close: 1}, sessiondata.SourceStream))

	repo := &fakeRepo{bars: map[string][]types.Bar{
		"AAPL": {{Timestamp: open.Add(time.Minute), Open: 1, High: 1, Low: 1, Close: 1}},
	}}

	tm := timeutil.New(types.ModeBacktest, time.UTC, repo)
	require.NoError(t, tm.SetBacktestTime(open.Add(3*time.Minute), true))

	m := New(sd, repo, tm, config.GapFillerConfig{MaxRetries: 1, RetryIntervalSeconds: 0, EnableSessionQuality: true}, types.ModeLive)
	m.SetSessionOpen("AAPL", open)

	m.Sweep(context.Background())

	rec, ok := m.GetQuality("AAPL", interval)
	require.True(t, ok)
	assert.Equal(t, 100.0, rec.Quality)
	assert.Empty(t, rec.Gaps)

	bars, err := sd.GetLastN("AAPL", interval, 10)
	require.NoError(t, err)
	assert.Len(t, bars, 3)
}

func TestSweepDerivesBarsOnceWindowCloses(t *testing.T) {
	base := types.NewInterval(types.UnitMinute, 1)
	derived := types.NewInterval(types.UnitMinute, 5)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	sd := sessiondata.New(testConfig())
	for i := 0; i < 5; i++ {
		ts := open.Add(time.Duration(i) * time.Minute)
		require.NoError(t, sd.AppendBar("AAPL", base, types.Bar{Timestamp: ts, Open: float64(i), High: float64(i + 1), Low: float64(i), Close: float64(i), Volume: 1}, sessiondata.SourceStream))
	}

	repo := &fakeRepo{}
	tm := timeutil.New(types.ModeBacktest, time.UTC, repo)
	require.NoError(t, tm.SetBacktestTime(open.Add(5*time.Minute), true))

	m := New(sd, repo, tm, config.GapFillerConfig{}, types.ModeBacktest)
	m.SetSessionOpen("AAPL", open)
	m.RegisterDerivation("AAPL", derived, base)

	m.Sweep(context.Background())

	derivedBars, err := sd.GetLastN("AAPL", derived, 10)
	require.NoError(t, err)
	require.Len(t, derivedBars, 1)
	assert.Equal(t, open, derivedBars[0].Timestamp)
	assert.Equal(t, float64(4), derivedBars[0].Close)
}
