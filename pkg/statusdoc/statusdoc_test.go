package statusdoc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/quality"
	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/scanner"
	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/timeutil"
	"github.com/marketsession/engine/pkg/types"
)

type stubRepo struct{}

func (s *stubRepo) GetBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error) {
	return nil, nil
}
func (s *stubRepo) GetTicks(ctx context.Context, symbol string, start, end time.Time) ([]types.Tick, error) {
	return nil, nil
}
func (s *stubRepo) GetQuotes(ctx context.Context, symbol string, start, end time.Time) ([]types.Quote, error) {
	return nil, nil
}
func (s *stubRepo) GetTradingSession(ctx context.Context, date time.Time, exchangeGroup, assetClass string) (repository.TradingSession, error) {
	return repository.TradingSession{Date: date, IsTradingDay: true, RegularOpen: date, RegularClose: date.Add(6 * time.Hour)}, nil
}
func (s *stubRepo) GetHolidays(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
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

func TestApplyConfigDeltaMergesAdditiveFields(t *testing.T) {
	current := json.RawMessage(`{"trading_config":{"max_buying_power":100}}`)
	delta := json.RawMessage(`{"trading_config":{"max_per_trade":50}}`)

	merged, err := ApplyConfigDelta(current, delta)
	require.NoError(t, err)

	var out map[string]map[string]float64
	require.NoError(t, json.Unmarshal(merged, &out))
	assert.Equal(t, 100.0, out["trading_config"]["max_buying_power"])
	assert.Equal(t, 50.0, out["trading_config"]["max_per_trade"])
}

func TestApplyConfigDeltaRejectsFieldRemoval(t *testing.T) {
	current := json.RawMessage(`{"trading_config":{"max_buying_power":100}}`)
	delta := json.RawMessage(`{"trading_config":null}`)

	_, err := ApplyConfigDelta(current, delta)
	assert.Error(t, err)
}

func TestParseIndicatorParamsExtractsNormalizedFields(t *testing.T) {
	body := []byte(`{"kind":"sma","params":{"fastPeriod":12,"label":"fast","enabled":true}}`)

	params, err := ParseIndicatorParams(body, "params")
	require.NoError(t, err)

	assert.Equal(t, float64(12), params["fastPeriod"])
	assert.Equal(t, "fast", params["label"])
	assert.Equal(t, true, params["enabled"])
}

func TestParseIndicatorParamsMissingFieldReturnsEmpty(t *testing.T) {
	body := []byte(`{"kind":"sma"}`)
	params, err := ParseIndicatorParams(body, "params")
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestWriterWritesAndReplacesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	w := NewWriter(path)

	w.Write(Snapshot{GeneratedAt: time.Unix(1, 0), State: "streaming"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "streaming", got.State)

	w.Write(Snapshot{GeneratedAt: time.Unix(2, 0), State: "session_ended"})
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "session_ended", got.State)
}

func TestBuildSnapshotPopulatesSymbolsAndScanners(t *testing.T) {
	interval := types.NewInterval(types.UnitMinute, 1)
	open := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	cfg := testConfig()
	sd := sessiondata.New(cfg)
	require.NoError(t, sd.StartNewSession(open))
	require.NoError(t, sd.AppendBar("AAPL", interval, types.Bar{Timestamp: open, Open: 1, High: 1, Low: 1, Close: 1}, sessiondata.SourceStream))

	repo := &stubRepo{}
	tm := timeutil.New(types.ModeBacktest, time.UTC, repo)
	require.NoError(t, tm.SetBacktestTime(open.Add(time.Minute), true))

	qm := quality.New(sd, repo, tm, config.GapFillerConfig{}, types.ModeLive)
	qm.SetSessionOpen("AAPL", open)
	qm.Sweep(context.Background())

	sm := scanner.New(sd, tm, types.ModeBacktest, 1)

	snap := BuildSnapshot(
		open.Add(time.Minute),
		sd.CurrentSessionDate(),
		"streaming",
		sd.GetActiveSymbols(),
		func(symbol string) types.SessionMetrics {
			m, _ := sd.GetSessionMetrics(symbol)
			return m
		},
		qm, sm, tm, 0, nil,
	)

	require.Len(t, snap.Symbols, 1)
	assert.Equal(t, "AAPL", snap.Symbols[0].Symbol)
	assert.Empty(t, snap.Scanners)
}
