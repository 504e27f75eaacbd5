package scanner

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/sessiondata"
	"github.com/marketsession/engine/pkg/types"
)

type stubScanner struct {
	setupCalls    int32
	scanCalls     int32
	teardownCalls int32
	symbols       []string
}

func (s *stubScanner) Setup(ctx Context) (bool, error) {
	atomic.AddInt32(&s.setupCalls, 1)
	return true, nil
}

func (s *stubScanner) Scan(ctx Context) (ScanResult, error) {
	atomic.AddInt32(&s.scanCalls, 1)
	return ScanResult{Symbols: s.symbols}, nil
}

func (s *stubScanner) Teardown(ctx Context) error {
	atomic.AddInt32(&s.teardownCalls, 1)
	return nil
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		Mode: types.ModeBacktest,
		SessionDataConfig: config.SessionDataConfig{
			Symbols: []string{"AAPL"},
			Streams: []config.StreamDescriptor{{Kind: types.StreamKindBar, Interval: types.NewInterval(types.UnitMinute, 1)}},
		},
		TradingConfig: config.TradingConfig{MaxBuyingPower: 1, MaxPerTrade: 1, MaxPerSymbol: 1, MaxOpenPositions: 1},
	}
}

func TestRunPreSessionSetsUpAndScansOncePerScanner(t *testing.T) {
	sd := sessiondata.New(testConfig())
	m := New(sd, nil, types.ModeBacktest, 1)

	s := &stubScanner{symbols: []string{"TSLA"}}
	require.NoError(t, m.Register("pre", config.ScannerConfig{PreSession: true}, s))

	m.RunPreSession(context.Background(), time.Now())

	assert.EqualValues(t, 1, atomic.LoadInt32(&s.setupCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&s.scanCalls))
	assert.True(t, sd.HasSymbol("TSLA"))
}

func TestTickRunsOnceInsideWindowThenWaitsForInterval(t *testing.T) {
	sd := sessiondata.New(testConfig())
	m := New(sd, nil, types.ModeBacktest, 1)

	s := &stubScanner{symbols: []string{"MSFT"}}
	cfg := config.ScannerConfig{
		RegularSession: []config.ScheduleWindow{{Start: "09:30", End: "16:00", Interval: 5 * time.Minute}},
	}
	require.NoError(t, m.Register("regular", cfg, s))

	base := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	m.Tick(context.Background(), base)
	m.Tick(context.Background(), base.Add(time.Minute))

	assert.EqualValues(t, 1, atomic.LoadInt32(&s.scanCalls))

	m.Tick(context.Background(), base.Add(6*time.Minute))
	assert.EqualValues(t, 2, atomic.LoadInt32(&s.scanCalls))
}

func TestTickSkipsOutsideWindow(t *testing.T) {
	sd := sessiondata.New(testConfig())
	m := New(sd, nil, types.ModeBacktest, 1)

	s := &stubScanner{}
	cfg := config.ScannerConfig{
		RegularSession: []config.ScheduleWindow{{Start: "09:30", End: "16:00", Interval: time.Minute}},
	}
	require.NoError(t, m.Register("regular", cfg, s))

	m.Tick(context.Background(), time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC))
	assert.EqualValues(t, 0, atomic.LoadInt32(&s.scanCalls))
}

func TestShutdownTearsDownExactlyOnce(t *testing.T) {
	sd := sessiondata.New(testConfig())
	m := New(sd, nil, types.ModeBacktest, 1)

	s := &stubScanner{}
	require.NoError(t, m.Register("pre", config.ScannerConfig{PreSession: true}, s))

	m.RunPreSession(context.Background(), time.Now())
	m.Shutdown(context.Background(), time.Now())
	m.Shutdown(context.Background(), time.Now())

	assert.EqualValues(t, 1, atomic.LoadInt32(&s.teardownCalls))
}

func TestLoadUniverseSkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/universe.txt"
	content := "# header\nAAPL\n\nMSFT\n  # trailing comment\nTSLA\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	symbols, err := LoadUniverse(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, symbols)
}
