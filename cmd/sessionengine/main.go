// Command sessionengine is the composition root: it wires logging, loads
// ambient environment, builds a SessionConfig, constructs the
// SessionCoordinator and its status document, exposes Prometheus metrics,
// and runs the coordinator to completion or until a termination signal
// arrives. It is deliberately thin — no subcommands, no CLI framework —
// and is not itself a CLI shell.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/internal/logging"
	"github.com/marketsession/engine/pkg/config"
	"github.com/marketsession/engine/pkg/coordinator"
	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/stream"
	"github.com/marketsession/engine/pkg/types"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("sessionengine: failed to load .env, continuing with process environment")
	}

	logger, err := logging.Init(logging.Config{
		Level:        os.Getenv("LOG_LEVEL"),
		LogDir:       os.Getenv("LOG_DIR"),
		RollbarToken: os.Getenv("ROLLBAR_TOKEN"),
		Environment:  envOrDefault("APP_ENV", "development"),
	})
	if err != nil {
		log.WithError(err).Fatal("sessionengine: failed to initialize logging")
	}
	logger.Info("sessionengine: starting")

	cfg, err := configFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("sessionengine: invalid configuration")
	}

	repo, err := newRepository()
	if err != nil {
		logger.WithError(err).Fatal("sessionengine: no repository.Repository backend configured")
	}

	loc := time.UTC
	downstreamMode := stream.ModeLive
	if cfg.Mode == types.ModeBacktest {
		downstreamMode = stream.ModeDataDriven
		if cfg.Backtest != nil && cfg.Backtest.SpeedMultiplier > 0 {
			downstreamMode = stream.ModeClockDriven
		}
	}

	opts := []coordinator.Option{}
	if statusPath := os.Getenv("STATUS_DOCUMENT_PATH"); statusPath != "" {
		everyN, _ := strconv.Atoi(os.Getenv("STATUS_WRITE_EVERY_N"))
		opts = append(opts, coordinator.WithStatusDocument(statusPath, everyN))
	}

	co, err := coordinator.New(cfg, repo, loc, downstreamMode, opts...)
	if err != nil {
		logger.WithError(err).Fatal("sessionengine: failed to construct coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("sessionengine: termination signal received, stopping")
		co.Stop()
	}()

	metricsAddr := envOrDefault("METRICS_ADDR", ":9090")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("sessionengine: metrics server stopped unexpectedly")
		}
	}()
	defer metricsSrv.Close()

	if err := co.Start(ctx); err != nil {
		logger.WithError(err).Fatal("sessionengine: session terminated with error")
	}
	logger.Info("sessionengine: session ended cleanly")
}

// newRepository is the repository.Repository integration seam. The
// interface is consumed throughout this engine but intentionally not
// implemented here — a deployment wires its own calendar/bar/tick source
// (a market data vendor, an internal warehouse, a replay fixture store) by
// replacing this function.
func newRepository() (repository.Repository, error) {
	return nil, errors.New("repository.Repository backend not configured: replace cmd/sessionengine/main.go's newRepository with a concrete implementation")
}

func configFromEnv() (config.SessionConfig, error) {
	symbols := splitNonEmpty(os.Getenv("SESSION_SYMBOLS"))
	if len(symbols) == 0 {
		symbols = []string{"AAPL"}
	}

	interval := types.NewInterval(types.UnitMinute, 1)

	cfg := config.SessionConfig{
		Mode: modeFromEnv(),
		SessionDataConfig: config.SessionDataConfig{
			Symbols: symbols,
			Streams: []config.StreamDescriptor{{Kind: types.StreamKindBar, Interval: interval}},
		},
		TradingConfig: config.TradingConfig{
			MaxBuyingPower:   envFloat("MAX_BUYING_POWER", 100000),
			MaxPerTrade:      envFloat("MAX_PER_TRADE", 10000),
			MaxPerSymbol:     envFloat("MAX_PER_SYMBOL", 20000),
			MaxOpenPositions: int(envFloat("MAX_OPEN_POSITIONS", 10)),
		},
		ExchangeGroup: envOrDefault("EXCHANGE_GROUP", "US"),
		AssetClass:    envOrDefault("ASSET_CLASS", "equity"),
	}

	if cfg.Mode == types.ModeBacktest {
		start, err := time.Parse("2006-01-02", envOrDefault("BACKTEST_START", time.Now().Format("2006-01-02")))
		if err != nil {
			return config.SessionConfig{}, errors.Wrap(err, "parse BACKTEST_START")
		}
		end, err := time.Parse("2006-01-02", envOrDefault("BACKTEST_END", start.Format("2006-01-02")))
		if err != nil {
			return config.SessionConfig{}, errors.Wrap(err, "parse BACKTEST_END")
		}
		cfg.Backtest = &config.BacktestConfig{StartDate: start, EndDate: end, SpeedMultiplier: envFloat("BACKTEST_SPEED", 0)}
	}

	if err := cfg.Validate(); err != nil {
		return config.SessionConfig{}, errors.Wrap(err, "session configuration")
	}
	return cfg, nil
}

func modeFromEnv() types.Mode {
	if strings.EqualFold(os.Getenv("SESSION_MODE"), "backtest") {
		return types.ModeBacktest
	}
	return types.ModeLive
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
