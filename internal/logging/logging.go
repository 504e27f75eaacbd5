// Package logging wires the engine's ambient logrus setup: a
// prefixed-formatter console sink, a daily-rotated file sink routed by
// level through lfshook, and an optional Rollbar hook for fatal-class
// errors surfaced during startup.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/heroku/rollrus"
)

// Config controls where and how the engine logs. The zero value logs to
// stderr only, at info level, with no file sink and no Rollbar hook.
type Config struct {
	Level          string // "debug", "info", "warn", "error"; default "info"
	LogDir         string // if set, a daily-rotated file sink is added under this directory
	MaxAge         time.Duration
	RotationPeriod time.Duration
	RollbarToken   string // if set, FatalInit-class errors are reported to Rollbar
	Environment    string // Rollbar environment tag, e.g. "production"
}

const (
	defaultMaxAge         = 30 * 24 * time.Hour
	defaultRotationPeriod = 24 * time.Hour
)

// Init configures logrus's standard logger per cfg and returns it. Callers
// elsewhere in the engine keep using package-level
// logrus.WithFields(...) loggers (the teacher's convention,
// e.g. pkg/exchange/okex) — this only has to run once, at process
// startup, before any of those are constructed.
func Init(cfg Config) (*logrus.Logger, error) {
	logger := logrus.StandardLogger()

	level, err := logrus.ParseLevel(nonEmpty(cfg.Level, "info"))
	if err != nil {
		return nil, errors.Wrapf(err, "logging: invalid level %q", cfg.Level)
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if cfg.LogDir != "" {
		hook, err := fileHook(cfg)
		if err != nil {
			return nil, err
		}
		logger.AddHook(hook)
	}

	if cfg.RollbarToken != "" {
		logger.AddHook(rollrus.NewHook(cfg.RollbarToken, nonEmpty(cfg.Environment, "production"),
			logrus.FatalLevel, logrus.PanicLevel))
	}

	return logger, nil
}

// fileHook builds the lfshook that routes every level to a single
// daily-rotated JSON file under cfg.LogDir — one rotatelogs writer shared
// across levels, since the engine doesn't split by level into separate
// files the way some services do.
func fileHook(cfg Config) (logrus.Hook, error) {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	rotation := cfg.RotationPeriod
	if rotation <= 0 {
		rotation = defaultRotationPeriod
	}

	pattern := filepath.Join(cfg.LogDir, "sessionengine.%Y%m%d.log")
	writer, err := rotatelogs.New(
		pattern,
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotation),
	)
	if err != nil {
		return nil, errors.Wrap(err, "logging: failed to initialize rotated file sink")
	}

	writerMap := lfshook.WriterMap{
		logrus.TraceLevel: io.Writer(writer),
		logrus.DebugLevel: io.Writer(writer),
		logrus.InfoLevel:  io.Writer(writer),
		logrus.WarnLevel:  io.Writer(writer),
		logrus.ErrorLevel: io.Writer(writer),
		logrus.FatalLevel: io.Writer(writer),
		logrus.PanicLevel: io.Writer(writer),
	}
	return lfshook.NewHook(writerMap, &logrus.JSONFormatter{TimestampFormat: time.RFC3339}), nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
