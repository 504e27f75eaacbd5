// Package config defines the parsed session configuration record consumed
// by the engine. Loading it from JSON is explicitly out of scope
// (spec.md §1); this package only defines the shape and the validation
// spec.md §6 requires of it.
package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/marketsession/engine/pkg/types"
)

type StreamDescriptor struct {
	Kind     types.StreamKind `json:"kind"`
	Interval types.Interval   `json:"interval,omitempty"`
}

type HistoricalRequest struct {
	TrailingDays int              `json:"trailing_days"`
	Intervals    []types.Interval `json:"intervals"`
	ApplyTo      []string         `json:"apply_to"` // ["all"] or explicit symbol list
}

func (h HistoricalRequest) AppliesToAll() bool {
	return len(h.ApplyTo) == 1 && h.ApplyTo[0] == "all"
}

type GapFillerConfig struct {
	MaxRetries            int  `json:"max_retries"`
	RetryIntervalSeconds  int  `json:"retry_interval_seconds"`
	EnableSessionQuality  bool `json:"enable_session_quality"`
}

type ScheduleWindow struct {
	Start    string        `json:"start"` // "HH:MM"
	End      string        `json:"end"`   // "HH:MM"
	Interval time.Duration `json:"interval"`
}

type ScannerConfig struct {
	Module         string                 `json:"module"`
	Enabled        bool                   `json:"enabled"`
	PreSession     bool                   `json:"pre_session"`
	RegularSession []ScheduleWindow       `json:"regular_session"`
	Config         map[string]interface{} `json:"config"`
}

type SessionDataConfig struct {
	Symbols    []string                   `json:"symbols"`
	Streams    []StreamDescriptor         `json:"streams"`
	// StaleThreshold bounds how far behind now() an incoming item's
	// timestamp may be before the streaming loop discards it as
	// mid-session start catch-up noise (spec.md §4.4 step 6). Zero means
	// the coordinator's built-in default applies.
	StaleThreshold time.Duration `json:"stale_threshold,omitempty"`
	Historical struct {
		EnableQuality bool                          `json:"enable_quality"`
		Data          []HistoricalRequest           `json:"data"`
		Indicators    map[string]types.IndicatorConfig `json:"indicators"`
	} `json:"historical"`
	GapFiller GapFillerConfig `json:"gap_filler"`
	Scanners  []ScannerConfig `json:"scanners"`
}

type TradingConfig struct {
	MaxBuyingPower   float64 `json:"max_buying_power"`
	MaxPerTrade      float64 `json:"max_per_trade"`
	MaxPerSymbol     float64 `json:"max_per_symbol"`
	MaxOpenPositions int     `json:"max_open_positions"`
}

type BacktestConfig struct {
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	SpeedMultiplier  float64   `json:"speed_multiplier"`
	PrefetchDays     int       `json:"prefetch_days"`
}

// SessionConfig is the fully-parsed configuration the engine is
// constructed from.
type SessionConfig struct {
	Mode              types.Mode        `json:"mode"`
	Backtest          *BacktestConfig   `json:"backtest,omitempty"`
	SessionDataConfig SessionDataConfig `json:"session_data_config"`
	TradingConfig     TradingConfig     `json:"trading_config"`
	ExchangeGroup     string            `json:"exchange_group"`
	AssetClass        string            `json:"asset_class"`
}

// Validate enforces the cross-field invariants spec.md §6 names: trading
// caps are internally consistent, at least one symbol and one stream are
// declared, and backtest mode carries its sub-config.
func (c SessionConfig) Validate() error {
	if len(c.SessionDataConfig.Symbols) == 0 {
		return errors.Wrap(types.ErrValidation, "session_data_config.symbols must be non-empty")
	}
	if len(c.SessionDataConfig.Streams) == 0 {
		return errors.Wrap(types.ErrValidation, "session_data_config.streams must declare at least one stream")
	}

	tc := c.TradingConfig
	if tc.MaxPerTrade > tc.MaxBuyingPower {
		return errors.Wrap(types.ErrValidation, "trading_config.max_per_trade must be <= max_buying_power")
	}
	if tc.MaxPerSymbol > tc.MaxBuyingPower {
		return errors.Wrap(types.ErrValidation, "trading_config.max_per_symbol must be <= max_buying_power")
	}
	if tc.MaxOpenPositions <= 0 {
		return errors.Wrap(types.ErrValidation, "trading_config.max_open_positions must be > 0")
	}

	switch c.Mode {
	case types.ModeLive:
	case types.ModeBacktest:
		if c.Backtest == nil {
			return errors.Wrap(types.ErrValidation, "backtest mode requires a backtest config block")
		}
		if c.Backtest.SpeedMultiplier < 0 {
			return errors.Wrap(types.ErrValidation, "backtest.speed_multiplier must be >= 0")
		}
		if c.Backtest.PrefetchDays < 0 {
			return errors.Wrap(types.ErrValidation, "backtest.prefetch_days must be >= 0")
		}
	default:
		return errors.Wrapf(types.ErrValidation, "unknown mode %q", c.Mode)
	}

	return nil
}
