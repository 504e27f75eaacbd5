package types

// Mode distinguishes live trading from a backtest run.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeBacktest Mode = "backtest"
)
