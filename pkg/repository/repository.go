// Package repository declares the external collaborators the session
// engine consumes but does not implement: the persistent historical-data
// repository and the downstream processor. Both are named and contracted
// here per spec.md §6; spec.md §1 explicitly places their concrete
// implementations out of this repository's scope.
package repository

import (
	"context"
	"time"

	"github.com/marketsession/engine/pkg/types"
)

// Repository is the persistent historical-data store. Implementations
// live outside this module; the engine only consumes this interface.
type Repository interface {
	GetBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error)
	GetTicks(ctx context.Context, symbol string, start, end time.Time) ([]types.Tick, error)
	GetQuotes(ctx context.Context, symbol string, start, end time.Time) ([]types.Quote, error)

	GetTradingSession(ctx context.Context, date time.Time, exchangeGroup, assetClass string) (TradingSession, error)
	GetHolidays(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error)
}

// TradingSession is the (date, exchange) calendar row TimeManager consumes.
type TradingSession struct {
	Date          time.Time
	RegularOpen   time.Time
	RegularClose  time.Time
	EarlyClose    *time.Time
	IsTradingDay  bool
}

// DownstreamProcessor is the consumer the SessionCoordinator publishes to:
// it subscribes with a stream.Mode-aware StreamSubscription and, on each
// signal, reads new data from SessionData's fast-read API, computes its
// own derived bars/indicators, and signals its own downstream in turn.
// This interface documents the contract; the engine never calls into a
// concrete implementation directly, only signals the notify subscription.
type DownstreamProcessor interface {
	OnSessionSignal(ctx context.Context) error
}
