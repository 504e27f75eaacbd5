package types

import (
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidBar is returned by Bar.Validate when the OHLC invariant or the
// volume non-negativity invariant is violated.
var ErrInvalidBar = errors.New("invalid bar")

// Bar is a single OHLCV candle. Timestamp is the interval-start: a 1-minute
// bar with Timestamp T covers [T, T+60s).
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// EndTime returns the exclusive end of the bar's coverage window given its
// interval.
func (b Bar) EndTime(interval Interval) time.Time {
	return b.Timestamp.Add(time.Duration(interval.Seconds()) * time.Second)
}

// Validate checks the data-model invariant: low <= open,close <= high and
// volume >= 0.
func (b Bar) Validate() error {
	if b.Low > b.Open || b.Open > b.High {
		return errors.Wrapf(ErrInvalidBar, "open %f out of [low %f, high %f]", b.Open, b.Low, b.High)
	}
	if b.Low > b.Close || b.Close > b.High {
		return errors.Wrapf(ErrInvalidBar, "close %f out of [low %f, high %f]", b.Close, b.Low, b.High)
	}
	if b.Volume < 0 {
		return errors.Wrapf(ErrInvalidBar, "negative volume %f", b.Volume)
	}
	return nil
}

// Tick is a single trade print.
type Tick struct {
	Timestamp time.Time
	Price     float64
	Size      float64
}

// Quote is a single top-of-book snapshot.
type Quote struct {
	Timestamp time.Time
	Bid       float64
	Ask       float64
	BidSize   float64
	AskSize   float64
}

// AggregateBars computes the OHLCV aggregation of a contiguous, ordered run
// of base bars into a single derived bar: open = first.open, high = max,
// low = min, close = last.close, volume = sum. The caller is responsible
// for only passing bars whose aligned window is entirely closed.
func AggregateBars(windowStart time.Time, bars []Bar) Bar {
	if len(bars) == 0 {
		return Bar{Timestamp: windowStart}
	}

	agg := Bar{
		Timestamp: windowStart,
		Open:      bars[0].Open,
		High:      bars[0].High,
		Low:       bars[0].Low,
		Close:     bars[len(bars)-1].Close,
	}

	for _, b := range bars {
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Volume += b.Volume
	}

	return agg
}
