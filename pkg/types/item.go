package types

import "time"

// Item is one chronologically-ordered unit flowing out of the
// StreamCoordinator: a bar, tick, or quote tagged with the stream it came
// from.
type Item struct {
	Key       StreamKey
	Timestamp time.Time

	Bar   *Bar
	Tick  *Tick
	Quote *Quote
}

func NewBarItem(symbol string, interval Interval, bar Bar) Item {
	return Item{
		Key:       StreamKey{Symbol: symbol, Kind: StreamKindBar, Interval: interval},
		Timestamp: bar.Timestamp,
		Bar:       &bar,
	}
}

func NewTickItem(symbol string, tick Tick) Item {
	return Item{
		Key:       StreamKey{Symbol: symbol, Kind: StreamKindTick},
		Timestamp: tick.Timestamp,
		Tick:      &tick,
	}
}

func NewQuoteItem(symbol string, quote Quote) Item {
	return Item{
		Key:       StreamKey{Symbol: symbol, Kind: StreamKindQuote},
		Timestamp: quote.Timestamp,
		Quote:     &quote,
	}
}
