package sessiondata

import (
	"github.com/pkg/errors"

	"github.com/marketsession/engine/pkg/types"
)

// AppendBar appends a newly-arrived bar to (symbol, interval)'s current
// session buffer. It rejects out-of-order arrivals (a new bar whose
// timestamp is not strictly after the current latest) for every source
// except SourceGapFill, which is the one privileged path allowed to
// backfill a timestamp between two already-present bars (spec.md §4.2's
// "insert-missing" carve-out for the data-quality manager).
//
// Trading-window enforcement is the caller's responsibility: SessionData
// has no calendar dependency of its own, so the coordinator consults
// TimeManager before calling AppendBar from the live/stream path, and the
// prefetch loader bypasses the check entirely by construction (it only
// ever writes historical, already-closed windows).
func (sd *SessionData) AppendBar(symbol string, interval types.Interval, bar types.Bar, source AppendSource) error {
	if err := bar.Validate(); err != nil {
		return errors.Wrapf(types.ErrValidation, "append_bar(%s/%s): %v", symbol, interval, err)
	}

	recs, release := sd.lockSymbols(symbol)
	defer release()
	rec := recs[0]

	if locked, reason := rec.IsLocked(); locked && source != SourceGapFill {
		return errors.Wrapf(types.ErrSymbolLocked, "%s: %s", symbol, reason)
	}

	data := rec.EnsureInterval(interval, false, false)

	if source == SourceGapFill {
		// A gap-filled bar backfills a timestamp strictly between two
		// already-present bars (or before the earliest), so it must be
		// spliced into its sorted position rather than appended at the
		// ring's tail.
		data.InsertSorted(bar)
	} else {
		if latest, ok := data.Latest(); ok && !bar.Timestamp.After(latest.Timestamp) {
			return errors.Wrapf(types.ErrOutOfOrder, "append_bar(%s/%s): %s is not after latest %s", symbol, interval, bar.Timestamp, latest.Timestamp)
		}
		data.Append(bar)
	}
	rec.ApplyMetricsBar(bar)

	// data.Latest() reflects the ring's true chronological tail after
	// either write above, so the latest-bar pointer only ever advances to
	// the inserted bar when it actually is the newest — a gap-fill for an
	// older hole leaves latestBar untouched (spec.md §4.6 item 3).
	if latest, ok := data.Latest(); ok {
		sd.latestBar.Store(latestKey(symbol, interval), latest)
	}
	sd.signalArrival()

	return nil
}

// InsertGapFilledBar is the privileged path used exclusively by the
// data-quality manager to backfill a detected gap. It is identical to
// AppendBar(..., SourceGapFill) but named distinctly so call sites make the
// privileged write obvious at a glance.
func (sd *SessionData) InsertGapFilledBar(symbol string, interval types.Interval, bar types.Bar) error {
	return sd.AppendBar(symbol, interval, bar, SourceGapFill)
}

// AddHistoricalBars promotes a full day's worth of bars into the
// historical record for (symbol, interval), evicting the oldest retained
// day once trailingDaysCap is exceeded.
func (sd *SessionData) AddHistoricalBars(symbol string, interval types.Interval, date string, bars []types.Bar, trailingDaysCap int) error {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return errors.Wrapf(types.ErrValidation, "add_historical_bars(%s/%s/%s): %v", symbol, interval, date, err)
		}
	}

	recs, release := sd.lockSymbols(symbol)
	defer release()
	recs[0].PromoteHistoricalDay(interval, date, bars, trailingDaysCap)
	return nil
}

// AddSessionBars bulk-appends an ordered run of bars to the current
// session buffer — used when a prefetch or reconnect handler must seed
// several bars at once rather than one at a time.
func (sd *SessionData) AddSessionBars(symbol string, interval types.Interval, bars []types.Bar, source AppendSource) error {
	for _, bar := range bars {
		if err := sd.AppendBar(symbol, interval, bar, source); err != nil {
			return err
		}
	}
	return nil
}

func (sd *SessionData) AppendTick(symbol string, tick types.Tick) error {
	recs, release := sd.lockSymbols(symbol)
	defer release()
	if locked, reason := recs[0].IsLocked(); locked {
		return errors.Wrapf(types.ErrSymbolLocked, "%s: %s", symbol, reason)
	}
	recs[0].AppendTick(tick)
	sd.signalArrival()
	return nil
}

func (sd *SessionData) AppendQuote(symbol string, quote types.Quote) error {
	recs, release := sd.lockSymbols(symbol)
	defer release()
	if locked, reason := recs[0].IsLocked(); locked {
		return errors.Wrapf(types.ErrSymbolLocked, "%s: %s", symbol, reason)
	}
	recs[0].AppendQuote(quote)
	sd.signalArrival()
	return nil
}
