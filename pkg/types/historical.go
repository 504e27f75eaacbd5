package types

import "time"

// GapInfo describes a run of consecutive missing expected bar timestamps.
type GapInfo struct {
	Start time.Time
	End   time.Time
	Count int
}

// HistoricalIntervalData holds trailing-day bars for one (symbol, interval)
// pair, keyed by trading date (YYYY-MM-DD), plus the rolling bar-quality
// metric and outstanding gaps.
type HistoricalIntervalData struct {
	Interval Interval
	BarsByDate map[string][]Bar
	Quality    float64
	Gaps       []GapInfo
}

func NewHistoricalIntervalData(interval Interval) *HistoricalIntervalData {
	return &HistoricalIntervalData{
		Interval:   interval,
		BarsByDate: make(map[string][]Bar),
	}
}

// TotalBars counts all bars across all retained days.
func (h *HistoricalIntervalData) TotalBars() int {
	n := 0
	for _, bars := range h.BarsByDate {
		n += len(bars)
	}
	return n
}

// PromoteDay appends a day's worth of current-session bars as a new
// historical day, then drops the oldest day if the trailing-day cap is
// exceeded.
func (h *HistoricalIntervalData) PromoteDay(date string, bars []Bar, trailingDaysCap int, dateOrder []string) []string {
	h.BarsByDate[date] = bars
	dateOrder = append(dateOrder, date)

	for trailingDaysCap > 0 && len(dateOrder) > trailingDaysCap {
		oldest := dateOrder[0]
		dateOrder = dateOrder[1:]
		delete(h.BarsByDate, oldest)
	}

	return dateOrder
}
