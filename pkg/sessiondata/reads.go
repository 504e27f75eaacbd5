package sessiondata

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/marketsession/engine/pkg/types"
)

// GetLatestBar is the O(1) lock-free fast path: it never touches the
// registry lock or a symbol's mutex, only the atomic pointer map.
func (sd *SessionData) GetLatestBar(symbol string, interval types.Interval) (types.Bar, bool) {
	v, ok := sd.latestBar.Load(latestKey(symbol, interval))
	if !ok {
		return types.Bar{}, false
	}
	return v.(types.Bar), true
}

func (sd *SessionData) GetLastN(symbol string, interval types.Interval, n int) ([]types.Bar, error) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()
	data, ok := s.Interval(interval)
	if !ok {
		return nil, errors.Wrapf(types.ErrNoData, "no interval %s provisioned for %s", interval, symbol)
	}
	return data.LastN(n), nil
}

func (sd *SessionData) GetBarsSince(symbol string, interval types.Interval, since types.Bar) ([]types.Bar, error) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()
	data, ok := s.Interval(interval)
	if !ok {
		return nil, errors.Wrapf(types.ErrNoData, "no interval %s provisioned for %s", interval, symbol)
	}
	return data.SinceTime(since.Timestamp), nil
}

// GetHistorical returns a snapshot of the historical record for
// (symbol, interval): a shallow copy safe to read without holding any lock.
func (sd *SessionData) GetHistorical(symbol string, interval types.Interval) (types.HistoricalIntervalData, error) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return types.HistoricalIntervalData{}, err
	}
	s.RLock()
	defer s.RUnlock()
	h, ok := s.Historical(interval)
	if !ok {
		return types.HistoricalIntervalData{}, errors.Wrapf(types.ErrNoData, "no historical data for %s/%s", symbol, interval)
	}

	copied := types.HistoricalIntervalData{
		Interval:   h.Interval,
		Quality:    h.Quality,
		BarsByDate: make(map[string][]types.Bar, len(h.BarsByDate)),
		Gaps:       append([]types.GapInfo(nil), h.Gaps...),
	}
	for date, bars := range h.BarsByDate {
		copied.BarsByDate[date] = append([]types.Bar(nil), bars...)
	}
	return copied, nil
}

// GetAllIncludingHistorical concatenates historical days (chronological,
// since dates are retained as "YYYY-MM-DD" keys and sort lexicographically
// in date order) with the current session's bars, oldest first.
func (sd *SessionData) GetAllIncludingHistorical(symbol string, interval types.Interval) ([]types.Bar, error) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()

	var out []types.Bar
	if h, ok := s.Historical(interval); ok {
		dates := make([]string, 0, len(h.BarsByDate))
		for date := range h.BarsByDate {
			dates = append(dates, date)
		}
		sort.Strings(dates)
		for _, date := range dates {
			out = append(out, h.BarsByDate[date]...)
		}
	}
	if data, ok := s.Interval(interval); ok {
		out = append(out, data.LastN(data.Len())...)
	}
	return out, nil
}

func (sd *SessionData) GetIndicator(symbol, identity string) (types.IndicatorMetadata, error) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return types.IndicatorMetadata{}, err
	}
	s.RLock()
	defer s.RUnlock()
	m, ok := s.Indicator(identity)
	if !ok {
		return types.IndicatorMetadata{}, errors.Wrapf(types.ErrNoData, "no indicator %s on %s", identity, symbol)
	}
	return *m, nil
}

func (sd *SessionData) GetSessionMetrics(symbol string) (types.SessionMetrics, error) {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return types.SessionMetrics{}, err
	}
	s.RLock()
	defer s.RUnlock()
	return s.Metrics(), nil
}
