package types

// SessionMetrics tracks the running per-symbol session statistics computed
// incrementally as bars arrive.
type SessionMetrics struct {
	Open             float64
	High             float64
	Low              float64
	Close            float64
	CumulativeVolume float64
	VWAPNumerator    float64
	VWAPDenominator  float64
	TradeCount       int64

	initialized bool
}

// ApplyBar folds a newly-appended bar into the running metrics.
func (m *SessionMetrics) ApplyBar(bar Bar) {
	if !m.initialized {
		m.Open = bar.Open
		m.High = bar.High
		m.Low = bar.Low
		m.initialized = true
	} else {
		if bar.High > m.High {
			m.High = bar.High
		}
		if bar.Low < m.Low {
			m.Low = bar.Low
		}
	}

	m.Close = bar.Close
	m.CumulativeVolume += bar.Volume

	typicalPrice := (bar.High + bar.Low + bar.Close) / 3
	m.VWAPNumerator += typicalPrice * bar.Volume
	m.VWAPDenominator += bar.Volume
	m.TradeCount++
}

// VWAP returns the volume-weighted average price accumulated so far, or 0
// if no volume has been observed.
func (m *SessionMetrics) VWAP() float64 {
	if m.VWAPDenominator == 0 {
		return 0
	}
	return m.VWAPNumerator / m.VWAPDenominator
}

// Reset clears the running metrics, used by start_new_session/roll_session.
func (m *SessionMetrics) Reset() {
	*m = SessionMetrics{}
}
