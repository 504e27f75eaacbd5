package sessiondata

import (
	"time"

	"github.com/marketsession/engine/pkg/types"
)

// IndicatorIdentitiesForInterval returns the identities of every indicator
// on symbol whose configured interval equals interval — the set the
// quality manager's warmup sweep should update after a new bar on that
// interval.
func (sd *SessionData) IndicatorIdentitiesForInterval(symbol string, interval types.Interval) []string {
	s, err := sd.getSymbol(symbol)
	if err != nil {
		return nil
	}
	s.RLock()
	defer s.RUnlock()

	var out []string
	for identity, meta := range s.IndicatorMetadataMap() {
		if meta.Config.Interval == interval {
			out = append(out, identity)
		}
	}
	return out
}

// MarkIndicatorWarmup records how many bars have accumulated on an
// indicator's interval since registration (core bookkeeping only — this
// module does not compute indicator values).
func (sd *SessionData) MarkIndicatorWarmup(symbol, identity string, barsSeen int, at time.Time) error {
	recs, release := sd.lockSymbols(symbol)
	defer release()
	m, ok := recs[0].Indicator(identity)
	if !ok {
		return nil
	}
	m.MarkWarmupProgress(barsSeen, at)
	return nil
}
