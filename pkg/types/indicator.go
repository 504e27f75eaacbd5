package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/camelcase"
)

// IndicatorSource records whether an indicator was provisioned from the
// session config or added adhoc (scanner, downstream engine, external
// request).
type IndicatorSource string

const (
	IndicatorSourceConfig IndicatorSource = "config"
	IndicatorSourceAdhoc  IndicatorSource = "adhoc"
)

// DefaultWarmupMultiplier is applied when an indicator request does not
// declare one.
const DefaultWarmupMultiplier = 2.0

// IndicatorConfig is a tagged-sum-ish request for one indicator: a kind
// name, its core numeric parameters, and an opaque params map for anything
// kind-specific the core does not need to understand (indicator math is
// out of scope; the core only orchestrates registration, warmup and update
// cadence).
type IndicatorConfig struct {
	Kind             string
	Interval         Interval
	Period           int
	WarmupMultiplier float64
	Params           map[string]interface{}
}

func (c IndicatorConfig) warmupMultiplier() float64 {
	if c.WarmupMultiplier <= 0 {
		return DefaultWarmupMultiplier
	}
	return c.WarmupMultiplier
}

// WarmupBars is ceil(period * multiplier).
func (c IndicatorConfig) WarmupBars() int {
	m := c.warmupMultiplier()
	bars := float64(c.Period) * m
	n := int(bars)
	if float64(n) < bars {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// normalizeParamKey canonicalizes an opaque param key so that "fastPeriod"
// and "FastPeriod" participate in the same indicator identity: it splits
// the key on camelCase boundaries and lower-joins the parts.
func normalizeParamKey(key string) string {
	parts := camelcase.Split(key)
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, "_")
}

// Identity returns the stable identity key for this indicator config:
// kind/interval/period/ followed by its normalized params rendered as
// sorted key=value pairs. Two configs with the same identity refer to the same indicator
// instance (spec.md's dedup invariant for repeated add_indicator calls).
func (c IndicatorConfig) Identity() string {
	keys := make([]string, 0, len(c.Params))
	normalized := make(map[string]interface{}, len(c.Params))
	for k, v := range c.Params {
		nk := normalizeParamKey(k)
		normalized[nk] = v
		keys = append(keys, nk)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, normalized[k])
	}

	return fmt.Sprintf("%s/%s/%d/%s", c.Kind, c.Interval, c.Period, sb.String())
}

// IndicatorMetadata is the SessionData-held record of one provisioned
// indicator on one symbol.
type IndicatorMetadata struct {
	Identity    string
	Config      IndicatorConfig
	Value       float64
	Valid       bool
	LastUpdated time.Time
	Source      IndicatorSource
	WarmupBars  int
	seenBars    int
}

// ObserveBar is called once per new bar on the indicator's interval by a
// downstream engine that actually computes indicator values; once
// seenBars reaches WarmupBars the indicator becomes valid.
func (m *IndicatorMetadata) ObserveBar(value float64, at time.Time) {
	m.seenBars++
	m.Value = value
	m.LastUpdated = at
	if m.seenBars >= m.WarmupBars {
		m.Valid = true
	}
}

// MarkWarmupProgress is the core's own warmup bookkeeping: it does not
// compute an indicator value (that is out of scope for this module), only
// tracks how many bars its interval has accumulated since registration and
// flips Valid once WarmupBars is reached.
func (m *IndicatorMetadata) MarkWarmupProgress(barsSeenOnInterval int, at time.Time) {
	m.seenBars = barsSeenOnInterval
	m.LastUpdated = at
	if m.seenBars >= m.WarmupBars {
		m.Valid = true
	}
}
