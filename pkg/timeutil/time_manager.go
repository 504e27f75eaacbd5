// Package timeutil implements the TimeManager: the single authority for
// "now", trading-session hours, and date arithmetic over the exchange
// calendar (spec.md §4.1).
package timeutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/types"
)

type cachedSession struct {
	session repository.TradingSession
	cachedAt time.Time
}

// CacheStats are the observability counters spec.md §4.1 requires.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// TimeManager is the only authority for "now" and the trading calendar.
// Safe for concurrent use.
type TimeManager struct {
	mode types.Mode
	loc  *time.Location
	repo repository.Repository

	mu            sync.Mutex
	simulatedTime time.Time

	lastQueryKey   string
	lastQueryValue repository.TradingSession
	lastQueryOK    bool

	lruCache *lru

	redisClient *redis.Client // optional distributed backing; nil => pure in-memory

	hits   int64
	misses int64

	calendarUnavailable int32
}

// Option configures a TimeManager at construction.
type Option func(*TimeManager)

// WithRedisCache backs the bounded LRU with a Redis instance so multiple
// TimeManager instances (e.g. across processes) can share calendar lookups.
// The in-memory LRU and one-slot cache remain the fast path; Redis is only
// consulted on a local miss and its failures are logged and ignored
// (best-effort, matching the TransientExternal posture of spec.md §7).
func WithRedisCache(client *redis.Client) Option {
	return func(tm *TimeManager) { tm.redisClient = client }
}

func WithLRUCapacity(n int) Option {
	return func(tm *TimeManager) { tm.lruCache = newLRU(n) }
}

func New(mode types.Mode, loc *time.Location, repo repository.Repository, opts ...Option) *TimeManager {
	if loc == nil {
		loc = time.UTC
	}
	tm := &TimeManager{
		mode:     mode,
		loc:      loc,
		repo:     repo,
		lruCache: newLRU(100),
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Now returns the current authoritative time: real wall time in live mode,
// the stored simulated time in backtest mode.
func (tm *TimeManager) Now() time.Time {
	if tm.mode == types.ModeLive {
		return time.Now().In(tm.loc)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.simulatedTime
}

// SetBacktestTime sets the simulated clock. It fails with IllegalState if
// called in live mode, and must be monotonic non-decreasing within a
// session — the one exception being the session-boundary handler, which
// passes allowDecrease=true when rolling to the next trading day's open.
func (tm *TimeManager) SetBacktestTime(t time.Time, allowDecrease bool) error {
	if tm.mode != types.ModeLive {
		tm.mu.Lock()
		defer tm.mu.Unlock()

		if !allowDecrease && !tm.simulatedTime.IsZero() && t.Before(tm.simulatedTime) {
			return errors.Wrapf(types.ErrIllegalState, "clock cannot move backward: %s -> %s", tm.simulatedTime, t)
		}

		tm.simulatedTime = t.In(tm.loc)
		return nil
	}

	return errors.Wrap(types.ErrIllegalState, "set_backtest_time called in live mode")
}

func cacheKey(date time.Time, exchangeGroup, assetClass string) string {
	return fmt.Sprintf("%s|%s|%s", date.Format("2006-01-02"), exchangeGroup, assetClass)
}

// GetTradingSession returns the regular session hours for date at the
// given exchange group/asset class, consulting the one-slot last-query
// cache, then the bounded LRU (optionally redis-backed), then the
// repository.
func (tm *TimeManager) GetTradingSession(ctx context.Context, date time.Time, exchangeGroup, assetClass string) (repository.TradingSession, error) {
	key := cacheKey(date, exchangeGroup, assetClass)

	tm.mu.Lock()
	if tm.lastQueryOK && tm.lastQueryKey == key {
		v := tm.lastQueryValue
		tm.mu.Unlock()
		atomic.AddInt64(&tm.hits, 1)
		return v, nil
	}

	if v, ok := tm.lruCache.get(key); ok {
		tm.lastQueryKey, tm.lastQueryValue, tm.lastQueryOK = key, v.session, true
		tm.mu.Unlock()
		atomic.AddInt64(&tm.hits, 1)
		return v.session, nil
	}
	tm.mu.Unlock()

	if tm.redisClient != nil {
		if v, ok := tm.getRedis(ctx, key); ok {
			tm.mu.Lock()
			tm.lruCache.put(key, cachedSession{session: v, cachedAt: time.Now()})
			tm.lastQueryKey, tm.lastQueryValue, tm.lastQueryOK = key, v, true
			tm.mu.Unlock()
			atomic.AddInt64(&tm.hits, 1)
			return v, nil
		}
	}

	atomic.AddInt64(&tm.misses, 1)

	session, err := tm.repo.GetTradingSession(ctx, date, exchangeGroup, assetClass)
	if err != nil {
		atomic.StoreInt32(&tm.calendarUnavailable, 1)
		return repository.TradingSession{}, errors.Wrapf(types.ErrCalendarUnavailable, "get_trading_session(%s): %v", key, err)
	}
	atomic.StoreInt32(&tm.calendarUnavailable, 0)

	tm.mu.Lock()
	tm.lruCache.put(key, cachedSession{session: session, cachedAt: time.Now()})
	tm.lastQueryKey, tm.lastQueryValue, tm.lastQueryOK = key, session, true
	tm.mu.Unlock()

	if tm.redisClient != nil {
		tm.putRedis(ctx, key, session)
	}

	return session, nil
}

func (tm *TimeManager) getRedis(ctx context.Context, key string) (repository.TradingSession, bool) {
	res, err := tm.redisClient.Get(ctx, "timeutil:"+key).Result()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).Debug("timeutil: redis cache get failed, falling back to repository")
		}
		return repository.TradingSession{}, false
	}
	ts, err := parseTradingSession(res)
	if err != nil {
		log.WithError(err).Debug("timeutil: redis cache value malformed")
		return repository.TradingSession{}, false
	}
	return ts, true
}

func (tm *TimeManager) putRedis(ctx context.Context, key string, session repository.TradingSession) {
	encoded := encodeTradingSession(session)
	if err := tm.redisClient.Set(ctx, "timeutil:"+key, encoded, 24*time.Hour).Err(); err != nil {
		log.WithError(err).Debug("timeutil: redis cache put failed")
	}
}

// IsTradingDay reports whether date ("YYYY-MM-DD", read in the manager's
// location) is a trading day for the given exchange group and asset class.
func (tm *TimeManager) IsTradingDay(ctx context.Context, date, exchangeGroup, assetClass string) (bool, error) {
	t, err := time.ParseInLocation("2006-01-02", date, tm.loc)
	if err != nil {
		return false, errors.Wrap(err, "invalid date")
	}
	session, err := tm.GetTradingSession(ctx, t, exchangeGroup, assetClass)
	if err != nil {
		return false, err
	}
	return session.IsTradingDay, nil
}

// IsHoliday reports whether date appears in the repository's holiday list
// for exchange. It is independent of IsTradingDay, which decides
// trading-day status from the session-hours calendar alone.
func (tm *TimeManager) IsHoliday(ctx context.Context, date time.Time, exchange string) (bool, error) {
	holidays, err := tm.repo.GetHolidays(ctx, exchange, date, date)
	if err != nil {
		return false, errors.Wrapf(types.ErrTransientExternal, "get_holidays: %v", err)
	}
	for _, h := range holidays {
		if sameDate(h, date) {
			return true, nil
		}
	}
	return false, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// GetNextTradingDate returns the n-th trading date strictly after from
// (exclusive of from itself).
func (tm *TimeManager) GetNextTradingDate(ctx context.Context, from time.Time, n int, exchangeGroup, assetClass string) (time.Time, error) {
	if n <= 0 {
		return time.Time{}, errors.New("n must be > 0")
	}

	cursor := from
	found := 0
	for guard := 0; guard < 3660; guard++ { // ~10 years of calendar days as a sane search bound
		cursor = cursor.AddDate(0, 0, 1)
		session, err := tm.GetTradingSession(ctx, cursor, exchangeGroup, assetClass)
		if err != nil {
			return time.Time{}, err
		}
		if session.IsTradingDay {
			found++
			if found == n {
				return cursor, nil
			}
		}
	}

	return time.Time{}, errors.New("no trading date found within search bound")
}

// GetFirstTradingDate returns from if it is itself a trading day,
// otherwise the next trading date after it.
func (tm *TimeManager) GetFirstTradingDate(ctx context.Context, from time.Time, exchangeGroup, assetClass string) (time.Time, error) {
	session, err := tm.GetTradingSession(ctx, from, exchangeGroup, assetClass)
	if err != nil {
		return time.Time{}, err
	}
	if session.IsTradingDay {
		return from, nil
	}
	return tm.GetNextTradingDate(ctx, from, 1, exchangeGroup, assetClass)
}

// InvalidateCache clears the one-slot cache and the bounded LRU (not the
// optional redis backing, which expires on its own TTL).
func (tm *TimeManager) InvalidateCache() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.lastQueryOK = false
	tm.lruCache.clear()
}

func (tm *TimeManager) CacheStats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&tm.hits),
		Misses: atomic.LoadInt64(&tm.misses),
	}
}

// CalendarUnavailable reports whether the most recent repository calendar
// call failed (spec.md §4.1 failure mode).
func (tm *TimeManager) CalendarUnavailable() bool {
	return atomic.LoadInt32(&tm.calendarUnavailable) == 1
}

func encodeTradingSession(s repository.TradingSession) string {
	early := ""
	if s.EarlyClose != nil {
		early = s.EarlyClose.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%t",
		s.Date.Format(time.RFC3339), s.RegularOpen.Format(time.RFC3339), s.RegularClose.Format(time.RFC3339), early, s.IsTradingDay)
}

func parseTradingSession(raw string) (repository.TradingSession, error) {
	parts := splitN5(raw, '|')
	if len(parts) != 5 {
		return repository.TradingSession{}, errors.New("malformed cached trading session")
	}
	dateStr, openStr, closeStr, earlyStr, tradingStr := parts[0], parts[1], parts[2], parts[3], parts[4]

	date, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		return repository.TradingSession{}, err
	}
	open, err := time.Parse(time.RFC3339, openStr)
	if err != nil {
		return repository.TradingSession{}, err
	}
	closeT, err := time.Parse(time.RFC3339, closeStr)
	if err != nil {
		return repository.TradingSession{}, err
	}

	var earlyClose *time.Time
	if earlyStr != "" {
		t, err := time.Parse(time.RFC3339, earlyStr)
		if err == nil {
			earlyClose = &t
		}
	}

	return repository.TradingSession{
		Date:         date,
		RegularOpen:  open,
		RegularClose: closeT,
		EarlyClose:   earlyClose,
		IsTradingDay: tradingStr == "true",
	}, nil
}

func splitN5(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
