// Package prefetch implements the PrefetchWorker (spec.md §4.7): it loads a
// bounded window of historical data from the repository into a stream's
// queue without blocking the coordinator, respecting queue backpressure and
// a throttled repository call rate.
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/marketsession/engine/pkg/repository"
	"github.com/marketsession/engine/pkg/types"
)

// QueueCapacity bounds every prefetch-fed channel; once full, the loading
// goroutine blocks on send, which is the backpressure spec.md §4.7 asks for.
const QueueCapacity = 512

// LoadResult is returned by a Handle's Wait once loading has finished (or
// failed, or the wait timed out).
type LoadResult struct {
	ItemsLoaded int
	Err         error
	TimedOut    bool
}

// Handle is returned by StartPrefetch: the stream's consumer-facing channel
// plus a way to learn when loading has completed.
type Handle struct {
	ID  string
	Key types.StreamKey

	Ch <-chan types.Item

	done   chan struct{}
	once   sync.Once
	result LoadResult
}

func newHandle(id string, key types.StreamKey, ch <-chan types.Item) *Handle {
	return &Handle{ID: id, Key: key, Ch: ch, done: make(chan struct{})}
}

func (h *Handle) finish(res LoadResult) {
	h.once.Do(func() {
		h.result = res
		close(h.done)
	})
}

// Wait blocks until the load finishes or timeout elapses, whichever comes
// first. Calling Wait more than once is safe; every caller after the first
// observes the same result.
func (h *Handle) Wait(timeout time.Duration) LoadResult {
	select {
	case <-h.done:
		return h.result
	case <-time.After(timeout):
		return LoadResult{TimedOut: true}
	}
}

// Worker is the PrefetchWorker. Pool size 1 initially per spec.md §4.7: a
// single worker serializes repository calls through its own rate limiter,
// though StartPrefetch itself may be called concurrently for distinct
// streams (each gets its own loading goroutine and its own queue).
type Worker struct {
	repo    repository.Repository
	limiter *rate.Limiter
}

// New constructs a Worker throttled to one repository call every interval
// on average, with up to burst calls allowed at once, matching the
// teacher's market-data limiter shape.
func New(repo repository.Repository, interval time.Duration, burst int) *Worker {
	return &Worker{
		repo:    repo,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// StartPrefetch loads [startTime, sessionClose) for key's (symbol, kind,
// interval) — or the whole trading day if startTime is zero — into a newly
// created bounded channel, returning immediately with a Handle. Loading runs
// on its own goroutine; ctx cancellation aborts it early.
func (w *Worker) StartPrefetch(ctx context.Context, key types.StreamKey, sessionClose, startTime time.Time) *Handle {
	ch := make(chan types.Item, QueueCapacity)
	h := newHandle(uuid.NewString(), key, ch)

	from := startTime
	if from.IsZero() {
		from = sessionClose.Add(-24 * time.Hour)
	}

	go w.load(ctx, h, ch, key, from, sessionClose)

	return h
}

func (w *Worker) load(ctx context.Context, h *Handle, ch chan<- types.Item, key types.StreamKey, from, to time.Time) {
	defer close(ch)

	count, err := w.loadInto(ctx, ch, key, from, to)

	h.finish(LoadResult{ItemsLoaded: count, Err: err})

	log.WithFields(log.Fields{
		"prefetch_id": h.ID,
		"symbol":      key.Symbol,
		"kind":        key.Kind,
		"items":       count,
	}).Debug("prefetch: load complete")
}

func (w *Worker) loadInto(ctx context.Context, ch chan<- types.Item, key types.StreamKey, from, to time.Time) (int, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	count := 0

	switch key.Kind {
	case types.StreamKindBar:
		bars, err := w.repo.GetBars(ctx, key.Symbol, key.Interval, from, to)
		if err != nil {
			return 0, err
		}
		for _, bar := range bars {
			item := types.NewBarItem(key.Symbol, key.Interval, bar)
			if !w.send(ctx, ch, item) {
				return count, ctx.Err()
			}
			count++
		}
	case types.StreamKindTick:
		ticks, err := w.repo.GetTicks(ctx, key.Symbol, from, to)
		if err != nil {
			return 0, err
		}
		for _, tick := range ticks {
			item := types.NewTickItem(key.Symbol, tick)
			if !w.send(ctx, ch, item) {
				return count, ctx.Err()
			}
			count++
		}
	case types.StreamKindQuote:
		quotes, err := w.repo.GetQuotes(ctx, key.Symbol, from, to)
		if err != nil {
			return 0, err
		}
		for _, quote := range quotes {
			item := types.NewQuoteItem(key.Symbol, quote)
			if !w.send(ctx, ch, item) {
				return count, ctx.Err()
			}
			count++
		}
	}

	return count, nil
}

// send blocks on the bounded channel (the backpressure spec.md §4.7 asks
// for) but still honors ctx cancellation.
func (w *Worker) send(ctx context.Context, ch chan<- types.Item, item types.Item) bool {
	select {
	case ch <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
