package sessiondata

import (
	"context"
	"sync"
)

// arrivalEvent is a context-aware broadcast primitive: every Wait call
// blocks on the channel current at call time, and Broadcast wakes every
// waiter by closing it and installing a fresh one. No third-party pub/sub
// or broadcast library appears anywhere in the retrieved pack, and
// sync.Cond cannot be selected against a context's Done channel, so this
// is built directly on a channel swap (see DESIGN.md).
type arrivalEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

func newArrivalEvent() *arrivalEvent {
	return &arrivalEvent{ch: make(chan struct{})}
}

// Wait blocks until the next Broadcast or until ctx is done.
func (e *arrivalEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast wakes every current waiter.
func (e *arrivalEvent) Broadcast() {
	e.mu.Lock()
	close(e.ch)
	e.ch = make(chan struct{})
	e.mu.Unlock()
}
