package stream

import (
	"context"
	"sync"
)

// PauseGate is the set/clear gate shared by the coordinator's public
// pause()/resume() API and internal pauses (e.g. mid-session dynamic add
// needing historical catch-up, spec.md §5). It starts open.
type PauseGate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

func NewPauseGate() *PauseGate {
	g := &PauseGate{ch: make(chan struct{}), open: true}
	close(g.ch) // closed channel reads immediately: gate starts open
	return g
}

// Close closes the gate: subsequent Wait calls block until Open.
func (g *PauseGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.ch = make(chan struct{})
		g.open = false
	}
}

// Open opens the gate, releasing any blocked waiters.
func (g *PauseGate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		close(g.ch)
		g.open = true
	}
}

// IsOpen reports the gate's current state without blocking.
func (g *PauseGate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate is open or ctx is done.
func (g *PauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
