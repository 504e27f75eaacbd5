// Package streamfeed implements the StreamCoordinator (spec.md §4.5): a
// k-way merge of per-stream bounded queues producing a strictly
// chronological sequence of items.
package streamfeed

import (
	"container/heap"
	"sync"

	"github.com/marketsession/engine/pkg/types"
)

// NextStatus distinguishes "nothing ready right now, streams may still
// produce more" from "every attached stream is exhausted".
type NextStatus int

const (
	Ready NextStatus = iota
	Empty
	Drained
)

// pendingHeap orders the cached stream heads by the deterministic
// tie-break: timestamp ascending, then kind priority, then symbol, then
// interval seconds (types.StreamKey.Less encodes the latter three).
type pendingHeap struct {
	keys  []types.StreamKey
	items map[types.StreamKey]types.Item
}

func (h pendingHeap) Len() int { return len(h.keys) }

func (h pendingHeap) Less(i, j int) bool {
	a, b := h.items[h.keys[i]], h.items[h.keys[j]]
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return h.keys[i].Less(h.keys[j])
}

func (h pendingHeap) Swap(i, j int) { h.keys[i], h.keys[j] = h.keys[j], h.keys[i] }

func (h *pendingHeap) Push(x interface{}) { h.keys = append(h.keys, x.(types.StreamKey)) }

func (h *pendingHeap) Pop() interface{} {
	old := h.keys
	n := len(old)
	k := old[n-1]
	h.keys = old[:n-1]
	return k
}

// Coordinator merges one input channel per active (symbol, kind, interval)
// stream. Each channel is fed by a prefetch worker and closed by it to
// signal exhaustion (the Go-idiomatic form of spec.md's "sentinel").
type Coordinator struct {
	mu sync.Mutex

	queues    map[types.StreamKey]<-chan types.Item
	exhausted map[types.StreamKey]bool
	h         pendingHeap
}

func New() *Coordinator {
	return &Coordinator{
		queues:    make(map[types.StreamKey]<-chan types.Item),
		exhausted: make(map[types.StreamKey]bool),
		h:         pendingHeap{items: make(map[types.StreamKey]types.Item)},
	}
}

// AttachStream registers a new active stream fed by ch.
func (c *Coordinator) AttachStream(key types.StreamKey, ch <-chan types.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[key] = ch
	delete(c.exhausted, key)
}

// DetachStream removes a stream (e.g. a symbol was removed adhoc). It does
// not close ch — the feeder owns that.
func (c *Coordinator) DetachStream(key types.StreamKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, key)
	delete(c.exhausted, key)
	if _, ok := c.h.items[key]; ok {
		delete(c.h.items, key)
		c.removeFromHeapKeys(key)
	}
}

func (c *Coordinator) removeFromHeapKeys(key types.StreamKey) {
	for i, k := range c.h.keys {
		if k == key {
			heap.Remove(&c.h, i)
			return
		}
	}
}

// refillEmptyHeads attempts one non-blocking receive for every active
// stream that currently has no cached pending head, updating the heap and
// marking streams exhausted when their channel is closed.
func (c *Coordinator) refillEmptyHeads() {
	for key, ch := range c.queues {
		if _, has := c.h.items[key]; has {
			continue
		}
		select {
		case item, ok := <-ch:
			if !ok {
				c.exhausted[key] = true
				delete(c.queues, key)
				continue
			}
			c.h.items[key] = item
			heap.Push(&c.h, key)
		default:
			// nothing ready yet on this stream this round
		}
	}
}

// Next returns the chronologically-oldest item across all active streams.
// Ready means item is valid; Empty means no item is ready right now but
// at least one stream is still active (caller should sleep/retry); Drained
// means every attached stream has been exhausted.
func (c *Coordinator) Next() (types.Item, NextStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refillEmptyHeads()

	if c.h.Len() == 0 {
		if len(c.queues) == 0 {
			return types.Item{}, Drained
		}
		return types.Item{}, Empty
	}

	key := heap.Pop(&c.h).(types.StreamKey)
	item := c.h.items[key]
	delete(c.h.items, key)

	return item, Ready
}

// ActiveStreamCount reports how many streams are still attached
// (not yet exhausted). Useful for status-document reporting.
func (c *Coordinator) ActiveStreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues)
}
