package timeutil

import "container/list"

// lru is a small bounded least-recently-used cache. No third-party LRU
// implementation appears anywhere in the retrieved pack, so this is built
// on container/list, the idiomatic stdlib building block for an LRU's
// intrusive doubly-linked list (see DESIGN.md).
type lru struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key   string
	value cachedSession
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = 100
	}
	return &lru{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lru) get(key string) (cachedSession, bool) {
	el, ok := c.items[key]
	if !ok {
		return cachedSession{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lru) put(key string, value cachedSession) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lru) clear() {
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *lru) len() int {
	return c.ll.Len()
}
