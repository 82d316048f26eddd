package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// lru is a bounded in-process store. Values and counters share one recency
// list, so counters are evicted like any other entry once the limit is hit.
type lru struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	count     int64
	expiresAt time.Time
}

func newLRU(maxSize int) *lru {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &lru{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// live returns the unexpired entry for key and marks it recently used.
// Callers hold c.mu.
func (c *lru) live(key string) *lruEntry {
	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*lruEntry)
	if !c.now().Before(e.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil
	}
	c.order.MoveToFront(elem)
	return e
}

// put inserts or replaces the entry for e.key and evicts past the limit.
// Callers hold c.mu.
func (c *lru) put(e *lruEntry) {
	if elem, ok := c.items[e.key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}
	c.items[e.key] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lru) get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.live(key); e != nil {
		return e.value, nil
	}
	return nil, nil
}

func (c *lru) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(&lruEntry{key: key, value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *lru) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.live(key); e != nil {
		e.count++
		return e.count, nil
	}
	c.put(&lruEntry{key: key, count: 1, expiresAt: c.now().Add(window)})
	return 1, nil
}

func (c *lru) ping(ctx context.Context) error { return nil }

func (c *lru) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
