package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRU is the in-process fallback store, used when Redis is not
// configured and in tests. Entries expire by TTL and the oldest entry is
// evicted once maxEntries is reached.
type LRU struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
	now        func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func NewLRU(maxEntries int) *LRU {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &LRU{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (c *LRU) WithClock(now func() time.Time) *LRU {
	c.now = now
	return c
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return entry.value, true, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	el := c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el
	if c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *LRU) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*lruEntry)
	c.order.Remove(el)
	delete(c.items, entry.key)
}

// Len reports live entries, for ops visibility.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
