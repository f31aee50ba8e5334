package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// LRUCache is an in-process, size-bounded fallback cache. It never errors
// on Ping, so it can serve as the permanent backend once a DegradingCache
// has fallen over.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewLRUCache creates an LRU cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRUCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	entry := el.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, ErrNotFound
	}
	c.ll.MoveToFront(el)
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return nil
	}

	el := c.ll.PushFront(&lruEntry{key: key, value: stored, expiresAt: expiresAt})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
	return nil
}

// DeleteByPattern removes every key with the given prefix.
func (c *LRUCache) DeleteByPattern(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.ll.Remove(el)
			delete(c.items, key)
		}
	}
	return nil
}

// Clear removes every entry.
func (c *LRUCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	return nil
}

// Ping always succeeds; the LRU cache has no external dependency to fail.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// IsAvailable always reports true for the same reason Ping never errors.
func (c *LRUCache) IsAvailable(ctx context.Context) bool {
	return true
}

// Len reports the current entry count, for tests and metrics.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
