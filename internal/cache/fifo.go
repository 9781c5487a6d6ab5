// Package cache provides caching implementations for ClickShield.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// FIFOCache is a thread-safe bounded cache with TTL support.
// Eviction is insertion-ordered: when over capacity the earliest-inserted
// entry is dropped. Reads do not promote an entry; this is deliberate
// (not LRU) so that eviction depends only on when an entry was written.
// Used as the Community tier cache and as L1 in two-tier caching.
type FIFOCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List // front = oldest inserted, back = newest
	counters map[string]*counterEntry

	// now is injectable for tests.
	now func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewFIFOCache creates a new insertion-ordered cache with the specified
// max size.
func NewFIFOCache(maxSize int) *FIFOCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &FIFOCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		now:      time.Now,
	}
}

// SetClock overrides the cache's time source. Test use only.
func (c *FIFOCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get retrieves a value from cache. Expired entries read as misses.
func (c *FIFOCache) Get(ctx context.Context, accountID string, key string) ([]byte, error) {
	if accountID == "" {
		return nil, fmt.Errorf("accountID is required")
	}

	fullKey := c.makeKey(accountID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	return entry.value, nil
}

// Set stores a value in cache with TTL. Writing an existing key refreshes
// value and expiry but keeps its original insertion position.
func (c *FIFOCache) Set(ctx context.Context, accountID string, key string, value []byte, ttl time.Duration) error {
	if accountID == "" {
		return fmt.Errorf("accountID is required")
	}

	fullKey := c.makeKey(accountID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = c.now().Add(ttl)
		return nil
	}

	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	elem := c.order.PushBack(entry)
	c.items[fullKey] = elem

	// Evict earliest-inserted entries while over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *FIFOCache) Delete(ctx context.Context, accountID string, key string) error {
	if accountID == "" {
		return fmt.Errorf("accountID is required")
	}

	fullKey := c.makeKey(accountID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// IncrementCounter atomically increments a windowed counter.
func (c *FIFOCache) IncrementCounter(ctx context.Context, accountID string, key string, window time.Duration) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("accountID is required")
	}

	fullKey := c.makeKey(accountID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counters[fullKey]

	if !ok || now.After(entry.expiresAt) {
		// Start new counter window
		c.counters[fullKey] = &counterEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *FIFOCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *FIFOCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns cache statistics.
func (c *FIFOCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *FIFOCache) makeKey(accountID, key string) string {
	return accountID + ":" + key
}

func (c *FIFOCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *FIFOCache) removeOldest() {
	// Reclaim an already-expired entry before evicting a live one.
	now := c.now()
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			c.removeElement(elem)
			return
		}
	}
	if elem := c.order.Front(); elem != nil {
		c.removeElement(elem)
	}
}
