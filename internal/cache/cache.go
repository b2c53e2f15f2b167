// Package cache provides a bounded in-memory cache with LRU eviction, used
// for memoising parsed level templates.
package cache

import (
	"sync"
	"time"
)

// Cache is a simple in-memory cache with LRU eviction and per-item TTL.
type Cache struct {
	capacity int
	ttl      time.Duration
	mu       sync.RWMutex
	items    map[string]*cacheItem
	order    []string // LRU tracking, oldest first
}

type cacheItem struct {
	value     any
	expiresAt time.Time
}

// New creates a cache with the specified capacity and TTL. A capacity of
// zero means unbounded.
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheItem),
		order:    make([]string, 0, capacity),
	}
}

// Get retrieves an item from the cache.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		c.Delete(key)
		return nil, false
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()

	return item.value, true
}

// Set stores an item in the cache.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; exists {
		c.items[key] = &cacheItem{
			value:     value,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.moveToEnd(key)
		return
	}

	if len(c.items) >= c.capacity && c.capacity > 0 {
		c.evict()
	}

	c.items[key] = &cacheItem{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.order = append(c.order, key)
}

// Delete removes an item from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	c.removeFromOrder(key)
}

// Size returns the number of items in the cache.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evict removes the least recently used item.
func (c *Cache) evict() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.items, oldest)
}

func (c *Cache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// CleanupExpired removes all expired items and reports how many.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			c.removeFromOrder(key)
			removed++
		}
	}
	return removed
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
}

// Stats returns the current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

// TemplateCache memoises parsed level templates keyed by level id. Level
// ids recur on every lookup fan-out, so the parse is worth keeping.
type TemplateCache struct {
	cache *Cache
}

// NewTemplateCache creates a template cache.
func NewTemplateCache(capacity int, ttl time.Duration) *TemplateCache {
	return &TemplateCache{cache: New(capacity, ttl)}
}

// Get retrieves the parsed placeholder list for a level id.
func (c *TemplateCache) Get(levelID string) ([]string, bool) {
	v, ok := c.cache.Get(levelID)
	if !ok {
		return nil, false
	}
	names, ok := v.([]string)
	return names, ok
}

// Set stores the parsed placeholder list for a level id.
func (c *TemplateCache) Set(levelID string, names []string) {
	c.cache.Set(levelID, names)
}

// Size returns the cache size.
func (c *TemplateCache) Size() int {
	return c.cache.Size()
}

// CleanupExpired removes expired entries and reports how many.
func (c *TemplateCache) CleanupExpired() int {
	return c.cache.CleanupExpired()
}

// Stats returns the current cache statistics.
func (c *TemplateCache) Stats() Stats {
	return c.cache.Stats()
}
