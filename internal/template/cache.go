package template

import (
	"sync"
	"time"
)

const (
	// DefaultCacheTTL bounds how long a resolved template stays reusable.
	DefaultCacheTTL = 30 * time.Minute
	// DefaultCacheSize bounds how many templates are kept resident.
	DefaultCacheSize = 16
)

type cacheEntry struct {
	template   *Template
	insertedAt time.Time
}

// Cache is a TTL plus size bounded template cache. It is deliberately not an
// LRU: Get never refreshes an entry's insertion time, and eviction on insert
// removes the single oldest entry by insertion time.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewCache creates a template cache. Non-positive ttl or maxSize fall back
// to the defaults.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached template for id if present and unexpired. An
// expired entry is removed on access and reported as absent.
func (c *Cache) Get(id string) (*Template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		delete(c.entries, id)
		return nil, false
	}
	return entry.template, true
}

// Set inserts a template, evicting the oldest entry first when the cache is
// at capacity.
func (c *Cache) Set(id string, tmpl *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[id] = cacheEntry{template: tmpl, insertedAt: c.now()}
}

// Prune removes every expired entry. Intended for periodic housekeeping.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := c.now()
	for id, entry := range c.entries {
		if cutoff.Sub(entry.insertedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldest() {
	var oldestID string
	var oldestAt time.Time
	first := true
	for id, entry := range c.entries {
		if first || entry.insertedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = entry.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestID)
	}
}
