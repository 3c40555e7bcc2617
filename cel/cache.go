package cel

import (
	"sync"
	"time"
)

// CacheConfig holds configuration for the parse cache
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// MaxEntries bounds the number of cached expressions; the oldest entry is
	// evicted when the cache is full. 0 means unbounded.
	MaxEntries int
}

// DefaultCacheConfig returns the configuration used by New
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        0,
		MaxEntries: 1024,
	}
}

// ParseCache keeps the analysis of condition texts so that identical
// conditions across rule blocks are parsed once.
// Thread-safe for concurrent access
type ParseCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

type cacheEntry struct {
	parsed   *parsed
	cachedAt time.Time
}

// NewParseCache creates an empty parse cache
func NewParseCache(config CacheConfig) *ParseCache {
	return &ParseCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

func (c *ParseCache) get(text string) (*parsed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[text]
	if !ok {
		return nil, false
	}
	if c.config.TTL > 0 && time.Since(e.cachedAt) > c.config.TTL {
		return nil, false
	}
	return e.parsed, true
}

func (c *ParseCache) set(text string, p *parsed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[text]; !exists && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}
	c.entries[text] = cacheEntry{parsed: p, cachedAt: time.Now()}
}

// evictOldest must be called with the write lock held
func (c *ParseCache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.cachedAt.Before(oldest) {
			oldestKey, oldest, found = k, e.cachedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Invalidate clears the cache
func (c *ParseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of cached expressions, expired ones included
func (c *ParseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
