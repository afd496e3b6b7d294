// Package cache provides a process-local TTL cache for expensive read
// operations. Entries expire lazily on access and are additionally removed
// by a background sweep, so keys that are never re-read do not accumulate.
package cache

import (
	"sync"
	"time"
)

// entry holds a cached value with its creation time and TTL
type entry[V any] struct {
	value     V
	timestamp time.Time
	ttl       time.Duration
}

// expired reports whether the entry is past its TTL at the given time
func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// Config defines cache configuration
type Config struct {
	// SweepInterval is how often the background sweep removes expired entries
	SweepInterval time.Duration
	// MaxEntries is the maximum number of entries to keep (0 = unlimited)
	MaxEntries int
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		SweepInterval: 1 * time.Minute,
		MaxEntries:    10000,
	}
}

// Cache is an in-process TTL cache. All methods are safe for concurrent use.
// WithCache does not hold the lock across compute, so concurrent callers that
// miss the same key may each run compute; the last Set wins.
type Cache[V any] struct {
	entries   map[string]*entry[V]
	mu        sync.RWMutex
	config    *Config
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background sweep
func New[V any](config *Config) *Cache[V] {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		config:  config,
		done:    make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go c.sweepLoop()
	}

	return c
}

// Get returns the cached value for key if present and not expired.
// An expired entry is treated as absent and removed on access.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return zero, false
	}

	if e.expired(time.Now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return e.value, true
}

// Set stores a value under key, overwriting any existing entry
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
			c.evictOldestLocked()
		}
	}

	c.entries[key] = &entry[V]{
		value:     value,
		timestamp: time.Now(),
		ttl:       ttl,
	}
}

// Has reports whether key holds a live entry
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete explicitly invalidates an entry
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of physically present entries, expired or not
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// WithCache returns the cached value for key if present, otherwise invokes
// compute, stores its result with the given TTL, and returns it. The second
// return value reports whether the value came from the cache; the third is
// the entry's creation time. A compute failure propagates to the caller and
// nothing is cached.
func (c *Cache[V]) WithCache(key string, ttl time.Duration, compute func() (V, error)) (V, bool, time.Time, error) {
	var zero V

	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()

	now := time.Now()
	if exists && !e.expired(now) {
		return e.value, true, e.timestamp, nil
	}

	value, err := compute()
	if err != nil {
		return zero, false, time.Time{}, err
	}

	c.Set(key, value, ttl)
	return value, false, now, nil
}

// Close stops the background sweep. Close is idempotent.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// sweepLoop periodically removes expired entries
func (c *Cache[V]) sweepLoop() {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes all physically-expired entries regardless of access pattern
func (c *Cache[V]) sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
}

// evictOldestLocked removes the oldest entry (must be called with lock held)
func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, e := range c.entries {
		if first || e.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.timestamp
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
