// Package cache provides a lock-free, TTL-bounded cache for repeated
// queries against the Search Index.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache configuration constants.
const (
	DefaultMaxEntries      = 256
	DefaultTTL             = 2 * time.Second
	DefaultCleanupInterval = 30 * time.Second
)

// cachedResult is one entry in the cache.
type cachedResult struct {
	Data        interface{}
	CachedAt    int64 // Unix nano for atomic compare
	AccessCount int64 // atomic counter
}

// ResultCache caches arbitrary query results keyed by the query's
// normalized string form, using sync.Map so concurrent lookups from the
// Query Evaluator never block each other or a writer.
type ResultCache struct {
	entries sync.Map // map[string]*cachedResult

	maxEntries int
	ttlNanos   int64

	hits          int64
	misses        int64
	evictions     int64
	totalRequests int64
	count         int64

	createdAt   time.Time
	lastCleanup int64

	stopCleanup chan struct{}
	stopped     int32
}

// CacheConfig configures a ResultCache.
type CacheConfig struct {
	MaxEntries      int
	TTL             time.Duration
	AutoCleanup     bool
	CleanupInterval time.Duration
}

// DefaultCacheConfig returns sensible defaults for an interactive,
// type-to-search workload: a short TTL keeps results fresh against a
// live index without caching across more than a few keystrokes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:      DefaultMaxEntries,
		TTL:             DefaultTTL,
		AutoCleanup:     true,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// NewResultCache creates a cache from config. If AutoCleanup is set, a
// background goroutine periodically evicts expired entries until Close
// is called.
func NewResultCache(config CacheConfig) *ResultCache {
	c := &ResultCache{
		maxEntries:  config.MaxEntries,
		ttlNanos:    config.TTL.Nanoseconds(),
		createdAt:   time.Now(),
		lastCleanup: time.Now().UnixNano(),
		stopCleanup: make(chan struct{}),
	}
	if config.AutoCleanup {
		go c.startAutoCleanup(config.CleanupInterval)
	}
	return c
}

// Close stops the background cleanup goroutine, if one was started. It is
// safe to call more than once and safe to call on a cache created without
// AutoCleanup.
func (c *ResultCache) Close() {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCleanup)
	}
}

// Get retrieves a cached value, reporting whether it was present and
// unexpired.
func (c *ResultCache) Get(key string) (interface{}, bool) {
	atomic.AddInt64(&c.totalRequests, 1)
	now := time.Now().UnixNano()

	val, ok := c.entries.Load(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	cached := val.(*cachedResult)
	if now-atomic.LoadInt64(&cached.CachedAt) > c.ttlNanos {
		c.entries.Delete(key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&cached.AccessCount, 1)
	atomic.AddInt64(&c.hits, 1)
	return cached.Data, true
}

// Put stores value under key, evicting the oldest entry first if the
// cache is at capacity.
func (c *ResultCache) Put(key string, value interface{}) {
	cached := &cachedResult{Data: value, CachedAt: time.Now().UnixNano(), AccessCount: 1}
	if _, loaded := c.entries.LoadOrStore(key, cached); !loaded {
		if count := atomic.AddInt64(&c.count, 1); count > int64(c.maxEntries) {
			c.evictOldest()
		}
		return
	}
	c.entries.Store(key, cached)
}

func (c *ResultCache) evictOldest() {
	var oldestKey interface{}
	oldestTime := time.Now().UnixNano()

	c.entries.Range(func(key, value interface{}) bool {
		cached := value.(*cachedResult)
		if at := atomic.LoadInt64(&cached.CachedAt); at < oldestTime {
			oldestTime = at
			oldestKey = key
		}
		return true
	})

	if oldestKey != nil {
		c.entries.Delete(oldestKey)
		atomic.AddInt64(&c.count, -1)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// CleanExpired removes every entry past its TTL and returns how many
// were removed.
func (c *ResultCache) CleanExpired() int {
	now := time.Now().UnixNano()
	var live, cleaned int64

	c.entries.Range(func(key, value interface{}) bool {
		cached := value.(*cachedResult)
		if now-atomic.LoadInt64(&cached.CachedAt) > c.ttlNanos {
			c.entries.Delete(key)
			cleaned++
		} else {
			live++
		}
		return true
	})

	atomic.StoreInt64(&c.count, live)
	atomic.AddInt64(&c.evictions, cleaned)
	atomic.StoreInt64(&c.lastCleanup, now)
	return int(cleaned)
}

func (c *ResultCache) startAutoCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.CleanExpired()
		}
	}
}

// CacheStats reports ResultCache usage.
type CacheStats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	TotalRequests int64
	HitRate       float64
	Entries       int
	CreatedAt     time.Time
	LastCleanup   time.Time
	Uptime        time.Duration
}

// Stats returns a snapshot of cache statistics.
func (c *ResultCache) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := atomic.LoadInt64(&c.totalRequests)

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:          hits,
		Misses:        misses,
		Evictions:     atomic.LoadInt64(&c.evictions),
		TotalRequests: total,
		HitRate:       hitRate,
		Entries:       int(atomic.LoadInt64(&c.count)),
		CreatedAt:     c.createdAt,
		LastCleanup:   time.Unix(0, atomic.LoadInt64(&c.lastCleanup)),
		Uptime:        time.Since(c.createdAt),
	}
}

// Clear removes every entry and resets statistics.
func (c *ResultCache) Clear() {
	c.entries.Range(func(key, _ interface{}) bool {
		c.entries.Delete(key)
		return true
	})
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)
	atomic.StoreInt64(&c.totalRequests, 0)
	atomic.StoreInt64(&c.count, 0)
	atomic.StoreInt64(&c.lastCleanup, time.Now().UnixNano())
}
