package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxEntries int, ttl time.Duration) *ResultCache {
	return NewResultCache(CacheConfig{MaxEntries: maxEntries, TTL: ttl, AutoCleanup: false})
}

func TestPutThenGetHits(t *testing.T) {
	c := newTestCache(10, time.Minute)
	c.Put("name:foo", []string{"foo.txt"})

	val, ok := c.Get("name:foo")
	require.True(t, ok)
	assert.Equal(t, []string{"foo.txt"}, val)
	assert.EqualValues(t, 1, c.Stats().Hits)
}

func TestGetMissingKeyMisses(t *testing.T) {
	c := newTestCache(10, time.Minute)

	_, ok := c.Get("nope")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats().Misses)
}

func TestExpiredEntryIsTreatedAsMiss(t *testing.T) {
	c := newTestCache(10, time.Millisecond)
	c.Put("name:foo", "bar")
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("name:foo")
	assert.False(t, ok)
}

func TestCapacityEvictsOldestEntry(t *testing.T) {
	c := newTestCache(2, time.Minute)
	c.Put("a", 1)
	time.Sleep(time.Millisecond)
	c.Put("b", 2)
	time.Sleep(time.Millisecond)
	c.Put("c", 3) // should evict "a"

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCleanExpiredRemovesStaleEntriesOnly(t *testing.T) {
	c := newTestCache(10, 5*time.Millisecond)
	c.Put("stale", 1)
	time.Sleep(10 * time.Millisecond)
	c.Put("fresh", 2)

	cleaned := c.CleanExpired()
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestClearResetsStatsAndEntries(t *testing.T) {
	c := newTestCache(10, time.Minute)
	c.Put("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	c.Clear()

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Entries)
	_, ok := c.Get("a")
	assert.False(t, ok)
}
