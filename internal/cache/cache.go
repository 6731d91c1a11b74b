// Package cache is a bounded in-process result cache: an LRU eviction order
// with a per-entry TTL, shared across requests behind an async-safe lock.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats is the lock-protected snapshot get_stats returns.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	Capacity  int
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache wraps hashicorp/golang-lru with an explicit TTL layer: entries past
// their TTL are treated as misses (and evicted) even if still LRU-resident.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, entry]
	ttl      time.Duration
	hits     int64
	misses   int64
	evicted  int64
	capacity int
}

// New builds a cache of the given capacity and default TTL.
func New(capacity int, ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl, capacity: capacity}
	l, err := lru.NewWithEvict[string, entry](capacity, func(string, entry) {
		c.evicted++
	})
	if err != nil {
		// golang-lru rejects capacity <= 0 (config.Validate does not check
		// it); fall back to a minimal usable cache rather than panic.
		l, _ = lru.New[string, entry](1)
	}
	c.lru = l
	return c
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value []byte) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL override.
func (c *Cache) SetWithTTL(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
}

// Stats returns a point-in-time snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicted,
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
	}
}

// Purge clears the cache, used by tests and by manual cache-invalidation
// tooling.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
