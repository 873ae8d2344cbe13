// Package cache provides a bounded, time-expiring key/value store for
// filesystem metadata lookups.
package cache

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an entry stays visible after insertion.
	DefaultTTL = 300 * time.Second
	// DefaultCapacity is the maximum number of entries held at once.
	DefaultCapacity = 2000
)

type stamp struct {
	inserted time.Time
	accessed time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is safe for concurrent use. A single mutex guards both the value map
// and the timestamp map, so a value is never observable without its stamp.
type Cache[V any] struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu        sync.Mutex
	values    map[string]V
	stamps    map[string]stamp
	hits      uint64
	misses    uint64
	evictions uint64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache holding at most capacity entries, each visible for ttl
// after insertion. Non-positive arguments fall back to the defaults.
func New[V any](capacity int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache[V]{
		ttl:      ttl,
		capacity: capacity,
		now:      o.now,
		values:   make(map[string]V, capacity),
		stamps:   make(map[string]stamp, capacity),
	}
}

// Get returns the value for key if it was inserted less than the TTL ago.
// Expired entries are removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	st, ok := c.stamps[key]
	if !ok {
		c.misses++
		return zero, false
	}

	now := c.now()
	if now.Sub(st.inserted) >= c.ttl {
		c.remove(key)
		c.misses++
		return zero, false
	}

	st.accessed = now
	c.stamps[key] = st
	c.hits++
	return c.values[key], true
}

// Set inserts or overwrites key. When the cache is full and key is new,
// exactly one entry, the least recently accessed, is evicted first.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.stamps[key]; !exists && len(c.stamps) >= c.capacity {
		c.evictOldest()
	}

	now := c.now()
	c.values[key] = value
	c.stamps[key] = stamp{inserted: now, accessed: now}
}

// Invalidate drops key if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

// Clear drops every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = make(map[string]V, c.capacity)
	c.stamps = make(map[string]stamp, c.capacity)
}

// Len reports the number of stored entries, including ones that have expired
// but were not yet looked up.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stamps)
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:   len(c.stamps),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// must be called with c.mu held
func (c *Cache[V]) remove(key string) {
	delete(c.values, key)
	delete(c.stamps, key)
}

// evictOldest removes the entry with the oldest access time.
// Must be called with lock held.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)

	for key, st := range c.stamps {
		if !found || st.accessed.Before(oldest) {
			oldestKey = key
			oldest = st.accessed
			found = true
		}
	}

	if found {
		c.remove(oldestKey)
		c.evictions++
	}
}
