// Package cache is a content-addressed, time-bounded store for expensive
// completion-service results. Expired entries are treated as absent and
// evicted lazily on read; a periodic sweep keeps memory bounded.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	EntryCount int   `json:"entryCount"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is safe for concurrent use. There is no per-key locking around
// population: two concurrent requests with an identical key before the first
// completes will both invoke the expensive path. The window is narrow and
// the results converge, so the simplicity is kept deliberately.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	hits    int64
	misses  int64
	evicted int64

	now     func() time.Time
	onEvict func(n int)
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: map[string]entry{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithEvictionHook registers fn, called with the number of entries removed
// whenever expiry evicts them (lazy read eviction or a sweep). The hook runs
// under the cache lock; keep it cheap.
func WithEvictionHook(fn func(n int)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// Get returns the value for key, treating an entry whose expiry has passed
// as absent and evicting it on that read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.evicted++
		c.misses++
		if c.onEvict != nil {
			c.onEvict(1)
		}
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value with expiry = now + ttl, unconditionally replacing any
// existing entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		EntryCount: len(c.entries),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evicted,
	}
}

// Sweep removes all expired entries and returns how many were evicted.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	c.evicted += int64(n)
	if n > 0 && c.onEvict != nil {
		c.onEvict(n)
	}
	return n
}

// Key derives a cache key from an operation kind and its semantically
// relevant inputs. Parts are normalized (lowercased, whitespace collapsed)
// so formatting differences in client input do not defeat the cache.
// Volatile fields — timestamps, request identifiers — must never be passed.
func Key(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(normalize(p)))
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
