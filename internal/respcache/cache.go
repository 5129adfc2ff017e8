package respcache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Entry is a cached adapter response keyed by fingerprint.
type Entry struct {
	Response  *types.ExecuteResponse
	CreatedAt time.Time
	TTL       time.Duration // 0 means no expiry; entry lives until evicted
}

// IsExpired reports whether the entry's TTL has elapsed.
func (e *Entry) IsExpired() bool {
	if e.TTL == 0 {
		return false
	}
	return time.Since(e.CreatedAt) > e.TTL
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is the LRU-bound fingerprint -> Entry store. Eviction uses
// hashicorp/golang-lru's clock-free accounting: an opportunistic bump on
// every read rather than a dedicated sweeper thread.
type Cache struct {
	lru       *lru.Cache[string, *Entry]
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	maxSize   int
}

// NewCache creates a bounded LRU cache.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &Cache{maxSize: maxSize}
	l, _ := lru.NewWithEvict[string, *Entry](maxSize, func(string, *Entry) {
		c.evictions.Add(1)
	})
	c.lru = l
	return c
}

// Get returns the cached entry for fingerprint, treating an expired entry as
// a miss and evicting it.
func (c *Cache) Get(fingerprint string) (*Entry, bool) {
	e, ok := c.lru.Get(fingerprint)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if e.IsExpired() {
		c.lru.Remove(fingerprint)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e, true
}

// Set stores a response under fingerprint. Callers must check the route's
// cache policy (CacheFailures) before calling Set for a failed response.
func (c *Cache) Set(fingerprint string, resp *types.ExecuteResponse, ttl time.Duration) {
	c.lru.Add(fingerprint, &Entry{Response: resp, CreatedAt: time.Now(), TTL: ttl})
}

// Invalidate removes a fingerprint explicitly — the hook adapters use to say
// "this response must not be cached" after the fact (errors, user-specific
// data discovered mid-execution).
func (c *Cache) Invalidate(fingerprint string) {
	c.lru.Remove(fingerprint)
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Stats returns current cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
