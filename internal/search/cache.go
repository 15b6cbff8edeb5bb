package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Defaults for the result cache.
const (
	DefaultCacheCapacity = 512
	DefaultCacheTTL      = 5 * time.Minute
)

type cacheEntry struct {
	results    []*ScoredCandidate
	insertedAt time.Time
}

// ResultCache memoizes final pipeline output keyed on the query tuple.
// Eviction is strict LRU on insert; TTL expiry is checked inline on Get
// so there is no background sweeper. Entries older than TTL are never
// returned even if still resident.
type ResultCache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, *cacheEntry]
	ttl    time.Duration
	hits   uint64
	misses uint64

	// now is swappable for TTL tests.
	now func() time.Time
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewResultCache creates a result cache with the given capacity and TTL.
func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache, _ := lru.New[string, *cacheEntry](capacity)
	return &ResultCache{lru: cache, ttl: ttl, now: time.Now}
}

// cacheKey hashes the normalized parameter tuple. Fields are length-
// prefixed so no two distinct tuples can collide by concatenation.
func cacheKey(query string, topK int, filter string, mode Mode) string {
	payload := fmt.Sprintf("%d:%s|%d|%d:%s|%d:%s",
		len(query), query, topK, len(filter), filter, len(mode), mode)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached results for the parameter tuple. A resident
// entry older than TTL counts as a miss and is dropped.
func (c *ResultCache) Get(query string, topK int, filter string, mode Mode) ([]*ScoredCandidate, bool) {
	key := cacheKey(query, topK, filter, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.lru.Remove(key)
		c.misses++
		return nil, false
	}

	c.hits++
	return entry.results, true
}

// Set stores results for the parameter tuple, evicting the least
// recently used entry when at capacity.
func (c *ResultCache) Set(query string, topK int, filter string, mode Mode, results []*ScoredCandidate) {
	key := cacheKey(query, topK, filter, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, &cacheEntry{results: results, insertedAt: c.now()})
}

// Stats returns cumulative counters and current size.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    c.lru.Len(),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// Clear drops all entries and resets the counters.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.hits = 0
	c.misses = 0
}

// InvalidateAll drops all entries but keeps the cumulative counters.
// Used after ingestion changes the corpus under cached results.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}
