package feeds

import (
	"fmt"
	"sync"
	"time"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CANDLE CACHE - Short-TTL cache keyed by (symbol, timeframe, lookback)
// ═══════════════════════════════════════════════════════════════════════════════

type cacheEntry struct {
	series   types.Series
	storedAt time.Time
}

// candleCache is a TTL cache for fetched series. Expired entries are evicted
// lazily on lookup.
type candleCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time

	hits   int64
	misses int64
}

func newCandleCache(ttl time.Duration) *candleCache {
	return &candleCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(symbol, timeframe string, lookback int) string {
	return fmt.Sprintf("%s:%s:%d", symbol, timeframe, lookback)
}

// Get returns a fresh entry, evicting it if the TTL has lapsed.
func (c *candleCache) Get(key string) (types.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.series, true
}

// Put stores a copy so later trims by the caller cannot alias cached data.
func (c *candleCache) Put(key string, s types.Series) {
	cp := make(types.Series, len(s))
	copy(cp, s)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{series: cp, storedAt: c.now()}
}

func (c *candleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats returns hit/miss counters since start.
func (c *candleCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
