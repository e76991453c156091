package crosstab

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// defaultDedupCacheSize is dedupeCacheSize's documented default (§4.7).
const defaultDedupCacheSize = 1000

// dedupCache remembers recently-seen envelope dedup keys (messageId:
// clientId) for a bounded window, suppressing duplicate inbound delivery
// caused by transport retries or multiple attached tabs relaying the same
// broadcast (§4.2 "ingress stage: dedup"). Grounded on the bus matcher
// cache's use of hashicorp/golang-lru, layered here with a stored
// timestamp so entries also expire on a TTL rather than purely on
// capacity (mirroring memory.go's cacheItem.expiration check).
type dedupCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
}

type dedupEntry struct {
	seenAt time.Time
}

func newDedupCache(size int, ttl time.Duration) *dedupCache {
	if size <= 0 {
		size = defaultDedupCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		// lru.New only fails for non-positive size; size is clamped above.
		panic(err)
	}
	return &dedupCache{cache: c, ttl: ttl}
}

// seen reports whether key was already recorded within the TTL window and
// records it if not, atomically.
func (d *dedupCache) seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.cache.Get(key); ok {
		entry := v.(dedupEntry)
		if d.ttl <= 0 || now.Sub(entry.seenAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, dedupEntry{seenAt: now})
	return false
}

func (d *dedupCache) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Len()
}
