package memory

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/urs-matcher/internal/match"
)

// DefaultCacheSize bounds the result cache when no size is configured.
const DefaultCacheSize = 1024

// Cache is an LRU of match lists keyed by caller-built strings, usually the
// normalized description plus anything that changes the outcome. Concurrent
// lookups of the same key share one computation.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	group singleflight.Group
}

// NewCache returns a cache holding up to size keys.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{lru: lru.New(size)}
}

// Do returns the cached matches for key or computes them with fn. Results not
// computed by this caller are relabelled with the cache source. Errors are
// never cached.
func (c *Cache) Do(key string, fn func() ([]match.RankedMatch, error)) ([]match.RankedMatch, error) {
	if got, ok := c.get(key); ok {
		return asCached(got), nil
	}

	ran := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		ran = true
		matches, err := fn()
		if err != nil {
			return nil, err
		}
		c.add(key, matches)
		return matches, nil
	})
	if err != nil {
		return nil, err
	}

	matches, _ := v.([]match.RankedMatch)
	if !ran {
		return asCached(matches), nil
	}
	return clone(matches), nil
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) get(key string) ([]match.RankedMatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]match.RankedMatch), true
}

func (c *Cache) add(key string, matches []match.RankedMatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, clone(matches))
}

func clone(matches []match.RankedMatch) []match.RankedMatch {
	out := make([]match.RankedMatch, len(matches))
	copy(out, matches)
	return out
}

func asCached(matches []match.RankedMatch) []match.RankedMatch {
	out := clone(matches)
	for i := range out {
		out[i].Source = match.SourceCache
	}
	return out
}
