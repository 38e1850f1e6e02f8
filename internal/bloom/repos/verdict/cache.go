// Package verdict caches verified existence answers so repeated exact
// lookups for hot values skip the record store.
package verdict

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/octobloom/octobloom/internal/bloom/domain"
)

// CacheKey builds the cache key for one (table, column, value) probe.
// The NUL separator keeps distinct triples from colliding.
func CacheKey(key domain.Key, value []byte) string {
	return key.Table + "\x00" + key.Column + "\x00" + string(value)
}

// Cache is an LRU of verified existence answers with basic counters.
type Cache struct {
	lru       *lru.Cache[string, bool]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Disabled is a no-op cache used when the configured size is zero.
type Disabled struct{}

// New creates a cache with the given capacity. size <= 0 yields a disabled
// no-op cache that always misses.
func New(size int) (Store, error) {
	if size <= 0 {
		return Disabled{}, nil
	}
	c := &Cache{}
	inner, err := lru.NewWithEvict(size, func(string, bool) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// Store is the behavior shared by the real and disabled caches.
type Store interface {
	Get(key string) (exists, ok bool)
	Put(key string, exists bool)
	Remove(key string)
	Purge()
	Len() int
	Stats() (hits, misses, evictions uint64)
}

func (c *Cache) Get(key string) (bool, bool) {
	if v, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return false, false
}

func (c *Cache) Put(key string, exists bool) { c.lru.Add(key, exists) }

func (c *Cache) Remove(key string) { c.lru.Remove(key) }

// Purge clears everything; evictions are counted via the callback.
func (c *Cache) Purge() { c.lru.Purge() }

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

func (Disabled) Get(string) (bool, bool)         { return false, false }
func (Disabled) Put(string, bool)                {}
func (Disabled) Remove(string)                   {}
func (Disabled) Purge()                          {}
func (Disabled) Len() int                        { return 0 }
func (Disabled) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ Store = (*Cache)(nil)
var _ Store = Disabled{}
