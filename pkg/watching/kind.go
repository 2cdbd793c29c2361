package watching

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

const (
	// kindCacheCapacity is the number of paths remembered by a kind cache.
	kindCacheCapacity = 4096
)

// kindCache remembers whether or not recently seen paths were directories. It
// is used to classify removal notifications, since a removed path can no
// longer be inspected. It is safe for concurrent usage.
type kindCache struct {
	// lock serializes access to the cache.
	lock sync.Mutex
	// cache is the underlying LRU cache.
	cache *lru.Cache
}

// newKindCache creates a new kind cache.
func newKindCache() *kindCache {
	return &kindCache{cache: lru.New(kindCacheCapacity)}
}

// record stores the kind of a path.
func (c *kindCache) record(path string, isDirectory bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cache.Add(path, isDirectory)
}

// lookup returns the recorded kind of a path and whether or not it was known.
func (c *kindCache) lookup(path string) (bool, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if value, ok := c.cache.Get(path); ok {
		return value.(bool), true
	}
	return false, false
}

// forget removes a path from the cache and returns its last known kind.
func (c *kindCache) forget(path string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	value, ok := c.cache.Get(path)
	if !ok {
		return false
	}
	c.cache.Remove(path)
	return value.(bool)
}
