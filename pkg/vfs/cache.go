package vfs

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity bounds the number of cached path resolutions.
const DefaultCacheCapacity = 4096

// DefaultCacheTTL is the default per-entry TTL.
const DefaultCacheTTL = 60 * time.Second

// pathCache is a bounded path-resolution cache: a path string to
// resolved-inode map with LRU eviction and per-entry TTL. Any directory
// mutation invalidates entries whose keys share a prefix with the
// mutated path (conservative invalidation by prefix match).
//
// Concurrent resolutions of the same uncached path are coalesced with
// singleflight, the same pattern used elsewhere in the ecosystem to
// avoid a cache stampede on a cold key.
type pathCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List // of *cacheEntry, front = most recently used
	entries  map[string]*list.Element

	group singleflight.Group
}

type cacheEntry struct {
	key     string
	inode   *Inode
	stamped time.Time
}

func newPathCache(capacity int, ttl time.Duration) *pathCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &pathCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *pathCache) get(key string) (*Inode, bool) {
	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if time.Since(ent.stamped) > c.ttl {
		c.ll.Remove(el)
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	c.ll.MoveToFront(el)
	inode := ent.inode
	c.mu.Unlock()
	return inode, true
}

func (c *pathCache) put(key string, inode *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).inode = inode
		el.Value.(*cacheEntry).stamped = time.Now()
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, inode: inode, stamped: time.Now()})
	c.entries[key] = el
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// invalidatePrefix drops every cached entry whose key shares path as a
// prefix (at a path-component boundary), plus path itself.
func (c *pathCache) invalidatePrefix(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/")
	var toRemove []string
	for key := range c.entries {
		if key == prefix || strings.HasPrefix(key, prefix+"/") || prefix == "/" || prefix == "" {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		if el, ok := c.entries[key]; ok {
			c.ll.Remove(el)
			delete(c.entries, key)
		}
	}
}

func (c *pathCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
