// Package cache provides the read-through result cache and the lazy
// increment counter used by the query layer.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	value   any
	tag     string
	expires time.Time // zero means no expiry
}

// ResultCache is a thread-safe LRU cache with per-entry expiry and tags.
// Clearing a tag removes every entry stored under it.
type ResultCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
	tags  map[string]map[string]struct{}
	now   func() time.Time
}

// NewResultCache creates a cache holding at most maxItems entries.
func NewResultCache(maxItems int) (*ResultCache, error) {
	c := &ResultCache{
		tags: make(map[string]map[string]struct{}),
		now:  time.Now,
	}
	l, err := lru.NewWithEvict[string, entry](maxItems, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.cache = l
	return c, nil
}

// onEvict runs inside lru mutations, which only happen with c.mu held.
func (c *ResultCache) onEvict(key string, e entry) {
	if e.tag == "" {
		return
	}
	if keys, ok := c.tags[e.tag]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.tags, e.tag)
		}
	}
}

// Get returns the cached value for key. Expired entries are dropped.
func (c *ResultCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.cache.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero keeps it until evicted.
func (c *ResultCache) Set(key string, value any, ttl time.Duration) {
	c.SetTagged("", key, value, ttl)
}

// SetTagged stores value under key and records it under tag.
func (c *ResultCache) SetTagged(tag, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{value: value, tag: tag}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	// Drop the previous entry first so its tag bookkeeping is released.
	c.cache.Remove(key)
	c.cache.Add(key, e)
	if tag != "" {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Remove deletes key.
func (c *ResultCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// ClearTag deletes every entry stored under tag.
func (c *ResultCache) ClearTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.tags[tag]
	delete(c.tags, tag)
	for key := range keys {
		c.cache.Remove(key)
	}
}
