// Package cache implements the daemon's in-memory operation cache: a
// TTL+LRU cache keyed by (path, line, column, content hash, operation,
// variant), with single-flight de-duplication of concurrent identical
// requests so a burst of repeated editor queries only triggers one
// upstream LSP round trip.
package cache

import (
	"container/list"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies one cacheable operation result.
type Key struct {
	Path        string
	Line        int
	Column      int
	ContentHash string
	Operation   string
	Variant     string
}

type entry struct {
	key       Key
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a bounded, TTL-expiring LRU cache with single-flight fetch.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	items    map[Key]*entry
	order    *list.List // front = most recently used

	group singleflight.Group

	now func() time.Time
}

// New builds a Cache with the given TTL and max entry count.
func New(ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		items:    make(map[Key]*entry),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set inserts or replaces the cached value for key, evicting the least
// recently used entry if this insert would exceed capacity.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(existing.elem)
		return
	}

	e := &entry{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	e.elem = c.order.PushFront(key)
	c.items[key] = e

	for len(c.items) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(c.items[oldest.Value.(Key)])
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}

// Len returns the current number of live entries, including ones that have
// expired but not yet been evicted by a Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// GetOrLoad returns the cached value for key, or calls load exactly once
// across any number of concurrent callers sharing the same key, caching
// and returning its result. This is the single-flight contract: a burst of
// N identical requests for an uncached key triggers exactly one upstream
// call.
func (c *Cache) GetOrLoad(key Key, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(keyString(key), func() (any, error) {
		// Re-check: another flight may have populated the cache while we
		// waited to enter singleflight.Do.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	return v, err
}

func keyString(k Key) string {
	return k.Path + "\x00" + k.ContentHash + "\x00" + k.Operation + "\x00" + k.Variant + "\x00" +
		strconv.Itoa(k.Line) + "\x00" + strconv.Itoa(k.Column)
}
