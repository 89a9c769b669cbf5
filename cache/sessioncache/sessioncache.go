// Package sessioncache implements a small insertion-order bounded map
// for request-scoped values. Unlike memcache.Cache, its bound is a
// plain entry count, and eviction always removes the eldest entry
// regardless of recency: there is no "get refreshes recency" behavior
// here.
package sessioncache

import (
	"container/list"
	"sync"

	"github.com/tilegrid/cache/cache"
)

type entry struct {
	key   interface{}
	value interface{}
}

// Cache is a count-bounded, insertion-ordered map.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[interface{}]*list.Element
}

// New returns an empty Cache bounded to capacity entries. capacity must
// be positive.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[interface{}]*list.Element),
	}
}

// Put inserts or updates key. A nil key returns a BadRequest error;
// nil values are allowed. Inserting a new key when the cache is already
// at capacity evicts the eldest entry unconditionally, even if it was
// just read.
func (c *Cache) Put(key, value interface{}) error {
	if key == nil {
		return cache.BadRequestf("sessioncache: nil key")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).value = value
		return nil
	}

	if c.ll.Len() >= c.capacity {
		c.evictEldestLocked()
	}

	el := c.ll.PushBack(&entry{key: key, value: value})
	c.index[key] = el
	return nil
}

// Get returns the value stored for key, without affecting eviction
// order: this cache evicts by insertion order only.
func (c *Cache) Get(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).value, true
}

// Remove deletes key if present.
func (c *Cache) Remove(key interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return
	}
	c.ll.Remove(el)
	delete(c.index, key)
}

// Len returns the number of entries currently stored.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// SetCapacity changes the capacity, evicting eldest entries immediately
// until size <= capacity if the new capacity is smaller. Unlike
// memcache.Cache, this bound is enforced eagerly, not deferred to the
// next insert.
func (c *Cache) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	for c.ll.Len() > c.capacity {
		c.evictEldestLocked()
	}
}

func (c *Cache) evictEldestLocked() {
	front := c.ll.Front()
	if front == nil {
		return
	}
	c.ll.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}
