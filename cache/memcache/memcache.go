// Package memcache implements the bounded, size-weighted in-memory LRU
// cache that backs the tile cache's address index and the raster-style
// variants layered on top of it.
package memcache

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Listener is notified when an entry leaves the cache, whether by
// eviction, explicit removal, or Clear. RemovalException is invoked on
// the same listener if EntryRemoved panics; panics are recovered so that
// one broken listener cannot take down the others.
type Listener interface {
	EntryRemoved(key, value interface{})
	RemovalException(err interface{}, key, value interface{})
}

// entry is the internal record behind each key. lastUsed is a monotonic
// nanosecond timestamp; touched is set by Get and gives the entry a
// one-shot reprieve from the advisory low-water eviction pass (cleared
// the next time that pass considers it).
type entry struct {
	key      interface{}
	value    interface{}
	size     int64
	lastUsed int64
	touched  bool
	seq      uint64 // insertion sequence, for deterministic tie-breaks
}

// Cache is a bounded, size-weighted, approximately-LRU map. It is safe
// for concurrent use: a single mutex serializes every structural
// mutation and every recency update, so an eviction pass always
// observes recency updates that happened before it.
type Cache struct {
	name string

	mu       sync.Mutex
	entries  map[interface{}]*entry
	nextSeq  uint64
	capacity int64
	lowWater int64
	used     int64

	listeners []Listener

	clock func() int64

	gaugeUsed     prometheus.Gauge
	gaugeCapacity prometheus.Gauge
	counterHits   prometheus.Counter
	counterMisses prometheus.Counter
	counterEvicts prometheus.Counter
}

// New returns an empty Cache with the given capacity and low-water mark.
// A non-positive lowWater (or one >= capacity) is treated as "no advisory
// low water": eviction stops as soon as enough space is free.
func New(name string, capacity, lowWater int64) *Cache {
	if lowWater < 0 || lowWater >= capacity {
		lowWater = 0
	}
	return &Cache{
		name:     name,
		entries:  make(map[interface{}]*entry),
		capacity: capacity,
		lowWater: lowWater,
		clock:    monotonicNanos,

		gaugeUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tilegrid_memcache_used_bytes",
			Help:        "Bytes currently accounted for in the cache.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		gaugeCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tilegrid_memcache_capacity_bytes",
			Help:        "Configured capacity of the cache.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		counterHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tilegrid_memcache_hits_total",
			Help:        "Number of Get calls that found an entry.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		counterMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tilegrid_memcache_misses_total",
			Help:        "Number of Get calls that found nothing.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		counterEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tilegrid_memcache_evictions_total",
			Help:        "Number of entries removed by the eviction procedure.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
	}
}

// Name returns the cache's name, as registered in a Set.
func (c *Cache) Name() string { return c.name }

// Collectors returns the Prometheus collectors for this cache, for a
// caller that wants to register them directly instead of through a Set.
func (c *Cache) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.gaugeUsed, c.gaugeCapacity,
		c.counterHits, c.counterMisses, c.counterEvicts,
	}
}

func monotonicNanos() int64 {
	return time.Now().UnixNano()
}

// AddListener registers a removal listener. Listeners are invoked in
// registration order, under the same lock scope as the mutation that
// triggered the removal.
func (c *Cache) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Add inserts (key, value) with the given size, evicting as needed to
// make room. It returns false without mutating the cache if key is nil,
// size <= 0, or size > capacity.
func (c *Cache) Add(key, value interface{}, size int64) bool {
	if key == nil || size <= 0 {
		log.Printf("memcache[%s]: rejecting Add(size=%d): invalid key or size", c.name, size)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.capacity {
		log.Printf("memcache[%s]: rejecting Add(size=%d): larger than capacity %d", c.name, size, c.capacity)
		return false
	}

	now := c.clock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old, false)
	}

	c.makeSpaceLocked(size, now)

	c.nextSeq++
	e := &entry{key: key, value: value, size: size, lastUsed: now, seq: c.nextSeq}
	c.entries[key] = e
	c.used += size

	c.gaugeUsed.Set(float64(c.used))
	c.gaugeCapacity.Set(float64(c.capacity))

	return true
}

// Get returns the value for key and refreshes its recency. The bool is
// false if the key is absent.
func (c *Cache) Get(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.counterMisses.Inc()
		return nil, false
	}
	e.lastUsed = c.clock()
	e.touched = true
	c.counterHits.Inc()
	return e.value, true
}

// Contains reports whether key is present, without refreshing recency.
func (c *Cache) Contains(key interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Remove evicts key if present, notifying listeners exactly once. It is
// a no-op if the key is absent.
func (c *Cache) Remove(key interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.removeLocked(key, e, true)
}

// Clear removes every entry, notifying listeners for each.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		c.removeLocked(key, e, true)
	}
}

// Size returns the number of entries currently stored.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Used returns the total accounted size of all entries.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Capacity returns the configured capacity.
func (c *Cache) Capacity() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// SetCapacity changes the capacity. It does not immediately evict if
// the new capacity is below current usage; the next Add performs the
// eviction.
func (c *Cache) SetCapacity(newCapacity int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = newCapacity
	if c.lowWater >= c.capacity {
		c.lowWater = 0
	}
	c.gaugeCapacity.Set(float64(c.capacity))
}

// SetLowWater changes the low-water mark. A value < 0 or >= capacity is
// ignored.
func (c *Cache) SetLowWater(newLowWater int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if newLowWater < 0 || newLowWater >= c.capacity {
		return
	}
	c.lowWater = newLowWater
}

// removeLocked removes e from the map and, if notify is true, invokes
// listeners. Callers must hold c.mu.
func (c *Cache) removeLocked(key interface{}, e *entry, notify bool) {
	delete(c.entries, key)
	c.used -= e.size
	c.gaugeUsed.Set(float64(c.used))
	if notify {
		c.counterEvicts.Inc()
		c.notifyListeners(e.key, e.value)
	}
}

func (c *Cache) notifyListeners(key, value interface{}) {
	for _, l := range c.listeners {
		func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					l.RemovalException(r, key, value)
				}
			}()
			l.EntryRemoved(key, value)
		}(l)
	}
}

// makeSpaceLocked frees room for an entry of the given size. It does
// nothing unless used+needed exceeds capacity; otherwise it works in two
// passes. The hard pass evicts the oldest entries, regardless of recent
// Gets, until used+needed <= capacity: capacity is never advisory. The
// soft pass then additionally evicts toward the low-water mark, but
// skips (and clears the one-shot reprieve on) any entry Get has touched
// since it was last considered, so a Get between two Adds protects that
// entry from this pass alone; it remains fully eligible for the hard
// pass. Neither pass evicts an entry whose lastUsed is strictly after
// insertTime (which would indicate a racing add), and both stop
// silently if candidates run out before their condition is satisfied:
// the low-water condition is advisory and exhaustion is not an error.
func (c *Cache) makeSpaceLocked(needed, insertTime int64) {
	if c.used+needed <= c.capacity {
		return
	}
	for c.used+needed > c.capacity {
		victim := c.oldestEvictableLocked(insertTime)
		if victim == nil {
			// Exhausted: nothing left that we're allowed to evict.
			// used<=capacity is still guaranteed by the size<=capacity
			// precondition enforced in Add.
			return
		}
		c.removeLocked(victim.key, victim, true)
	}

	if c.lowWater <= 0 {
		return
	}
	for c.used+needed > c.lowWater {
		victim := c.oldestAdvisoryEvictableLocked(insertTime)
		if victim == nil {
			return
		}
		c.removeLocked(victim.key, victim, true)
	}
}

// oldestEvictableLocked returns the entry with the smallest lastUsed
// that is not strictly newer than insertTime, breaking ties by
// insertion sequence for determinism. Callers must hold c.mu.
func (c *Cache) oldestEvictableLocked(insertTime int64) *entry {
	candidates := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.lastUsed <= insertTime {
			candidates = append(candidates, e)
		}
	}
	return pickOldest(candidates)
}

// oldestAdvisoryEvictableLocked is like oldestEvictableLocked but
// excludes entries touched by a Get since they were last considered:
// such an entry is given one reprieve from the advisory pass and its
// touched flag is cleared, so a subsequent low-water pass may evict it.
// Callers must hold c.mu.
func (c *Cache) oldestAdvisoryEvictableLocked(insertTime int64) *entry {
	candidates := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.lastUsed > insertTime {
			continue
		}
		if e.touched {
			e.touched = false
			continue
		}
		candidates = append(candidates, e)
	}
	return pickOldest(candidates)
}

func pickOldest(candidates []*entry) *entry {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastUsed != candidates[j].lastUsed {
			return candidates[i].lastUsed < candidates[j].lastUsed
		}
		return candidates[i].seq < candidates[j].seq
	})
	return candidates[0]
}
