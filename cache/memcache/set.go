package memcache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Set is a named registry of Caches. It exists so a process that runs
// several cache instances (the address index, a thumbnail cache, a
// metadata cache, ...) can report aggregate statistics and register all
// of their Prometheus collectors in one call.
type Set struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

// NewSet returns an empty registry.
func NewSet() *Set {
	return &Set{caches: make(map[string]*Cache)}
}

// Register adds a Cache to the set under its own Name. It is an error to
// register two caches with the same name.
func (s *Set) Register(c *Cache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.caches[c.Name()]; exists {
		return &duplicateNameError{c.Name()}
	}
	s.caches[c.Name()] = c
	return nil
}

type duplicateNameError struct{ name string }

func (e *duplicateNameError) Error() string {
	return "memcache: a cache named " + e.name + " is already registered"
}

// Get returns the named cache, or nil if none is registered.
func (s *Set) Get(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caches[name]
}

// Stat is a point-in-time snapshot of one cache's statistics.
type Stat struct {
	Name     string
	Size     int
	Used     int64
	Capacity int64
}

// Stats returns a snapshot of every registered cache. Order is
// unspecified; callers typically render these keyed by name anyway.
func (s *Set) Stats() []Stat {
	s.mu.Lock()
	names := make([]*Cache, 0, len(s.caches))
	for _, c := range s.caches {
		names = append(names, c)
	}
	s.mu.Unlock()

	stats := make([]Stat, 0, len(names))
	for _, c := range names {
		stats = append(stats, Stat{
			Name:     c.Name(),
			Size:     c.Size(),
			Used:     c.Used(),
			Capacity: c.Capacity(),
		})
	}
	return stats
}

// RegisterCollectors registers every cache's Prometheus collectors with
// reg. Intended to be called once at startup with a *prometheus.Registry.
func (s *Set) RegisterCollectors(reg *prometheus.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caches {
		for _, col := range c.Collectors() {
			if err := reg.Register(col); err != nil {
				return err
			}
		}
	}
	return nil
}
