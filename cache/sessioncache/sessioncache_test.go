package sessioncache

import "testing"

func TestPutAndGet(t *testing.T) {
	c := New(2)
	if err := c.Put("A", 1); err != nil {
		t.Fatalf("Put(A): %v", err)
	}
	v, ok := c.Get("A")
	if !ok || v != 1 {
		t.Fatalf("Get(A) = %v, %v; want 1, true", v, ok)
	}
}

func TestPutRejectsNilKey(t *testing.T) {
	c := New(2)
	if err := c.Put(nil, 1); err == nil {
		t.Fatalf("expected an error for a nil key")
	}
}

// TestEvictsByInsertionOrder checks that this cache's bound is enforced
// by insertion order, not recency: reading A must not protect it from
// eviction the way memcache.Cache's Get does.
func TestEvictsByInsertionOrder(t *testing.T) {
	c := New(2)
	c.Put("A", 1)
	c.Put("B", 2)
	c.Get("A") // must not refresh recency
	c.Put("C", 3)

	if _, ok := c.Get("A"); ok {
		t.Fatalf("expected A evicted by insertion order despite recent Get")
	}
	if _, ok := c.Get("B"); !ok {
		t.Fatalf("expected B present")
	}
	if _, ok := c.Get("C"); !ok {
		t.Fatalf("expected C present")
	}
}

func TestUpdatingExistingKeyDoesNotEvict(t *testing.T) {
	c := New(1)
	c.Put("A", 1)
	if err := c.Put("A", 2); err != nil {
		t.Fatalf("Put(A, 2): %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	v, _ := c.Get("A")
	if v != 2 {
		t.Fatalf("Get(A) = %v, want 2", v)
	}
}

func TestSetCapacityShrinksEagerly(t *testing.T) {
	c := New(5)
	c.Put("A", 1)
	c.Put("B", 2)
	c.Put("C", 3)

	c.SetCapacity(1)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d after SetCapacity(1), want 1 (eager eviction)", c.Len())
	}
	if _, ok := c.Get("C"); !ok {
		t.Fatalf("expected the most recently inserted entry to survive")
	}
}
