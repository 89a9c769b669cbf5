package memcache

import (
	"testing"
	"time"
)

func TestPrunedCacheExpiresByTTL(t *testing.T) {
	c := NewPrunedCache(10*time.Millisecond, 5*time.Millisecond)
	defer c.Close()

	c.Put("A", 1)
	if _, ok := c.Get("A"); !ok {
		t.Fatalf("expected A present immediately after Put")
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		if c.Len() == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("entry was not pruned in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPrunedCacheSignalLowMemoryClears(t *testing.T) {
	c := NewPrunedCache(time.Hour, time.Hour)
	defer c.Close()

	c.Put("A", 1)
	c.Put("B", 2)
	c.SignalLowMemory()

	deadline := time.After(500 * time.Millisecond)
	for {
		if c.Len() == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("cache was not cleared after low-memory signal")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPrunedCacheSignalLowMemoryDoesNotBlock(t *testing.T) {
	c := NewPrunedCache(time.Hour, time.Hour)
	defer c.Close()

	// Multiple coalesced signals must never block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.SignalLowMemory()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SignalLowMemory blocked")
	}
}
