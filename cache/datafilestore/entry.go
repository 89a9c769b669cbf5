// Package datafilestore is the index layer over the cache: a
// memcache.Cache of per-address state, backed by a FileStore for the
// files themselves and a retrieval service for fetching what isn't
// local yet.
package datafilestore

import "time"

// State is an address's position in the retrieval lifecycle.
type State int

const (
	// StateNone means the address has no index entry: never requested,
	// or evicted from the index.
	StateNone State = iota
	// StatePending means a retrieval for the address is in flight.
	StatePending
	// StateLocal means the address resolves to a file on disk.
	StateLocal
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StatePending:
		return "PENDING"
	case StateLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// entryBaseSize approximates the fixed overhead of an Entry in bytes;
// the address is charged at two bytes per character on top of this, so
// the index's eviction is weighted consistently with the other caches
// in this module.
const entryBaseSize = 40

// Entry is the value type stored in the index's MemoryCache, keyed by
// address.
type Entry struct {
	Address string
	State   State

	// URL is the resolved file:// (or other scheme) location once State
	// is StateLocal; empty otherwise.
	URL string

	// ContentType and Expiration are populated once the file is known
	// (StateLocal); Expiration is 0 if the retriever reported none.
	ContentType string
	Expiration  int64 // epoch millis, 0 = none

	// LastUpdateTime is when State last changed, used to detect a
	// PENDING entry that has been in flight for longer than the
	// re-request window.
	LastUpdateTime time.Time
}

// sizeOf returns the weight this entry should be charged in the index's
// MemoryCache.
func sizeOf(e *Entry) int64 {
	return entryBaseSize + 2*int64(len(e.Address))
}

// isExpired reports whether e's Expiration has passed as of now. An
// entry with Expiration == 0 never expires.
func (e *Entry) isExpired(now time.Time) bool {
	if e.Expiration == 0 {
		return false
	}
	return now.UnixNano()/int64(time.Millisecond) >= e.Expiration
}
