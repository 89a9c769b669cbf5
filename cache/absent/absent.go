// Package absent tracks addresses recently observed to fail retrieval,
// in a bounded table with attempt counting and a timed retry window, so
// the rest of the cache can stop hammering servers for resources that
// are not there.
package absent

import (
	"sync"
	"time"
)

type record struct {
	firstTry   time.Time
	tries      int
	lastTry    time.Time
	lastMarkAt time.Time // timestamp of the try that most recently incremented `tries`

	// permanentSince is non-zero once tries has reached maxTries with
	// each increment separated by at least minCheckInterval; set to the
	// time of the most recent counted try at or beyond maxTries.
	permanentSince time.Time
	permanent      bool
}

// List tracks addresses that have recently failed to retrieve.
type List struct {
	mu sync.Mutex

	maxEntries       int
	maxTries         int
	minCheckInterval time.Duration
	tryAgainInterval time.Duration

	clock func() time.Time

	// order holds tracked addresses oldest-first, used to bound the
	// table to maxEntries.
	order   []string
	entries map[string]*record
}

// New returns an empty List with the given bounds and intervals.
func New(maxEntries, maxTries int, minCheckInterval, tryAgainInterval time.Duration) *List {
	return &List{
		maxEntries:       maxEntries,
		maxTries:         maxTries,
		minCheckInterval: minCheckInterval,
		tryAgainInterval: tryAgainInterval,
		clock:            time.Now,
		entries:          make(map[string]*record),
	}
}

// MarkAbsent records a failed retrieval attempt for address. The try
// count only increments if at least minCheckInterval has passed since
// the last counted try, so a burst of failures in quick succession
// counts as a single try. After maxTries counted failures, the address
// becomes permanently absent for tryAgainInterval from the most recent
// try.
func (l *List) MarkAbsent(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()

	r, ok := l.entries[address]
	if !ok {
		r = &record{firstTry: now}
		l.entries[address] = r
		l.touchOrderLocked(address)
		l.evictIfNeededLocked()
	}

	r.lastTry = now

	if r.lastMarkAt.IsZero() || now.Sub(r.lastMarkAt) >= l.minCheckInterval {
		r.tries++
		r.lastMarkAt = now
		if r.tries >= l.maxTries {
			r.permanent = true
			r.permanentSince = now
		}
	}
}

// IsAbsent reports whether address is currently marked permanently
// absent and within tryAgainInterval of its last try.
func (l *List) IsAbsent(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.entries[address]
	if !ok || !r.permanent {
		return false
	}
	return l.clock().Sub(r.lastTry) < l.tryAgainInterval
}

// UnmarkAbsent removes address, called after a successful retrieval.
func (l *List) UnmarkAbsent(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[address]; !ok {
		return
	}
	delete(l.entries, address)
	l.removeFromOrderLocked(address)
}

// Tries returns the number of counted attempts for address, or 0 if
// address has never been marked absent.
func (l *List) Tries(address string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.entries[address]; ok {
		return r.tries
	}
	return 0
}

// Len returns the number of addresses currently tracked.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *List) touchOrderLocked(address string) {
	l.order = append(l.order, address)
}

func (l *List) removeFromOrderLocked(address string) {
	for i, a := range l.order {
		if a == address {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}

// evictIfNeededLocked drops the oldest tracked address once the table
// exceeds maxEntries. Callers must hold l.mu and have already appended
// the newest address to l.order.
func (l *List) evictIfNeededLocked() {
	for l.maxEntries > 0 && len(l.order) > l.maxEntries {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.entries, oldest)
	}
}
