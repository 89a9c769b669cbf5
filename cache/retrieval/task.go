package retrieval

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task wraps a Retriever with the scheduling metadata the service
// needs: priority, timestamps, and a cancel function for stale-request
// interruption.
//
// Equality for duplicate suppression is by Retriever.Name() alone --
// SameRequest must never consult Priority or SubmitTime, since two
// submissions of the same URL at different priorities are still the
// same fetch.
type Task struct {
	ID        string
	Retriever Retriever
	Priority  int

	SubmitTime time.Time
	BeginTime  time.Time
	EndTime    time.Time

	mu       sync.Mutex
	cancel   func()
	waiters  []chan struct{}
	progress int64
}

// NewTask wraps r for scheduling at the given priority, stamping
// SubmitTime with the current time. Queue.Poll orders tasks by wait-time
// bucket first; Priority (higher first) only decides between two tasks
// in the same bucket that both have a positive Priority, and remaining
// ties break by SubmitTime (earlier first).
func NewTask(r Retriever, priority int) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Retriever:  r,
		Priority:   priority,
		SubmitTime: time.Now(),
	}
}

// SameRequest reports whether t and other refer to the same underlying
// fetch, for duplicate suppression. Only the URL is compared.
func (t *Task) SameRequest(other *Task) bool {
	return t.Retriever.Name() == other.Retriever.Name()
}

// setCancel records the cancel function for the goroutine executing t,
// so a later Cancel call can interrupt it.
func (t *Task) setCancel(cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// Cancel interrupts the in-flight retrieval, if any is running.
func (t *Task) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// addWaiter registers a channel that is closed when the task finishes,
// letting a duplicate submission for the same URL await the original's
// result instead of triggering a second fetch.
func (t *Task) addWaiter() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	return ch
}

func (t *Task) notifyWaiters() {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Wait blocks the caller until t completes. It returns immediately if t
// has already finished.
func (t *Task) Wait() {
	if t.Retriever.State() != StatePending {
		return
	}
	<-t.addWaiter()
}

// waitDuration is how long t has been sitting in the queue as of now,
// used by the scheduler to age up long-waiting low-priority tasks so no
// request starves.
func (t *Task) waitDuration(now time.Time) time.Duration {
	return now.Sub(t.SubmitTime)
}
