package retrieval

import (
	"sync"
	"time"
)

// DefaultTimeBucket is the time-granularity window used to bucket wait
// time for scheduling: tasks within the same bucket compete on client
// priority, tasks in older buckets always run first.
const DefaultTimeBucket = 500 * time.Millisecond

// Queue is the priority queue of pending Tasks. Ordering is computed at
// dequeue time rather than maintained as a heap invariant, because the
// primary sort key -- elapsed wait time, bucketed to timeBucket -- moves
// every task forward as wall-clock time passes; a classic binary heap
// assumes keys are stable between pushes, which does not hold here. A
// mutex-protected slice with a linear scan at dequeue is the
// straightforward fix, and the queue is bounded (capacity) so the scan
// cost stays small.
type Queue struct {
	mu         sync.Mutex
	tasks      []*Task
	capacity   int
	timeBucket time.Duration
	now        func() time.Time

	dropped int64
}

// NewQueue returns a Queue that holds at most capacity pending tasks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		tasks:      make([]*Task, 0, capacity),
		capacity:   capacity,
		timeBucket: DefaultTimeBucket,
		now:        time.Now,
	}
}

// IsAvailable reports whether the queue has spare capacity.
func (q *Queue) IsAvailable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) < q.capacity
}

// Find returns the queued task equal to t by URL, or nil.
func (q *Queue) Find(t *Task) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.findLocked(t)
}

func (q *Queue) findLocked(t *Task) *Task {
	for _, existing := range q.tasks {
		if existing.SameRequest(t) {
			return existing
		}
	}
	return nil
}

// Offer enqueues t. It returns (t, true) on success, or (existing,
// false) if an equal task is already queued -- the caller should treat
// existing as the task to wait on instead of scheduling a new fetch.
// If the queue is at capacity, the task is dropped and Offer returns
// (nil, false).
func (q *Queue) Offer(t *Task) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.findLocked(t); existing != nil {
		return existing, false
	}
	if len(q.tasks) >= q.capacity {
		q.dropped++
		return nil, false
	}
	q.tasks = append(q.tasks, t)
	return t, true
}

// Dropped returns the number of submissions rejected for lack of queue
// capacity.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len reports the number of tasks currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Tasks returns a snapshot of the currently queued tasks, for progress
// aggregation.
func (q *Queue) Tasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Poll removes and returns the highest-priority task, or nil if the
// queue is empty. Ordering: primary key is elapsed wait time bucketed to
// q.timeBucket (older buckets first); secondary key is Priority
// (larger first), consulted only when both tasks fall in the same
// bucket and both have a positive priority. A negative Priority forces
// pure time ordering for that task.
func (q *Queue) Poll() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}

	now := q.now()
	bestIdx := 0
	for i := 1; i < len(q.tasks); i++ {
		if q.lessLocked(now, q.tasks[i], q.tasks[bestIdx]) {
			bestIdx = i
		}
	}

	t := q.tasks[bestIdx]
	q.tasks = append(q.tasks[:bestIdx], q.tasks[bestIdx+1:]...)
	return t
}

// lessLocked reports whether a should run before b.
func (q *Queue) lessLocked(now time.Time, a, b *Task) bool {
	bucketA := int64(a.waitDuration(now) / q.timeBucket)
	bucketB := int64(b.waitDuration(now) / q.timeBucket)
	if bucketA != bucketB {
		return bucketA > bucketB
	}
	if a.Priority > 0 && b.Priority > 0 {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
	}
	return a.SubmitTime.Before(b.SubmitTime)
}

// Remove deletes t from the queue without returning it. It is a no-op if
// t is not queued.
func (q *Queue) Remove(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, existing := range q.tasks {
		if existing == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}
