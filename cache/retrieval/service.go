package retrieval

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Logger is the minimal interface the service needs for drop-and-log
// admission and worker diagnostics.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Service is a bounded-concurrency pool of workers draining a priority
// Queue, with duplicate suppression, stale-request cancellation, and
// progress aggregation.
type Service struct {
	logger            Logger
	queue             *Queue
	sem               *semaphore.Weighted
	staleRequestLimit time.Duration
	postProcessor     PostProcessor

	mu          sync.Mutex
	activeTasks map[string]*Task // keyed by Retriever.Name()

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// NewService starts a RetrievalService with the given worker pool size,
// queue capacity, per-task stale limit, and PostProcessor. PostProcessor
// may be nil, in which case retrieved bytes are kept but never saved.
func NewService(poolSize, queueCapacity int, staleRequestLimit time.Duration, pp PostProcessor, logger Logger) *Service {
	if poolSize <= 0 {
		poolSize = 5
	}
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Service{
		logger:            logger,
		queue:             NewQueue(queueCapacity),
		sem:               semaphore.NewWeighted(int64(poolSize)),
		staleRequestLimit: staleRequestLimit,
		postProcessor:     pp,
		activeTasks:       make(map[string]*Task),
		shutdown:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// Submit enqueues r at the given priority and returns the Task tracking
// it. If an equal request (same URL) is already queued or running,
// Submit returns that existing Task instead of scheduling a second
// fetch, so a caller can still Wait on the original. If the queue has
// no spare capacity, Submit drops the request, logs it, and returns
// nil.
func (s *Service) Submit(r Retriever, priority int) *Task {
	t := NewTask(r, priority)

	s.mu.Lock()
	if existing, ok := s.activeTasks[r.Name()]; ok {
		s.mu.Unlock()
		return existing
	}
	s.mu.Unlock()

	existing, added := s.queue.Offer(t)
	if !added {
		if existing == nil {
			s.logger.Printf("retrieval: dropping %s, queue full", r.Name())
			return nil
		}
		return existing
	}
	return t
}

// IsAvailable reports whether the queue has spare capacity.
func (s *Service) IsAvailable() bool { return s.queue.IsAvailable() }

// Shutdown stops accepting new dispatch cycles. If immediate, every
// active task is cancelled; otherwise already-running tasks are allowed
// to finish.
func (s *Service) Shutdown(immediate bool) {
	s.once.Do(func() { close(s.shutdown) })
	if immediate {
		s.mu.Lock()
		for _, t := range s.activeTasks {
			t.Cancel()
		}
		s.mu.Unlock()
	}
	s.wg.Wait()
}

func (s *Service) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		t := s.queue.Poll()
		if t == nil {
			select {
			case <-s.shutdown:
				return
			case <-time.After(20 * time.Millisecond):
				continue
			}
		}

		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		s.wg.Add(1)
		go s.execute(t)
	}
}

// execute runs one task's full lifecycle on its worker goroutine:
// record the begin time, check staleness, run the Retriever, then hand
// the result to the post-processor and release the task.
func (s *Service) execute(t *Task) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	t.BeginTime = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	t.setCancel(cancel)
	defer cancel()

	s.mu.Lock()
	s.activeTasks[t.Retriever.Name()] = t
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.activeTasks, t.Retriever.Name())
		s.mu.Unlock()
		t.EndTime = time.Now()
		t.notifyWaiters()
	}()

	if s.staleRequestLimit > 0 && t.BeginTime.Sub(t.SubmitTime) > s.staleRequestLimit {
		cancel()
		s.logger.Printf("retrieval: %s stale, cancelling before fetch", t.Retriever.Name())
		return
	}

	if err := t.Retriever.Retrieve(ctx); err != nil {
		s.logger.Printf("retrieval: %s failed: %v", t.Retriever.Name(), err)
		return
	}

	if s.postProcessor != nil {
		if _, err := s.postProcessor.Run(t.Retriever); err != nil {
			s.logger.Printf("retrieval: %s post-processing failed: %v", t.Retriever.Name(), err)
		}
	}
}

// GetProgress returns a best-effort estimate in [0,100] of overall
// completion across active and queued tasks: total bytes read over
// total declared content length, counting only tasks that report a
// positive content length.
func (s *Service) GetProgress() int {
	var read, total int64

	s.mu.Lock()
	active := make([]*Task, 0, len(s.activeTasks))
	for _, t := range s.activeTasks {
		active = append(active, t)
	}
	s.mu.Unlock()

	for _, t := range active {
		accumulate(t.Retriever, &read, &total)
	}
	for _, t := range s.queue.Tasks() {
		accumulate(t.Retriever, &read, &total)
	}

	if total == 0 {
		return 100
	}
	pct := int(read * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func accumulate(r Retriever, read, total *int64) {
	cl := r.ContentLength()
	if cl <= 0 {
		return
	}
	*read += r.ContentLengthRead()
	*total += cl
}

// ActiveCount returns the number of tasks currently executing.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeTasks)
}

// QueuedCount returns the number of tasks waiting to be dispatched.
func (s *Service) QueuedCount() int { return s.queue.Len() }
