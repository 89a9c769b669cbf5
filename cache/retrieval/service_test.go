package retrieval

import (
	"testing"
	"time"
)

// TestDuplicateRequestSuppressed: submitting a second task for the same
// URL before the first completes must not trigger a second download or
// a second PostProcessor.Run.
func TestDuplicateRequestSuppressed(t *testing.T) {
	pp := &recordingPostProcessor{}
	svc := NewService(1, 10, 0, pp, nil)
	defer svc.Shutdown(false)

	r := newFakeRetriever("http://h/x")

	first := svc.Submit(r, 1)
	if first == nil {
		t.Fatalf("first Submit returned nil")
	}

	waitUntil(t, func() bool { return svc.ActiveCount() == 1 })

	second := svc.Submit(r, 1)
	if second != first {
		t.Fatalf("expected the second submission to return the first task, got a different one")
	}

	close(r.release)
	waitUntil(t, func() bool { return r.State() == StateSuccessful })
	waitUntil(t, func() bool { return pp.runCount() == 1 })

	if r.callCount() != 1 {
		t.Fatalf("Retrieve was called %d times, want 1", r.callCount())
	}
}

// TestStaleTaskCancelledBeforeExecution sets staleRequestLimit to one
// nanosecond so the test is deterministic: any non-zero gap between
// submitTime and beginTime (which always exists, however the dispatch
// loop is scheduled) makes the task stale, and Retrieve must never be
// entered. release is pre-closed so that if the race ever did go the
// other way, the test would fail on an assertion rather than hang.
func TestStaleTaskCancelledBeforeExecution(t *testing.T) {
	pp := &recordingPostProcessor{}
	svc := NewService(1, 10, time.Nanosecond, pp, nil)
	defer svc.Shutdown(false)

	r := newFakeRetriever("http://h/stale")
	close(r.release)
	svc.Submit(r, 0)

	waitUntil(t, func() bool { return svc.ActiveCount() == 0 && svc.QueuedCount() == 0 })

	if r.callCount() != 0 {
		t.Fatalf("Retrieve was entered %d times, want 0 (stale task)", r.callCount())
	}
}

func TestShutdownImmediateCancelsActive(t *testing.T) {
	svc := NewService(1, 10, 0, nil, nil)

	r := newFakeRetriever("http://h/y")
	svc.Submit(r, 0)
	waitUntil(t, func() bool { return svc.ActiveCount() == 1 })

	svc.Shutdown(true)

	if got := r.State(); got != StateInterrupted {
		t.Fatalf("state after immediate shutdown = %v, want INTERRUPTED", got)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition was never satisfied")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
