package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeRetriever is a Retriever double for tests: Retrieve blocks until
// release is closed (or ctx is cancelled), then reports success.
type fakeRetriever struct {
	name    string
	release chan struct{}

	mu          sync.Mutex
	calls       int
	state       State
	read, total int64
}

func newFakeRetriever(name string) *fakeRetriever {
	return &fakeRetriever{name: name, release: make(chan struct{}), state: StatePending}
}

func (f *fakeRetriever) Name() string { return f.name }

func (f *fakeRetriever) Retrieve(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-ctx.Done():
		f.setState(StateInterrupted)
		return ctx.Err()
	}

	f.setState(StateSuccessful)
	return nil
}

func (f *fakeRetriever) setState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeRetriever) Buffer() []byte      { return []byte("ok") }
func (f *fakeRetriever) ContentType() string { return "text/plain" }
func (f *fakeRetriever) ContentLength() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
func (f *fakeRetriever) ContentLengthRead() int64 { return atomic.LoadInt64(&f.read) }
func (f *fakeRetriever) Expiration() int64        { return 0 }
func (f *fakeRetriever) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRetriever) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPostProcessor struct {
	mu    sync.Mutex
	calls int
}

func (p *recordingPostProcessor) Run(r Retriever) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return r.Buffer(), nil
}

func (p *recordingPostProcessor) runCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
