// Package retrieval schedules the network fetches that populate the
// disk store: a priority-scheduled, bounded-concurrency executor with
// duplicate suppression, stale-request cancellation, and progress
// aggregation.
package retrieval

import "context"

// State is the lifecycle state of a Retriever or Task.
type State int

const (
	StatePending State = iota
	StateSuccessful
	StateError
	StateCancelled
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSuccessful:
		return "SUCCESSFUL"
	case StateError:
		return "ERROR"
	case StateCancelled:
		return "CANCELLED"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// Retriever is the interface a concrete transport must implement. Its
// Name is the URL used for duplicate suppression: two Retrievers with
// the same Name are the same fetch, whatever their priorities.
type Retriever interface {
	Name() string

	// Retrieve performs the fetch, blocking until it completes, fails,
	// or ctx is cancelled. After it returns (with or without error),
	// the accessors below report the outcome.
	Retrieve(ctx context.Context) error

	Buffer() []byte
	ContentType() string
	// ContentLength is the declared size in bytes, or -1 if unknown.
	ContentLength() int64
	// ContentLengthRead is the number of bytes read so far; safe to
	// call concurrently with Retrieve for progress aggregation.
	ContentLengthRead() int64
	// Expiration is the absolute expiration time in epoch milliseconds,
	// or 0 if the response carried no expiration information.
	Expiration() int64
	State() State
}

// PostProcessor is invoked by the Service after a Retriever completes
// successfully. It returns the bytes it chose to keep, or nil if
// nothing was saved.
type PostProcessor interface {
	Run(r Retriever) ([]byte, error)
}
