package jobsched

import (
	"errors"
	"fmt"
)

var (
	// ErrNilFunc is returned when a job or predicate closure is nil.
	ErrNilFunc = errors.New("jobsched: job func is nil")

	// ErrInvalidPriority is returned for priorities outside Low..Critical.
	ErrInvalidPriority = errors.New("jobsched: invalid priority")

	// ErrPoolClosed is returned by Submit after Shutdown has started.
	ErrPoolClosed = errors.New("jobsched: pool closed")

	// ErrNotPoolThread is returned when an operation needs thread-local
	// scheduler state and the caller is neither a worker nor the coordinator.
	ErrNotPoolThread = errors.New("jobsched: caller is not a pool thread")

	// ErrGroupDispatched is reported when a group is dispatched twice.
	ErrGroupDispatched = errors.New("jobsched: group already dispatched")

	// ErrJobConsumed is reported when Execute is called on a job that
	// already ran.
	ErrJobConsumed = errors.New("jobsched: job already executed")

	// ErrQueueFull is reported on the promotion path when a priority queue
	// cannot accept a job.
	ErrQueueFull = errors.New("jobsched: queue is full")

	// ErrPinUnsupported is returned by PinToCPU on platforms without
	// thread affinity support.
	ErrPinUnsupported = errors.New("jobsched: cpu pinning not supported")

	// ErrInvalidOptions wraps every Options validation failure.
	ErrInvalidOptions = errors.New("jobsched: invalid options")
)

// JobPanicError carries a panic recovered from a job callback. Worker is
// the index of the worker that observed it, or -1 when the panic was
// raised on a non-worker goroutine.
type JobPanicError struct {
	Value  any
	Stack  []byte
	Worker int
}

func (e *JobPanicError) Error() string {
	if e.Worker >= 0 {
		return fmt.Sprintf("jobsched: job panicked on worker %d: %v", e.Worker, e.Value)
	}
	return fmt.Sprintf("jobsched: job panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *JobPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
