package jobsched

import (
	"context"
	"fmt"
	"runtime"
)

// Options configure a Pool.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type Options struct {
	// Workers is the number of worker threads. Defaults to GOMAXPROCS.
	Workers int

	// QueueCapacity is the per-priority queue capacity, rounded up to a
	// power of two of at least 2. A full queue makes the submitter run the
	// job inline.
	QueueCapacity int

	// PinWorkers pins every worker to its own logical core (Linux only).
	PinWorkers bool

	// Ctx carries the logger used for pool lifecycle messages.
	Ctx context.Context

	// Metrics receives scheduling events. Defaults to NoopMetrics.
	Metrics MetricsPolicy

	// IdleBackoff bounds the sleeps of awaiters and of workers that are
	// polling delayed jobs.
	IdleBackoff BackoffPolicy

	// OnInternalError is called for non-job failures such as a worker
	// that could not be pinned.
	OnInternalError func(error)

	// OnWorkerFailure is called on a failing worker right before it exits.
	OnWorkerFailure func(*JobPanicError)
}

func (o *Options) FillDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.Ctx == nil {
		o.Ctx = context.Background()
	}
	if o.Metrics == nil {
		o.Metrics = &NoopMetrics{}
	}
	o.IdleBackoff.fillDefaults()
}

// Validate reports options FillDefaults cannot repair.
func (o *Options) Validate() error {
	if o.Workers > maxWorkers {
		return fmt.Errorf("%w: Workers = %d exceeds %d", ErrInvalidOptions, o.Workers, maxWorkers)
	}
	if o.QueueCapacity > maxQueueCapacity {
		return fmt.Errorf("%w: QueueCapacity = %d exceeds %d", ErrInvalidOptions, o.QueueCapacity, maxQueueCapacity)
	}
	return nil
}

const (
	maxWorkers       = 1 << 12
	maxQueueCapacity = 1 << 24
)
