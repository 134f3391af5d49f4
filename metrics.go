package jobsched

import (
	"sync/atomic"
)

// MetricsPolicy defines hooks used by the pool to report scheduling
// activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking.
type MetricsPolicy interface {

	// IncSubmitted counts a job accepted by the queue of priority p.
	IncSubmitted(p Priority)

	// IncExecuted counts a job that ran to completion.
	IncExecuted()

	// IncInline counts a job the submitter ran itself because its queue
	// was full or the pool was closed.
	IncInline()

	// IncDelayed counts a delayed job handed to a submitter.
	IncDelayed()

	// IncPromoted counts a delayed job whose predicate became true.
	IncPromoted()

	// IncWorkerFailure counts a worker lost to a job panic.
	IncWorkerFailure()
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	// executed is the total number of jobs processed.
	executed atomic.Uint64
	_        cachePad

	// submitted counts queued jobs per priority.
	submitted [PriorityCount]atomic.Uint64
	_         cachePad

	inline   atomic.Uint64
	delayed  atomic.Uint64
	promoted atomic.Uint64
	failures atomic.Uint64
}

// Executed returns the total number of executed jobs.
func (m *AtomicMetrics) Executed() uint64 {
	return m.executed.Load()
}

// Submitted returns how many jobs were queued at priority p.
func (m *AtomicMetrics) Submitted(p Priority) uint64 {
	if !p.Valid() {
		return 0
	}
	return m.submitted[p].Load()
}

// Inline returns how many jobs ran on their submitter.
func (m *AtomicMetrics) Inline() uint64 { return m.inline.Load() }

// Delayed returns how many delayed jobs were submitted.
func (m *AtomicMetrics) Delayed() uint64 { return m.delayed.Load() }

// Promoted returns how many delayed jobs became ready.
func (m *AtomicMetrics) Promoted() uint64 { return m.promoted.Load() }

// WorkerFailures returns how many workers exited on a panic.
func (m *AtomicMetrics) WorkerFailures() uint64 { return m.failures.Load() }

func (m *AtomicMetrics) IncSubmitted(p Priority) {
	if p.Valid() {
		m.submitted[p].Add(1)
	}
}

func (m *AtomicMetrics) IncExecuted()      { m.executed.Add(1) }
func (m *AtomicMetrics) IncInline()        { m.inline.Add(1) }
func (m *AtomicMetrics) IncDelayed()       { m.delayed.Add(1) }
func (m *AtomicMetrics) IncPromoted()      { m.promoted.Add(1) }
func (m *AtomicMetrics) IncWorkerFailure() { m.failures.Add(1) }

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
type NoopMetrics struct{}

func (m *NoopMetrics) IncSubmitted(Priority) {}
func (m *NoopMetrics) IncExecuted()          {}
func (m *NoopMetrics) IncInline()            {}
func (m *NoopMetrics) IncDelayed()           {}
func (m *NoopMetrics) IncPromoted()          {}
func (m *NoopMetrics) IncWorkerFailure()     {}

//------------- TeeMetrics -----------------------------------

// TeeMetrics fans every event out to several policies.
type TeeMetrics []MetricsPolicy

func (t TeeMetrics) IncSubmitted(p Priority) {
	for _, m := range t {
		m.IncSubmitted(p)
	}
}

func (t TeeMetrics) IncExecuted() {
	for _, m := range t {
		m.IncExecuted()
	}
}

func (t TeeMetrics) IncInline() {
	for _, m := range t {
		m.IncInline()
	}
}

func (t TeeMetrics) IncDelayed() {
	for _, m := range t {
		m.IncDelayed()
	}
}

func (t TeeMetrics) IncPromoted() {
	for _, m := range t {
		m.IncPromoted()
	}
}

func (t TeeMetrics) IncWorkerFailure() {
	for _, m := range t {
		m.IncWorkerFailure()
	}
}
