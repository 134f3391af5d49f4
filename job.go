package jobsched

import (
	"runtime/debug"
	"sync/atomic"
)

// Job is one schedulable unit: a callback, its priority and an optional
// completion counter shared with the rest of its group.
//
// A Job is executed exactly once by whichever goroutine pops it. Jobs are
// handled by pointer and must not be copied.
type Job struct {
	fn      atomic.Pointer[func()]
	prio    Priority
	counter *JobCounter
}

// NewJob wraps fn into a job. counter may be nil for fire-and-forget jobs.
func NewJob(fn func(), prio Priority, counter *JobCounter) (*Job, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if !prio.Valid() {
		return nil, ErrInvalidPriority
	}
	j := &Job{prio: prio, counter: counter}
	j.fn.Store(&fn)
	return j, nil
}

// Priority returns the queue the job is dispatched to.
func (j *Job) Priority() Priority { return j.prio }

// Counter returns the group counter, or nil.
func (j *Job) Counter() *JobCounter { return j.counter }

// Execute runs the callback on the calling goroutine.
//
// When the callback panics the counter is decremented first, then Execute
// waits until the counter is finished from this goroutine's point of view
// before re-panicking with a *JobPanicError. Sibling jobs of the same
// group may still be running further up this goroutine's stack (a job
// that awaited and picked up its sibling); they observe the counter as
// finished through the reentrancy rule rather than deadlocking.
//
// Execute called directly only idles while it waits. Jobs run by a Pool
// help instead: the waiting goroutine runs pending work, which may be the
// very siblings it waits for.
func (j *Job) Execute() {
	j.run(nil, GetDefaultBackoff())
}

// run executes the job. help, if non-nil, runs one piece of pending work
// and reports whether it did; it is used while a failed job waits for its
// siblings.
func (j *Job) run(help func() bool, bp BackoffPolicy) {
	fnp := j.fn.Swap(nil)
	if fnp == nil {
		invariant(ErrJobConsumed)
		return
	}
	fn := *fnp

	c := j.counter
	if c == nil {
		defer func() {
			if r := recover(); r != nil {
				panic(asJobPanic(r))
			}
		}()
		fn()
		return
	}

	gid := goroutineID()
	c.enter(gid)

	completed := false
	defer func() {
		if completed {
			return
		}
		// r is nil when the callback called runtime.Goexit.
		r := recover()
		c.DecrementCounter()
		defer c.exit(gid)
		if r != nil {
			waitFinished(c, gid, help, bp)
			panic(asJobPanic(r))
		}
	}()

	fn()

	completed = true
	c.DecrementCounter()
	c.exit(gid)
}

func waitFinished(c *JobCounter, gid uint64, help func() bool, bp BackoffPolicy) {
	var idl *idler
	for !c.isFinishedFor(gid) {
		if help != nil && help() {
			idl = nil
			continue
		}
		if idl == nil {
			idl = bp.newIdler()
		}
		idl.idle()
	}
}

// asJobPanic keeps an already wrapped panic intact so the innermost stack
// survives re-panics through nested jobs.
func asJobPanic(r any) *JobPanicError {
	if e, ok := r.(*JobPanicError); ok {
		return e
	}
	return &JobPanicError{
		Value:  r,
		Stack:  debug.Stack(),
		Worker: -1,
	}
}
