package jobsched

import (
	"sync"
	"sync/atomic"
)

// delayedEntry is a fully built job that waits for ready to return true.
type delayedEntry struct {
	job   *Job
	ready func() bool
}

// delayedSubmitter is the thread-local list of delayed jobs owned by one
// pool thread. Only the owner polls it; the mutex exists for the hand-off
// of a dying worker's list to the coordinator.
type delayedSubmitter struct {
	mu      sync.Mutex
	entries []delayedEntry
	pending atomic.Int64
}

func newDelayedSubmitter() *delayedSubmitter {
	return &delayedSubmitter{}
}

// Pending returns the number of entries whose predicate has not held yet.
func (s *delayedSubmitter) Pending() int {
	return int(s.pending.Load())
}

func (s *delayedSubmitter) add(entries ...delayedEntry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	s.pending.Add(int64(len(entries)))
	s.mu.Unlock()
}

// take empties the list and returns what was pending.
func (s *delayedSubmitter) take() []delayedEntry {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.pending.Add(-int64(len(entries)))
	s.mu.Unlock()
	return entries
}

// poll checks every predicate once and dispatches the entries that are
// ready. Predicates run outside the lock so they may submit more work.
// A panicking predicate fails its own job the way a panicking job would:
// its counter is decremented, the remaining entries are put back and the
// panic continues as a *JobPanicError.
func (s *delayedSubmitter) poll(p *Pool) int {
	if s.pending.Load() == 0 {
		return 0
	}
	entries := s.take()

	var ready []*Job
	keep := entries[:0]
	for i := 0; i < len(entries); i++ {
		e := entries[i]
		ok, perr := checkReady(e.ready)
		if perr != nil {
			s.requeue(keep, entries[i+1:])
			if c := e.job.counter; c != nil {
				c.DecrementCounter()
			}
			p.delayedCount.Add(-1)
			p.promoteAll(ready)
			panic(perr)
		}
		if ok {
			ready = append(ready, e.job)
		} else {
			keep = append(keep, e)
		}
	}
	s.requeue(keep, nil)
	p.promoteAll(ready)
	return len(ready)
}

// requeue puts unpromoted entries back ahead of anything added while the
// predicates were running.
func (s *delayedSubmitter) requeue(keep, rest []delayedEntry) {
	n := len(keep) + len(rest)
	if n == 0 {
		return
	}
	merged := make([]delayedEntry, 0, n)
	merged = append(merged, keep...)
	merged = append(merged, rest...)

	s.mu.Lock()
	s.entries = append(merged, s.entries...)
	s.pending.Add(int64(n))
	s.mu.Unlock()
}

func checkReady(ready func() bool) (ok bool, perr *JobPanicError) {
	defer func() {
		if r := recover(); r != nil {
			perr = asJobPanic(r)
		}
	}()
	return ready(), nil
}

// DelayedJobGroup is a batch of jobs gated by readiness predicates instead
// of by other jobs, for example a job that may only run once a fence value
// has been reached.
//
// The group lives in the submitting thread's local list, never in the
// shared queues, and is polled by that thread whenever it is about to run
// a job or would otherwise go idle.
type DelayedJobGroup struct {
	pool       *Pool
	prio       Priority
	counter    *JobCounter
	entries    []delayedEntry
	dispatched bool
}

// NewDelayedJobGroup creates an empty group whose jobs are promoted at prio.
func NewDelayedJobGroup(p *Pool, prio Priority) *DelayedJobGroup {
	if !prio.Valid() {
		invariant(ErrInvalidPriority)
		prio = Normal
	}
	return &DelayedJobGroup{
		pool:    p,
		prio:    prio,
		counter: NewJobCounter(),
	}
}

// AddJob appends fn, to be run once ready reports true.
func (g *DelayedJobGroup) AddJob(fn func(), ready func() bool) error {
	if g.dispatched {
		invariant(ErrGroupDispatched)
		return ErrGroupDispatched
	}
	if fn == nil || ready == nil {
		invariant(ErrNilFunc)
		return ErrNilFunc
	}
	j, err := NewJob(fn, g.prio, g.counter)
	if err != nil {
		return err
	}
	g.entries = append(g.entries, delayedEntry{job: j, ready: ready})
	return nil
}

// Len returns the number of jobs added so far.
func (g *DelayedJobGroup) Len() int { return len(g.entries) }

// Counter returns the completion counter shared by the group's jobs.
func (g *DelayedJobGroup) Counter() *JobCounter { return g.counter }

// Submit arms the counter and hands the entries to the calling thread's
// delayed list. It returns ErrNotPoolThread when the caller is neither a
// worker nor the coordinator.
func (g *DelayedJobGroup) Submit() error {
	if g.dispatched {
		invariant(ErrGroupDispatched)
		return ErrGroupDispatched
	}
	ts := g.pool.lookup(goroutineID())
	if ts == nil {
		return ErrNotPoolThread
	}
	g.dispatched = true
	g.counter.SetCounterValue(len(g.entries))
	g.pool.submitDelayed(ts, g.entries)
	g.entries = nil
	return nil
}

// Wait blocks cooperatively until every job of a submitted group has run.
// Only the submitting thread polls the group's predicates, so waiting
// anywhere else relies on that thread staying active.
func (g *DelayedJobGroup) Wait() {
	g.pool.awaitCounter(g.counter)
}

// Await submits the group and waits cooperatively until every job has run.
func (g *DelayedJobGroup) Await() error {
	if err := g.Submit(); err != nil {
		return err
	}
	g.Wait()
	return nil
}
