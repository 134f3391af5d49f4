package jobsched

import (
	"sync"
	"sync/atomic"
)

// JobCounter tracks the outstanding jobs of one group.
//
// The count itself is a plain atomic. Next to it the counter remembers how
// deeply each goroutine is currently nested inside jobs of this counter;
// that depth is what lets a goroutine that re-entered the counter treat it
// as finished instead of waiting on itself.
type JobCounter struct {
	count atomic.Int64

	mu      sync.RWMutex
	entries map[uint64]int32
}

// NewJobCounter returns a counter with no outstanding jobs.
func NewJobCounter() *JobCounter {
	return &JobCounter{entries: make(map[uint64]int32)}
}

// SetCounterValue arms the counter. It must be called before any job of
// the group becomes visible to other goroutines.
func (c *JobCounter) SetCounterValue(n int) {
	c.count.Store(int64(n))
}

// DecrementCounter records one completed job.
func (c *JobCounter) DecrementCounter() {
	c.count.Add(-1)
}

// Value returns the number of jobs not yet completed.
func (c *JobCounter) Value() int64 {
	return c.count.Load()
}

// IsFinished reports whether every job has completed, or whether the
// calling goroutine is nested more than once inside jobs of this counter.
func (c *JobCounter) IsFinished() bool {
	if c.count.Load() <= 0 {
		return true
	}
	return c.isFinishedFor(goroutineID())
}

// NotifyThreadEntry records that the calling goroutine started a job of
// this counter.
func (c *JobCounter) NotifyThreadEntry() {
	c.enter(goroutineID())
}

// NotifyThreadExit undoes one NotifyThreadEntry.
func (c *JobCounter) NotifyThreadExit() {
	c.exit(goroutineID())
}

func (c *JobCounter) isFinishedFor(gid uint64) bool {
	if c.count.Load() <= 0 {
		return true
	}
	c.mu.RLock()
	depth := c.entries[gid]
	c.mu.RUnlock()
	return depth > 1
}

func (c *JobCounter) enter(gid uint64) {
	c.mu.Lock()
	c.entries[gid]++
	c.mu.Unlock()
}

func (c *JobCounter) exit(gid uint64) {
	c.mu.Lock()
	if d := c.entries[gid]; d <= 1 {
		delete(c.entries, gid)
	} else {
		c.entries[gid] = d - 1
	}
	c.mu.Unlock()
}

