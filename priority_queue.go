package jobsched

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// cachePad is used to prevent false sharing between hot fields.
type cachePad = cpu.CacheLinePad

// DefaultQueueCapacity is the per-priority queue capacity used when
// Options.QueueCapacity is zero.
const DefaultQueueCapacity = 1024

// queueCell is one ring slot. seq encodes which lap of the ring the slot
// belongs to and whether it currently holds a job:
//
//	seq == pos       slot free for the producer at pos
//	seq == pos + 1   slot holds the job written at pos
type queueCell struct {
	seq atomic.Uint64
	job *Job
}

// PriorityJobQueue is a bounded multi-producer multi-consumer queue for one
// priority level.
//
// Producers and consumers claim positions with a CAS on their own cursor
// and hand the slot over through the per-cell sequence number, so neither
// side ever takes a lock. TryPush fails instead of blocking when the ring
// is full.
type PriorityJobQueue struct {
	_       cachePad
	enqueue atomic.Uint64
	_       cachePad
	dequeue atomic.Uint64
	_       cachePad

	mask  uint64 // len(cells) - 1, len(cells) must be a power of 2
	cells []queueCell
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// minQueueCapacity is the smallest ring the sequence protocol supports:
// with a single cell a filled slot's seq equals the next producer position
// and a second push would overwrite the first job.
const minQueueCapacity = 2

// NewPriorityJobQueue creates a queue holding at least capacity jobs.
// The capacity is rounded up to the next power of two, and to no less
// than two.
func NewPriorityJobQueue(capacity int) *PriorityJobQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	size := nextPow2(max(capacity, minQueueCapacity))
	q := &PriorityJobQueue{
		mask:  uint64(size - 1),
		cells: make([]queueCell, size),
	}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush appends job and reports whether it was accepted. It returns
// false when the ring is full.
func (q *PriorityJobQueue) TryPush(job *Job) bool {
	pos := q.enqueue.Load()
	var c *queueCell
	for {
		c = &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				c.job = job
				c.seq.Store(pos + 1)
				return true
			}
			pos = q.enqueue.Load()
		case dif < 0:
			return false
		default:
			pos = q.enqueue.Load()
		}
	}
}

// TryPop removes the oldest job, or reports false when the queue is empty.
func (q *PriorityJobQueue) TryPop() (*Job, bool) {
	pos := q.dequeue.Load()
	var c *queueCell
	for {
		c = &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if q.dequeue.CompareAndSwap(pos, pos+1) {
				job := c.job
				c.job = nil
				c.seq.Store(pos + q.mask + 1)
				return job, true
			}
			pos = q.dequeue.Load()
		case dif < 0:
			return nil, false
		default:
			pos = q.dequeue.Load()
		}
	}
}

// Len returns an approximate number of queued jobs.
func (q *PriorityJobQueue) Len() int {
	deq := q.dequeue.Load()
	enq := q.enqueue.Load()
	if enq <= deq {
		return 0
	}
	return int(enq - deq)
}

// Cap returns the ring size.
func (q *PriorityJobQueue) Cap() int {
	return len(q.cells)
}
