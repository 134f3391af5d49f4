package jobsched

import "sync"

type localSlot[T any] struct {
	once sync.Once
	val  T
	_    cachePad
}

// WorkerLocal is a per-thread cache: one slot per worker plus one for the
// coordinator. A slot is only ever handed to the thread that owns it, so
// values need no locking while the pool runs.
type WorkerLocal[T any] struct {
	pool  *Pool
	init  func() T
	slots []localSlot[T]
}

// NewWorkerLocal creates the slots for p. init, if non-nil, builds a slot
// lazily on its owner's first Get.
func NewWorkerLocal[T any](p *Pool, init func() T) *WorkerLocal[T] {
	return &WorkerLocal[T]{
		pool:  p,
		init:  init,
		slots: make([]localSlot[T], p.Workers()+1),
	}
}

// Get returns the calling thread's slot. It reports false for goroutines
// that are neither a worker nor the coordinator.
func (l *WorkerLocal[T]) Get() (*T, bool) {
	ts := l.pool.lookup(goroutineID())
	if ts == nil || ts.slot >= len(l.slots) {
		return nil, false
	}
	s := &l.slots[ts.slot]
	s.once.Do(func() {
		if l.init != nil {
			s.val = l.init()
		}
	})
	return &s.val, true
}

// Range calls fn for every slot in index order; the coordinator's slot is
// last. Intended for aggregation once the pool is quiescent.
func (l *WorkerLocal[T]) Range(fn func(slot int, v *T)) {
	for i := range l.slots {
		fn(i, &l.slots[i].val)
	}
}
