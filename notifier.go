package jobsched

import (
	"sync"
	"sync/atomic"
	"time"
)

// notifier is the "work arrived" signal idle workers block on.
//
// epoch increases on every Notify. A waiter snapshots the epoch before it
// polls the queues and only sleeps while the epoch still equals that
// snapshot, so a push that lands between the poll and the wait is never
// missed. The wake channel is closed and replaced only when somebody is
// actually waiting.
type notifier struct {
	epoch   atomic.Uint64
	waiters atomic.Int32

	mu   sync.Mutex
	wake chan struct{}
}

func newNotifier() *notifier {
	return &notifier{wake: make(chan struct{})}
}

// Epoch returns the current snapshot value.
func (n *notifier) Epoch() uint64 {
	return n.epoch.Load()
}

// Notify advances the epoch and wakes every waiter.
func (n *notifier) Notify() {
	n.epoch.Add(1)
	if n.waiters.Load() == 0 {
		return
	}
	n.mu.Lock()
	close(n.wake)
	n.wake = make(chan struct{})
	n.mu.Unlock()
}

// Wait blocks until the epoch differs from seen. A positive timeout bounds
// the wait; zero waits indefinitely. It reports whether the epoch moved.
func (n *notifier) Wait(seen uint64, timeout time.Duration) bool {
	n.mu.Lock()
	n.waiters.Add(1)
	if n.epoch.Load() != seen {
		n.waiters.Add(-1)
		n.mu.Unlock()
		return true
	}
	wake := n.wake
	n.mu.Unlock()
	defer n.waiters.Add(-1)

	if timeout <= 0 {
		<-wake
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wake:
		return true
	case <-timer.C:
		return n.epoch.Load() != seen
	}
}
