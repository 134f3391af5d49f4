package jobsched

import (
	"runtime"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
)

const (
	defaultIdleInitial = 2 * time.Microsecond
	defaultIdleMax     = time.Millisecond

	// idleSpins is how many times an idle thread yields before it starts
	// sleeping.
	idleSpins = 64
)

// BackoffPolicy bounds how long a thread with nothing to run sleeps
// between polls. It is used by cooperative awaiters, by workers that have
// pending delayed jobs, and by the wait of a panicked job for its
// siblings. Job.Execute called outside a pool uses GetDefaultBackoff.
// Zero values are treated as "use pool defaults".
type BackoffPolicy struct {
	// Initial is the first sleep after the spin phase.
	Initial time.Duration

	// Max is the cap for a single sleep.
	Max time.Duration
}

// GetDefaultBackoff returns the policy used when Options.IdleBackoff is
// left empty.
func GetDefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial: defaultIdleInitial,
		Max:     defaultIdleMax,
	}
}

func (bp *BackoffPolicy) fillDefaults() {
	if bp.Initial <= 0 {
		bp.Initial = defaultIdleInitial
	}
	if bp.Max <= 0 {
		bp.Max = defaultIdleMax
	}
	if bp.Max < bp.Initial {
		bp.Max = bp.Initial
	}
}

// idler escalates from yielding to exponentially growing sleeps. A fresh
// idler is created for every wait so the backoff starts small again.
type idler struct {
	spins int
	next  func() time.Duration
}

func (bp BackoffPolicy) newIdler() *idler {
	bo := boff.New(bp.Initial, bp.Max, time.Now().UnixNano())
	return &idler{
		next: func() time.Duration { return bo.Next() },
	}
}

// idle gives up the processor once: a yield during the spin phase, a
// backoff sleep afterwards.
func (i *idler) idle() {
	if i.spins < idleSpins {
		i.spins++
		runtime.Gosched()
		return
	}
	time.Sleep(i.next())
}

// timeout returns the next bounded wait for a notifier; during the spin
// phase it is zero.
func (i *idler) timeout() time.Duration {
	if i.spins < idleSpins {
		i.spins++
		return 0
	}
	return i.next()
}
