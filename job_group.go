package jobsched

// JobGroup is a batch of jobs sharing one completion counter and one
// priority.
//
// Build a group, add closures, then either fire it with RunAsync or wait
// for it with Await. No ordering is guaranteed between the jobs of one
// group. A group is dispatched at most once.
type JobGroup struct {
	pool       *Pool
	prio       Priority
	counter    *JobCounter
	jobs       []*Job
	dispatched bool
}

// NewJobGroup creates an empty group that dispatches at prio.
func NewJobGroup(p *Pool, prio Priority) *JobGroup {
	if !prio.Valid() {
		invariant(ErrInvalidPriority)
		prio = Normal
	}
	return &JobGroup{
		pool:    p,
		prio:    prio,
		counter: NewJobCounter(),
	}
}

// AddJob appends fn to the group.
func (g *JobGroup) AddJob(fn func()) error {
	if g.dispatched {
		invariant(ErrGroupDispatched)
		return ErrGroupDispatched
	}
	if fn == nil {
		invariant(ErrNilFunc)
		return ErrNilFunc
	}
	j, err := NewJob(fn, g.prio, g.counter)
	if err != nil {
		return err
	}
	g.jobs = append(g.jobs, j)
	return nil
}

// Len returns the number of jobs added so far.
func (g *JobGroup) Len() int { return len(g.jobs) }

// Priority returns the queue the group dispatches to.
func (g *JobGroup) Priority() Priority { return g.prio }

// Counter returns the completion counter shared by the group's jobs.
func (g *JobGroup) Counter() *JobCounter { return g.counter }

// RunAsync arms the counter and dispatches every job, returning
// immediately. Jobs that do not fit their queue run inline on the caller
// before RunAsync returns.
func (g *JobGroup) RunAsync() {
	if g.dispatched {
		invariant(ErrGroupDispatched)
		return
	}
	g.dispatched = true

	// Armed before the first push: a job finishing on another thread must
	// never see the counter at zero while siblings are still undispatched.
	g.counter.SetCounterValue(len(g.jobs))
	jobs := g.jobs
	g.jobs = nil

	// An inline job that panics waits for its siblings, and only this
	// goroutine can dispatch the ones still in jobs. Its wait helper
	// therefore hands them out first.
	next := 0
	var help func() bool
	help = func() bool {
		if next < len(jobs) {
			j := jobs[next]
			next++
			g.pool.runHelped(func() { g.pool.dispatch(j, help) })
			return true
		}
		return g.pool.helpFn()
	}
	for next < len(jobs) {
		j := jobs[next]
		next++
		g.pool.dispatch(j, help)
	}
}

// Await dispatches the group like RunAsync and then keeps the calling
// goroutine busy with any pending pool work until every job of the group
// has completed or panicked. It returns on the calling goroutine.
func (g *JobGroup) Await() {
	g.RunAsync()
	g.pool.awaitCounter(g.counter)
}
