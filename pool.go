package jobsched

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Pool owns the worker threads and one PriorityJobQueue per priority
// level. It is the explicit scheduler context handed to every subsystem
// that submits work.
//
// The goroutine that creates the pool becomes its coordinator: the only
// thread that re-panics failures captured on workers.
type Pool struct {
	opts    Options
	metrics MetricsPolicy

	queues [PriorityCount]*PriorityJobQueue
	notify *notifier

	workers []*worker
	wg      sync.WaitGroup
	initWG  sync.WaitGroup
	ready   chan struct{}

	threadsMu sync.RWMutex
	threads   map[uint64]*threadState
	coord     *threadState

	relayMu      sync.Mutex
	relay        []*JobPanicError
	relayPending atomic.Int32

	// inflight counts dispatches between their closed check and their
	// push, so Shutdown can wait them out before draining.
	inflight atomic.Int64
	closed   atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once

	failed       atomic.Int32
	delayedCount atomic.Int64

	// helpFn is handed to every job the pool runs; see help.
	helpFn func() bool
}

// NewPool starts a pool configured by opts and binds the calling goroutine
// as coordinator. It returns once every worker is initialized; no job runs
// before that point.
func NewPool(opts Options) (*Pool, error) {
	opts.FillDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		opts:    opts,
		metrics: opts.Metrics,
		notify:  newNotifier(),
		ready:   make(chan struct{}),
		threads: make(map[uint64]*threadState),
		coord: &threadState{
			worker:  -1,
			slot:    opts.Workers,
			delayed: newDelayedSubmitter(),
		},
	}
	p.helpFn = func() bool { return p.help(p.lookup(goroutineID())) }
	for i := range p.queues {
		p.queues[i] = NewPriorityJobQueue(opts.QueueCapacity)
	}
	if err := p.BindCoordinator(); err != nil {
		return nil, err
	}

	p.workers = make([]*worker, opts.Workers)
	p.initWG.Add(opts.Workers)
	p.wg.Add(opts.Workers)
	for i := range p.workers {
		p.workers[i] = newWorker(p, i)
		go p.workers[i].run()
	}
	p.initWG.Wait()
	close(p.ready)

	lg.FromContext(opts.Ctx).Info("job pool started",
		lg.Int("workers", opts.Workers),
		lg.Int("queue_capacity", p.queues[0].Cap()),
		lg.Any("pinned", opts.PinWorkers),
		lg.Any("debug", debugBuild),
	)
	return p, nil
}

// Initialize starts a pool of workerCount workers with default options.
func Initialize(workerCount int) (*Pool, error) {
	return NewPool(Options{Workers: workerCount})
}

// BindCoordinator moves the coordinator role to the calling goroutine.
// Worker threads cannot become coordinator.
func (p *Pool) BindCoordinator() error {
	gid := goroutineID()
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()
	if ts, ok := p.threads[gid]; ok && ts != p.coord {
		return ErrNotPoolThread
	}
	if p.coord.gid != 0 {
		delete(p.threads, p.coord.gid)
	}
	p.coord.gid = gid
	p.threads[gid] = p.coord
	return nil
}

func (p *Pool) register(ts *threadState) {
	p.threadsMu.Lock()
	p.threads[ts.gid] = ts
	p.threadsMu.Unlock()
}

func (p *Pool) unregister(ts *threadState) {
	p.threadsMu.Lock()
	if p.threads[ts.gid] == ts {
		delete(p.threads, ts.gid)
	}
	p.threadsMu.Unlock()
}

func (p *Pool) lookup(gid uint64) *threadState {
	p.threadsMu.RLock()
	ts := p.threads[gid]
	p.threadsMu.RUnlock()
	return ts
}

// IsCoordinatorThread reports whether the caller is the coordinator.
func (p *Pool) IsCoordinatorThread() bool {
	return p.lookup(goroutineID()) == p.coord
}

// CurrentWorkerIndex returns the caller's worker index, or false when the
// caller is not one of this pool's workers.
func (p *Pool) CurrentWorkerIndex() (int, bool) {
	ts := p.lookup(goroutineID())
	if ts == nil || ts.worker < 0 {
		return -1, false
	}
	return ts.worker, true
}

// Workers returns the number of worker threads the pool was started with.
func (p *Pool) Workers() int { return len(p.workers) }

// WorkerState returns the lifecycle state of worker i.
func (p *Pool) WorkerState(i int) WorkerState {
	if i < 0 || i >= len(p.workers) {
		return WorkerState(-1)
	}
	return p.workers[i].getState()
}

// FailedWorkers returns how many workers exited because a job panicked.
func (p *Pool) FailedWorkers() int { return int(p.failed.Load()) }

// QueueLen returns the approximate number of jobs queued at prio.
func (p *Pool) QueueLen(prio Priority) int {
	if !prio.Valid() {
		return 0
	}
	return p.queues[prio].Len()
}

// DelayedJobCount returns the number of delayed jobs not yet promoted,
// across all threads.
func (p *Pool) DelayedJobCount() int64 { return p.delayedCount.Load() }

// Submit runs fn at prio without a completion counter.
func (p *Pool) Submit(fn func(), prio Priority) error {
	if fn == nil {
		invariant(ErrNilFunc)
		return ErrNilFunc
	}
	if !prio.Valid() {
		invariant(ErrInvalidPriority)
		return ErrInvalidPriority
	}
	if p.closed.Load() {
		return ErrPoolClosed
	}
	j, err := NewJob(fn, prio, nil)
	if err != nil {
		return err
	}
	p.DispatchJob(j)
	return nil
}

// DispatchJob pushes job onto its priority queue. When the queue is full,
// or the pool is shut down, the job runs inline on the caller instead:
// producers trade latency for never stalling and nothing is dropped.
func (p *Pool) DispatchJob(job *Job) {
	p.dispatch(job, p.helpFn)
}

// dispatch pushes job or runs it inline with help as its wait helper.
func (p *Pool) dispatch(job *Job, help func() bool) {
	if p.pushJob(job) {
		return
	}
	p.metrics.IncInline()
	p.executeWith(job, help)
}

func (p *Pool) pushJob(job *Job) bool {
	p.inflight.Add(1)
	defer p.inflight.Add(-1)
	if p.closed.Load() {
		return false
	}
	prio := job.prio
	if !prio.Valid() {
		invariant(ErrInvalidPriority)
		prio = Normal
	}
	if !p.queues[prio].TryPush(job) {
		return false
	}
	p.metrics.IncSubmitted(prio)
	p.notify.Notify()
	return true
}

func (p *Pool) execute(job *Job) {
	p.executeWith(job, p.helpFn)
}

func (p *Pool) executeWith(job *Job, help func() bool) {
	job.run(help, p.opts.IdleBackoff)
	p.metrics.IncExecuted()
}

// help runs one piece of pending work for a goroutine whose job panicked
// and that now waits for the job's siblings. Unlike runOne it never
// re-panics relayed failures: the caller is already unwinding.
func (p *Pool) help(ts *threadState) bool {
	if ts != nil && ts.delayed.Pending() > 0 {
		promoted := 0
		p.runHelped(func() { promoted = ts.delayed.poll(p) })
		if promoted > 0 {
			return true
		}
	}
	j, ok := p.acquire()
	if !ok {
		return false
	}
	p.runHelped(func() { p.execute(j) })
	return true
}

// runHelped runs fn on a goroutine that is already unwinding a job panic.
// A second failure cannot propagate from there without abandoning the
// wait, so it is relayed to the coordinator instead.
func (p *Pool) runHelped(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.relayFailure(asJobPanic(r))
		}
	}()
	fn()
}

// AcquireQueuedJob pops the highest-priority pending job. Called on the
// coordinator it first re-panics the oldest failure relayed from a
// worker, so failure reporting rides on normal polling.
func (p *Pool) AcquireQueuedJob() (*Job, bool) {
	if p.lookup(goroutineID()) == p.coord {
		p.rethrowRelayed()
	}
	return p.acquire()
}

func (p *Pool) acquire() (*Job, bool) {
	for prio := Critical; ; prio-- {
		if j, ok := p.queues[prio].TryPop(); ok {
			return j, true
		}
		if prio == Low {
			return nil, false
		}
	}
}

// TryRunOne acquires one job and runs it on the caller. It reports whether
// a job ran.
func (p *Pool) TryRunOne() bool {
	return p.runOne(p.lookup(goroutineID()))
}

// runOne polls ts's delayed jobs, then pops and runs one job. ts is nil
// for goroutines outside the pool.
func (p *Pool) runOne(ts *threadState) bool {
	if ts != nil {
		ts.delayed.poll(p)
		if ts == p.coord {
			p.rethrowRelayed()
		}
	}
	j, ok := p.acquire()
	if !ok {
		return false
	}
	p.execute(j)
	return true
}

// awaitCounter is the cooperative wait: instead of blocking, the caller
// runs whatever the pool has pending until c is finished.
func (p *Pool) awaitCounter(c *JobCounter) {
	gid := goroutineID()
	ts := p.lookup(gid)
	var idl *idler
	for !c.isFinishedFor(gid) {
		if p.runOne(ts) {
			idl = nil
			continue
		}
		if idl == nil {
			idl = p.opts.IdleBackoff.newIdler()
		}
		idl.idle()
	}
}

func (p *Pool) submitDelayed(ts *threadState, entries []delayedEntry) {
	for range entries {
		p.metrics.IncDelayed()
	}
	p.delayedCount.Add(int64(len(entries)))
	ts.delayed.add(entries...)
	// Wake the owner in case it is a worker blocked with an empty list.
	p.notify.Notify()
}

func (p *Pool) promoteAll(jobs []*Job) {
	// Same hand-over as JobGroup.RunAsync: a promoted job that runs inline
	// and panics must be able to promote its remaining siblings.
	next := 0
	var help func() bool
	help = func() bool {
		if next < len(jobs) {
			j := jobs[next]
			next++
			p.runHelped(func() { p.promote(j, help) })
			return true
		}
		return p.helpFn()
	}
	for next < len(jobs) {
		j := jobs[next]
		next++
		p.promote(j, help)
	}
}

func (p *Pool) promote(j *Job, help func() bool) {
	p.delayedCount.Add(-1)
	p.metrics.IncPromoted()
	p.dispatchPromoted(j, help)
}

// dispatchPromoted must not lose the job: a full queue here is a capacity
// overrun, fatal in debug builds and handled inline otherwise.
func (p *Pool) dispatchPromoted(j *Job, help func() bool) {
	if p.pushJob(j) {
		return
	}
	if !p.closed.Load() {
		invariant(ErrQueueFull)
	}
	p.metrics.IncInline()
	p.executeWith(j, help)
}

// handOffDelayed moves a stopping worker's delayed jobs to the coordinator,
// which keeps polling them.
func (p *Pool) handOffDelayed(s *delayedSubmitter) {
	if entries := s.take(); len(entries) > 0 {
		p.coord.delayed.add(entries...)
	}
}

// Shutdown stops the workers after their current job and joins them. Jobs
// still queued afterwards, and delayed jobs whose owners are gone, run on
// the caller so nothing accepted is lost. It returns ctx.Err() if the
// deadline hits first, joined with every worker failure the coordinator
// has not re-panicked yet.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		for p.inflight.Load() != 0 {
			runtime.Gosched()
		}
		p.stopping.Store(true)
		p.notify.Notify()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return p.shutdownErr(ctx.Err())
	}
	for _, w := range p.workers {
		w.setState(WorkerJoined)
	}

	if err := p.drain(ctx); err != nil {
		return p.shutdownErr(err)
	}
	lg.FromContext(p.opts.Ctx).Info("job pool stopped",
		lg.Int32("failed_workers", p.failed.Load()),
	)
	return p.shutdownErr(nil)
}

// Stop is the blocking form of Shutdown.
func (p *Pool) Stop() error { return p.Shutdown(context.Background()) }

func (p *Pool) drain(ctx context.Context) error {
	var idl *idler
	for {
		if j, ok := p.acquire(); ok {
			p.execute(j)
			idl = nil
			continue
		}
		if p.coord.delayed.Pending() == 0 {
			return nil
		}
		if p.coord.delayed.poll(p) > 0 {
			idl = nil
			continue
		}
		if err := ctx.Err(); err != nil {
			lg.FromContext(p.opts.Ctx).Warn("shutdown left delayed jobs unpromoted",
				lg.Int("pending", p.coord.delayed.Pending()),
			)
			return err
		}
		if idl == nil {
			idl = p.opts.IdleBackoff.newIdler()
		}
		idl.idle()
	}
}

func (p *Pool) shutdownErr(cause error) error {
	errs := []error{cause}
	for _, e := range p.takeAllRelayed() {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}
