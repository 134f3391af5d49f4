package jobsched_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	js "github.com/azargarov/jobsched"
)

func TestOptions_FillDefaults(t *testing.T) {
	var o js.Options
	o.FillDefaults()

	if o.Workers <= 0 {
		t.Fatalf("Workers = %d; want > 0", o.Workers)
	}
	if o.QueueCapacity != js.DefaultQueueCapacity {
		t.Fatalf("QueueCapacity = %d; want %d", o.QueueCapacity, js.DefaultQueueCapacity)
	}
	if o.Ctx == nil || o.Metrics == nil {
		t.Fatal("Ctx and Metrics must be filled")
	}
	if o.IdleBackoff.Initial <= 0 || o.IdleBackoff.Max < o.IdleBackoff.Initial {
		t.Fatalf("IdleBackoff = %+v; want a usable policy", o.IdleBackoff)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts js.Options
		ok   bool
	}{
		{"defaults", js.Options{}, true},
		{"too many workers", js.Options{Workers: 1 << 20}, false},
		{"huge queue", js.Options{QueueCapacity: 1 << 30}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := tc.opts
			o.FillDefaults()
			err := o.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, js.ErrInvalidOptions) {
				t.Fatalf("Validate: err = %v; want ErrInvalidOptions", err)
			}
		})
	}
	if _, err := js.NewPool(js.Options{Workers: 1 << 20}); !errors.Is(err, js.ErrInvalidOptions) {
		t.Fatalf("NewPool: err = %v; want ErrInvalidOptions", err)
	}
}

func TestPool_GroupRunsEveryJobOnce(t *testing.T) {
	p := newTestPool(t, 4, 256)

	const n = 1000
	hits := make([]atomic.Int32, n)
	g := js.NewJobGroup(p, js.Normal)
	for i := 0; i < n; i++ {
		i := i
		if err := g.AddJob(func() { hits[i].Add(1) }); err != nil {
			t.Fatalf("AddJob: %v", err)
		}
	}
	if g.Len() != n {
		t.Fatalf("Len = %d; want %d", g.Len(), n)
	}

	g.Await()

	if !g.Counter().IsFinished() {
		t.Fatalf("counter = %d after Await", g.Counter().Value())
	}
	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Fatalf("job %d ran %d times; want 1", i, got)
		}
	}
}

func TestPool_Submit(t *testing.T) {
	p := newTestPool(t, 2, 64)

	var done atomic.Int32
	for i := 0; i < 100; i++ {
		if err := p.Submit(func() { done.Add(1) }, js.Priority(i%js.PriorityCount)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitUntil(t, 2*time.Second, func() bool { return done.Load() == 100 })
}

// blockWorkers occupies every worker of p until the returned func is
// called.
func blockWorkers(t *testing.T, p *js.Pool) (release func()) {
	t.Helper()

	gate := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < p.Workers(); i++ {
		if err := p.Submit(func() {
			started.Add(1)
			<-gate
		}, js.Critical); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitUntil(t, 2*time.Second, func() bool { return int(started.Load()) == p.Workers() })

	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func TestPool_HigherPriorityRunsFirst(t *testing.T) {
	p := newTestPool(t, 1, 64)
	release := blockWorkers(t, p)

	var mu sync.Mutex
	var order []js.Priority
	record := func(prio js.Priority) func() {
		return func() {
			mu.Lock()
			order = append(order, prio)
			mu.Unlock()
		}
	}

	const perLevel = 8
	for i := 0; i < perLevel; i++ {
		for _, prio := range []js.Priority{js.Low, js.Normal, js.High, js.Critical} {
			if err := p.Submit(record(prio), prio); err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
	}
	if got := p.QueueLen(js.Low); got != perLevel {
		t.Fatalf("QueueLen(low) = %d; want %d", got, perLevel)
	}

	release()
	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == perLevel*js.PriorityCount
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		if order[i] > order[i-1] {
			t.Fatalf("%v ran after %v: order = %v", order[i], order[i-1], order)
		}
	}
}

func TestPool_FullQueueRunsInline(t *testing.T) {
	stats := &js.AtomicMetrics{}
	p, err := js.NewPool(js.Options{Workers: 1, QueueCapacity: 2, Metrics: stats})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	release := blockWorkers(t, p)

	const n = 10
	var ran atomic.Int32
	g := js.NewJobGroup(p, js.Normal)
	for i := 0; i < n; i++ {
		_ = g.AddJob(func() { ran.Add(1) })
	}
	g.RunAsync()

	if got := ran.Load(); got != n-2 {
		t.Fatalf("ran inline = %d; want %d", got, n-2)
	}
	if got := stats.Inline(); got != n-2 {
		t.Fatalf("Inline metric = %d; want %d", got, n-2)
	}

	release()
	waitUntil(t, 2*time.Second, g.Counter().IsFinished)
	if got := ran.Load(); got != n {
		t.Fatalf("ran = %d; want %d", got, n)
	}
	waitUntil(t, 2*time.Second, func() bool { return stats.Executed() == n+1 })
}

// A job that awaits a nested group keeps its worker busy with the nested
// jobs instead of blocking it.
func TestPool_NestedAwaitRunsOnSameWorker(t *testing.T) {
	p := newTestPool(t, 1, 64)

	var mu sync.Mutex
	var executors []int
	done := make(chan int, 1)

	err := p.Submit(func() {
		outer, _ := p.CurrentWorkerIndex()
		g := js.NewJobGroup(p, js.High)
		for i := 0; i < 4; i++ {
			_ = g.AddJob(func() {
				w, _ := p.CurrentWorkerIndex()
				mu.Lock()
				executors = append(executors, w)
				mu.Unlock()
			})
		}
		g.Await()
		done <- outer
	}, js.Normal)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var outer int
	select {
	case outer = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested await did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executors) != 4 {
		t.Fatalf("nested jobs run = %d; want 4", len(executors))
	}
	for _, w := range executors {
		if w != outer {
			t.Fatalf("nested job ran on worker %d; want %d", w, outer)
		}
	}
}

func TestPool_DeepNesting(t *testing.T) {
	p := newTestPool(t, 4, 64)

	var leaves atomic.Int64
	var spawn func(depth int)
	spawn = func(depth int) {
		if depth == 0 {
			leaves.Add(1)
			return
		}
		g := js.NewJobGroup(p, js.Priority(depth%js.PriorityCount))
		for i := 0; i < 4; i++ {
			_ = g.AddJob(func() { spawn(depth - 1) })
		}
		g.Await()
	}
	spawn(4)

	if got := leaves.Load(); got != 256 {
		t.Fatalf("leaves = %d; want 256", got)
	}
}

func TestPool_WorkerFailureRelayedToCoordinator(t *testing.T) {
	var hooked atomic.Int32
	stats := &js.AtomicMetrics{}
	p, err := js.NewPool(js.Options{
		Workers: 2,
		Metrics: stats,
		OnWorkerFailure: func(*js.JobPanicError) {
			hooked.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })

	if err := p.Submit(func() { panic("kaboom") }, js.Normal); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return p.FailedWorkers() == 1 })

	r := catchPanic(func() { p.AcquireQueuedJob() })
	perr, ok := r.(*js.JobPanicError)
	if !ok {
		t.Fatalf("AcquireQueuedJob panic = %#v; want *JobPanicError", r)
	}
	if perr.Value != "kaboom" {
		t.Fatalf("panic value = %v; want kaboom", perr.Value)
	}
	if perr.Worker < 0 || perr.Worker >= 2 {
		t.Fatalf("Worker = %d; want 0 or 1", perr.Worker)
	}
	if got := p.WorkerState(perr.Worker); got != js.WorkerStopping {
		t.Fatalf("failed worker state = %v; want stopping", got)
	}
	if hooked.Load() != 1 || stats.WorkerFailures() != 1 {
		t.Fatalf("hook = %d, metric = %d; want 1 and 1", hooked.Load(), stats.WorkerFailures())
	}

	// The surviving worker keeps serving.
	var ran atomic.Bool
	_ = p.Submit(func() { ran.Store(true) }, js.Normal)
	waitUntil(t, 2*time.Second, ran.Load)

	// Already re-panicked: nothing is left for Shutdown to report.
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_ShutdownReportsUnrelayedFailures(t *testing.T) {
	p := newTestPool(t, 1, 64)

	if err := p.Submit(func() { panic(errors.New("lost")) }, js.Normal); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return p.FailedWorkers() == 1 })

	err := p.Stop()
	var perr *js.JobPanicError
	if !errors.As(err, &perr) {
		t.Fatalf("Stop: err = %v; want *JobPanicError", err)
	}
	if perr.Worker != 0 {
		t.Fatalf("Worker = %d; want 0", perr.Worker)
	}
}

func TestPool_ThreadIdentity(t *testing.T) {
	p := newTestPool(t, 2, 64)

	if !p.IsCoordinatorThread() {
		t.Fatal("creating goroutine is not the coordinator")
	}
	if _, ok := p.CurrentWorkerIndex(); ok {
		t.Fatal("coordinator reported as worker")
	}

	type ident struct {
		index int
		ok    bool
		coord bool
	}
	got := make(chan ident, 1)
	_ = p.Submit(func() {
		i, ok := p.CurrentWorkerIndex()
		got <- ident{i, ok, p.IsCoordinatorThread()}
	}, js.Normal)
	id := <-got
	if !id.ok || id.index < 0 || id.index >= 2 || id.coord {
		t.Fatalf("worker identity = %+v", id)
	}

	foreign := make(chan bool, 1)
	go func() { foreign <- p.IsCoordinatorThread() }()
	if <-foreign {
		t.Fatal("foreign goroutine reported as coordinator")
	}

	rebound := make(chan error, 1)
	go func() { rebound <- p.BindCoordinator() }()
	if err := <-rebound; err != nil {
		t.Fatalf("BindCoordinator: %v", err)
	}
	if p.IsCoordinatorThread() {
		t.Fatal("old coordinator still bound")
	}

	fromWorker := make(chan error, 1)
	_ = p.Submit(func() { fromWorker <- p.BindCoordinator() }, js.Normal)
	if err := <-fromWorker; !errors.Is(err, js.ErrNotPoolThread) {
		t.Fatalf("BindCoordinator on worker: err = %v; want ErrNotPoolThread", err)
	}
}

func TestPool_WorkerLifecycle(t *testing.T) {
	p := newTestPool(t, 3, 64)

	if p.Workers() != 3 {
		t.Fatalf("Workers = %d; want 3", p.Workers())
	}
	for i := 0; i < p.Workers(); i++ {
		i := i
		waitUntil(t, time.Second, func() bool { return p.WorkerState(i) == js.WorkerRunning })
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for i := 0; i < p.Workers(); i++ {
		if got := p.WorkerState(i); got != js.WorkerJoined {
			t.Fatalf("worker %d state = %v; want joined", i, got)
		}
	}
	if got := p.WorkerState(99).String(); got != "unknown" {
		t.Fatalf("out of range state = %q; want unknown", got)
	}
}

func TestPool_AfterShutdown(t *testing.T) {
	p := newTestPool(t, 2, 64)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := p.Submit(emptyWork, js.Normal); !errors.Is(err, js.ErrPoolClosed) {
		t.Fatalf("Submit: err = %v; want ErrPoolClosed", err)
	}

	ran := false
	j, _ := js.NewJob(func() { ran = true }, js.Normal, nil)
	p.DispatchJob(j)
	if !ran {
		t.Fatal("DispatchJob after shutdown did not run inline")
	}

	n := 0
	g := js.NewJobGroup(p, js.High)
	for i := 0; i < 5; i++ {
		_ = g.AddJob(func() { n++ })
	}
	g.Await()
	if n != 5 {
		t.Fatalf("group ran %d jobs; want 5", n)
	}
}

func TestPool_ShutdownRunsQueuedJobs(t *testing.T) {
	p := newTestPool(t, 1, 64)
	release := blockWorkers(t, p)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		_ = p.Submit(func() { ran.Add(1) }, js.Low)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ran.Load(); got != 5 {
		t.Fatalf("ran = %d; want 5", got)
	}
}

func TestPool_ShutdownDeadline(t *testing.T) {
	p := newTestPool(t, 1, 64)
	release := blockWorkers(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown: err = %v; want DeadlineExceeded", err)
	}

	release()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_TryRunOne(t *testing.T) {
	p := newTestPool(t, 1, 64)
	release := blockWorkers(t, p)
	defer release()

	if p.TryRunOne() {
		t.Fatal("TryRunOne ran a job on an empty pool")
	}
	ran := false
	_ = p.Submit(func() { ran = true }, js.Normal)
	if !p.TryRunOne() || !ran {
		t.Fatal("TryRunOne did not run the queued job")
	}
}

func TestContext(t *testing.T) {
	p := newTestPool(t, 1, 64)

	if js.FromContext(context.Background()) != nil {
		t.Fatal("empty context returned a pool")
	}
	ctx := js.NewContext(context.Background(), p)
	if js.FromContext(ctx) != p {
		t.Fatal("FromContext did not return the stored pool")
	}
}

func TestPool_SmallestQueueCapacity(t *testing.T) {
	stats := &js.AtomicMetrics{}
	p, err := js.NewPool(js.Options{Workers: 2, QueueCapacity: 1, Metrics: stats})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })

	const n = 500
	hits := make([]atomic.Int32, n)
	g := js.NewJobGroup(p, js.Normal)
	for i := 0; i < n; i++ {
		i := i
		_ = g.AddJob(func() { hits[i].Add(1) })
	}
	g.Await()

	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Fatalf("job %d ran %d times; want 1", i, got)
		}
	}
	waitUntil(t, 2*time.Second, func() bool { return stats.Executed() == n })
}

// A job that runs inline and panics waits for its group; the siblings
// its own RunAsync has not dispatched yet must still run.
func TestPool_InlinePanicRunsRemainingSiblings(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, p *js.Pool)
	}{
		{"pool closed", func(t *testing.T, p *js.Pool) {
			if err := p.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
		}},
		{"queue full", func(t *testing.T, p *js.Pool) {
			blockWorkers(t, p)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPool(t, 1, 2)
			tc.setup(t, p)

			var ran atomic.Int32
			g := js.NewJobGroup(p, js.Normal)
			_ = g.AddJob(func() { ran.Add(1) })
			_ = g.AddJob(func() { ran.Add(1) })
			_ = g.AddJob(func() { panic("boom") })
			_ = g.AddJob(func() { ran.Add(1) })
			_ = g.AddJob(func() { ran.Add(1) })

			r := runWithin(t, 2*time.Second, g.RunAsync)
			perr, ok := r.(*js.JobPanicError)
			if !ok || perr.Value != "boom" {
				t.Fatalf("RunAsync panic = %#v; want *JobPanicError{boom}", r)
			}
			if got := ran.Load(); got != 4 {
				t.Fatalf("siblings ran = %d; want 4", got)
			}
			if !g.Counter().IsFinished() {
				t.Fatalf("counter = %d; want 0", g.Counter().Value())
			}
		})
	}
}

// A worker blocked in a nested Await picks up a sibling of its own outer
// job, and that sibling panics. Neither job may wait on the other.
func TestPool_NestedAwaitSiblingPanics(t *testing.T) {
	p := newTestPool(t, 1, 64)
	release := blockWorkers(t, p)

	var outerWaiting, siblingNested atomic.Bool
	var innerRan atomic.Int32

	g := js.NewJobGroup(p, js.Normal)
	_ = g.AddJob(func() {
		inner := js.NewJobGroup(p, js.Low)
		_ = inner.AddJob(func() { innerRan.Add(1) })
		outerWaiting.Store(true)
		inner.Await()
	})
	_ = g.AddJob(func() {
		siblingNested.Store(outerWaiting.Load())
		panic("sibling")
	})
	g.RunAsync()
	release()

	waitUntil(t, 2*time.Second, func() bool { return p.FailedWorkers() == 1 })
	if !g.Counter().IsFinished() {
		t.Fatalf("counter = %d; want 0", g.Counter().Value())
	}
	if !siblingNested.Load() {
		t.Fatal("sibling did not run inside the outer job's await")
	}

	err := p.Stop()
	var perr *js.JobPanicError
	if !errors.As(err, &perr) || perr.Value != "sibling" {
		t.Fatalf("Stop: err = %v; want *JobPanicError{sibling}", err)
	}
	if got := innerRan.Load(); got != 1 {
		t.Fatalf("inner job ran %d times; want 1", got)
	}
}

// Shutdown must not strand a failed job that is waiting for a sibling
// still sitting in the queue.
func TestPool_ShutdownWhileFailedJobWaitsForSibling(t *testing.T) {
	p := newTestPool(t, 1, 64)
	release := blockWorkers(t, p)

	var started, siblingRan atomic.Bool
	g := js.NewJobGroup(p, js.Normal)
	_ = g.AddJob(func() {
		started.Store(true)
		panic("first")
	})
	_ = g.AddJob(func() { siblingRan.Store(true) })
	g.RunAsync()

	release()
	waitUntil(t, 2*time.Second, started.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown timed out: %v", err)
	}
	var perr *js.JobPanicError
	if !errors.As(err, &perr) || perr.Value != "first" {
		t.Fatalf("Shutdown: err = %v; want *JobPanicError{first}", err)
	}
	if !siblingRan.Load() || !g.Counter().IsFinished() {
		t.Fatalf("sibling ran = %v, counter = %d", siblingRan.Load(), g.Counter().Value())
	}
}

// Two inline siblings panic: the first reaches the caller of RunAsync,
// the second is relayed and reported by Shutdown. Neither strands the
// remaining job.
func TestPool_InlinePanicWhileHelping(t *testing.T) {
	p := newTestPool(t, 1, 64)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var ran atomic.Int32
	g := js.NewJobGroup(p, js.Normal)
	_ = g.AddJob(func() { panic("first") })
	_ = g.AddJob(func() { panic("second") })
	_ = g.AddJob(func() { ran.Add(1) })

	r := runWithin(t, 2*time.Second, g.RunAsync)
	if perr, ok := r.(*js.JobPanicError); !ok || perr.Value != "first" {
		t.Fatalf("RunAsync panic = %#v; want *JobPanicError{first}", r)
	}
	if ran.Load() != 1 || !g.Counter().IsFinished() {
		t.Fatalf("ran = %d, counter = %d; want 1 and 0", ran.Load(), g.Counter().Value())
	}

	err := p.Stop()
	var perr *js.JobPanicError
	if !errors.As(err, &perr) || perr.Value != "second" {
		t.Fatalf("Stop: err = %v; want *JobPanicError{second}", err)
	}
}
