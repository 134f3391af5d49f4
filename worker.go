package jobsched

import (
	"fmt"
	"runtime"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// WorkerState is the lifecycle position of one worker thread.
type WorkerState int32

const (
	WorkerSpawned WorkerState = iota
	WorkerInitialized
	WorkerRunning
	WorkerStopping
	WorkerJoined
)

func (s WorkerState) String() string {
	switch s {
	case WorkerSpawned:
		return "spawned"
	case WorkerInitialized:
		return "initialized"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// threadState is what the pool knows about one of its threads: a worker
// or the coordinator.
type threadState struct {
	gid     uint64
	worker  int // -1 for the coordinator
	slot    int // WorkerLocal slot
	delayed *delayedSubmitter
}

// worker owns one goroutine locked to an OS thread for its whole life.
type worker struct {
	pool  *Pool
	index int
	core  int
	ts    *threadState
	state atomic.Int32
}

func newWorker(p *Pool, index int) *worker {
	w := &worker{
		pool:  p,
		index: index,
		core:  -1,
		ts: &threadState{
			worker:  index,
			slot:    index,
			delayed: newDelayedSubmitter(),
		},
	}
	w.state.Store(int32(WorkerSpawned))
	return w
}

func (w *worker) setState(s WorkerState) { w.state.Store(int32(s)) }

func (w *worker) getState() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) run() {
	p := w.pool
	defer p.wg.Done()

	runtime.LockOSThread()
	pinned := false

	w.ts.gid = goroutineID()
	p.register(w.ts)

	w.core = cores.claim()
	if p.opts.PinWorkers {
		if err := PinToCPU(w.core); err != nil {
			p.reportInternalError(fmt.Errorf("worker %d: pin to cpu %d: %w", w.index, w.core, err))
		} else {
			pinned = true
		}
	}
	// A pinned thread is not handed back to the runtime with a narrowed
	// affinity mask: exiting while still locked terminates it instead.
	if !pinned {
		defer runtime.UnlockOSThread()
	}

	w.setState(WorkerInitialized)
	p.initWG.Done()
	<-p.ready

	w.setState(WorkerRunning)
	lg.FromContext(p.opts.Ctx).Info("worker started",
		lg.Int("worker", w.index),
		lg.Int("core", w.core),
		lg.Any("pinned", pinned),
	)

	clean := false
	defer func() {
		w.setState(WorkerStopping)
		p.unregister(w.ts)
		p.handOffDelayed(w.ts.delayed)
		r := recover()
		if r == nil && !clean {
			r = fmt.Errorf("worker %d: runtime.Goexit called from a job", w.index)
		}
		if r != nil {
			w.fail(r)
		}
	}()

	w.loop()
	clean = true
}

// loop runs until the pool stops it or a job panics through it.
func (w *worker) loop() {
	p := w.pool
	var idl *idler
	for {
		seen := p.notify.Epoch()
		if p.stopping.Load() {
			return
		}
		if p.runOne(w.ts) {
			idl = nil
			continue
		}
		if w.ts.delayed.Pending() == 0 {
			idl = nil
			p.notify.Wait(seen, 0)
			continue
		}
		// Delayed jobs are pending: never block for good, their
		// predicates flip without anybody pushing work.
		if idl == nil {
			idl = p.opts.IdleBackoff.newIdler()
		}
		if d := idl.timeout(); d > 0 {
			p.notify.Wait(seen, d)
		} else {
			runtime.Gosched()
		}
	}
}

// fail relays a job panic to the coordinator. The worker is not restarted.
func (w *worker) fail(r any) {
	p := w.pool
	perr := asJobPanic(r)
	if perr.Worker < 0 {
		perr.Worker = w.index
	}
	p.failed.Add(1)
	p.metrics.IncWorkerFailure()

	lg.FromContext(p.opts.Ctx).Error("worker stopped by job panic",
		lg.Int("worker", w.index),
		lg.Any("panic", perr.Value),
		lg.String("stack", string(perr.Stack)),
	)

	p.reportWorkerFailure(perr)
	p.relayFailure(perr)
}
