// Package jobsched is a cooperative, priority-aware work-stealing job
// scheduler for CPU-bound work.
//
// A fixed pool of worker threads, each a goroutine locked to its own OS
// thread and optionally pinned to a logical core, drains one bounded queue
// per priority level. Subsystems split their work into jobs, submit them
// in groups and wait for a group cooperatively: the waiting goroutine
// runs other pending jobs until its own group is done, so no thread sits
// idle while runnable work exists.
//
// Priorities
//
// Four levels, Low, Normal, High and Critical. Every poll scans the
// queues from Critical down and pops from the first non-empty one. Within
// one level ordering is roughly submission order per producer.
//
// Backpressure
//
// Queues are bounded lock-free rings. When a push fails because the ring
// is full the submitter runs the job itself. Work is never dropped and
// producers never block on the queue.
//
// Groups and cooperative waiting
//
//	g := jobsched.NewJobGroup(pool, jobsched.Normal)
//	for _, m := range meshes {
//		m := m
//		_ = g.AddJob(func() { process(m) })
//	}
//	g.Await()
//
// Await may be called from inside a job. The nested wait keeps the worker
// busy with whatever is queued, including the nested group's own jobs.
//
// Delayed jobs
//
// A DelayedJobGroup holds jobs whose readiness depends on an external
// signal such as a fence value. They stay in the submitting thread's local
// list and are promoted to their queue once their predicate holds.
//
// Failures
//
// A panic in a job is recovered on the worker, wrapped in a
// *JobPanicError and relayed to the coordinator: the goroutine that
// created the pool (see Pool.BindCoordinator). The coordinator re-panics
// it from its next AcquireQueuedJob, TryRunOne or Await poll. The failed
// worker exits and is not restarted. Shutdown returns failures the
// coordinator never polled.
//
// Reentrancy
//
// A goroutine that is nested inside two jobs of the same group and hits a
// panic in the inner one must not wait for the group to finish: the
// outer job on its own stack is one of the jobs it would be waiting for.
// JobCounter tracks per-goroutine nesting depth and reports itself
// finished to such a goroutine.
//
// Build tags
//
// Building with -tags debug turns scheduler invariant violations (nil
// closures, double dispatch, a full queue while promoting delayed jobs)
// into panics. Release builds return an error or fall back to inline
// execution.
package jobsched
