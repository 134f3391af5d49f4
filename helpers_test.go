package jobsched_test

import (
	"crypto/sha256"
	"os"
	"runtime"
	"strconv"
	"testing"
	"time"

	js "github.com/azargarov/jobsched"
)

var shaData = []byte("some deterministic payloadsome deterministic payloadsome deterministic payloadsome deterministic payload")

var (
	emptyWork = func() {}

	cpuWork = func() {
		x := 0
		for i := range 1000 {
			x += i * i
		}
		_ = x
	}

	shaWork = func() {
		_ = sha256.Sum256(shaData)
	}
)

type workload struct {
	name string
	fn   func()
}

var workloads = []workload{
	{"empty", emptyWork},
	{"sha256", shaWork},
	{"cpu", cpuWork},
}

// newTestPool starts a pool owned by the calling goroutine, which becomes
// its coordinator. The pool is stopped when the test ends.
func newTestPool(t testing.TB, workers, capacity int) *js.Pool {
	t.Helper()

	p, err := js.NewPool(js.Options{
		Workers:       workers,
		QueueCapacity: capacity,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func waitUntil(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
	}
	t.Fatal("condition not satisfied before timeout")
}

// catchPanic runs fn and returns what it panicked with, or nil.
func catchPanic(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}

func getenvInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// runWithin runs fn on its own goroutine and returns what it panicked
// with. The test fails if fn does not return in time.
func runWithin(t testing.TB, timeout time.Duration, fn func()) any {
	t.Helper()

	done := make(chan any, 1)
	go func() { done <- catchPanic(fn) }()
	select {
	case r := <-done:
		return r
	case <-time.After(timeout):
		t.Fatal("call did not return before timeout")
		return nil
	}
}
