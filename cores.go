package jobsched

import (
	"runtime"
	"sync"
)

// coreAssigner hands out logical cores to worker threads. It is process
// wide: pools created side by side keep claiming previously unassigned
// cores and only wrap around once every core has been handed out.
type coreAssigner struct {
	mu   sync.Mutex
	next int
}

var cores coreAssigner

func (c *coreAssigner) claim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := runtime.NumCPU()
	core := c.next % n
	c.next++
	return core
}
