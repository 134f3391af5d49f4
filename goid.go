package jobsched

import "runtime"

// goroutineID returns the calling goroutine's id, parsed from the
// "goroutine NNN [" header of its stack trace. Go has no thread-local
// storage; the id is what keys reentrancy depth and pool thread state.
//
// It costs a short runtime.Stack call, so loops compute it once.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
