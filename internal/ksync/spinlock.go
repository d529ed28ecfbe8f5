// Package ksync provides the spinning lock that serializes access to the
// kernel heap.
package ksync

import (
	"runtime"
	"sync/atomic"
)

// attemptsBeforeYielding bounds the busy-wait loop before the waiter hands
// the processor back. On bare metal there is nothing to yield to; hosted, the
// holder may be another goroutine that needs the processor to release.
const attemptsBeforeYielding = 64

// yieldFn is invoked every attemptsBeforeYielding failed attempts. Tests
// override it to count spins.
var yieldFn = runtime.Gosched

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); ; attempt++ {
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}
		if attempt%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Held reports whether the lock is currently held by anyone.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.state) != 0
}
