package ksync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinlock(t *testing.T) {
	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
		acquired   atomic.Int32
	)

	sl.Acquire()
	require.True(t, sl.Held())
	assert.False(t, sl.TryToAcquire(), "expected TryToAcquire to return false when lock is held")

	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			sl.Acquire()
			acquired.Add(1)
			sl.Release()
		}()
	}

	<-time.After(50 * time.Millisecond)
	assert.Zero(t, acquired.Load(), "no worker may get the lock while it is held")

	sl.Release()
	wg.Wait()
	assert.EqualValues(t, numWorkers, acquired.Load())
	assert.False(t, sl.Held())
}

func TestSpinlock_YieldsWhileSpinning(t *testing.T) {
	var yields atomic.Int32
	defer func(orig func()) { yieldFn = orig }(yieldFn)

	var sl Spinlock
	sl.Acquire()

	yieldFn = func() {
		if yields.Add(1) == 3 {
			sl.Release()
		}
	}

	done := make(chan struct{})
	go func() {
		sl.Acquire()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.GreaterOrEqual(t, yields.Load(), int32(3))
}

func TestSpinlock_ReleaseWhenFree(t *testing.T) {
	var sl Spinlock
	sl.Release()
	assert.True(t, sl.TryToAcquire())
}
