package alloc

import (
	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/internal/ksync"
	"github.com/joshuapare/kheap/mem"
)

// InterruptGuard masks asynchronous interrupts around a critical section.
// DisableInterrupts returns the function that restores the previous state.
type InterruptGuard interface {
	DisableInterrupts() (restore func())
}

// InterruptGuardFunc adapts a plain function to InterruptGuard.
type InterruptGuardFunc func() (restore func())

// DisableInterrupts implements InterruptGuard.
func (f InterruptGuardFunc) DisableInterrupts() func() {
	return f()
}

// LockedOption configures a Locked dispatcher.
type LockedOption func(*Locked)

// WithInterruptGuard makes the dispatcher mask interrupts before taking the
// lock and restore them after releasing it. Without a guard, an interrupt
// handler that allocates while the interrupted code holds the lock spins
// forever on the same core.
func WithInterruptGuard(g InterruptGuard) LockedOption {
	return func(l *Locked) {
		l.guard = g
	}
}

// Locked serializes every call into a single Allocator behind a spinlock.
// It is the form in which a strategy is installed as the process-wide
// allocator.
type Locked struct {
	lock  ksync.Spinlock
	inner Allocator
	guard InterruptGuard
}

// NewLocked wraps inner.
func NewLocked(inner Allocator, opts ...LockedOption) *Locked {
	l := &Locked{inner: inner}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locked) acquire() func() {
	var restore func()
	if l.guard != nil {
		restore = l.guard.DisableInterrupts()
	}
	l.lock.Acquire()
	return func() {
		l.lock.Release()
		if restore != nil {
			restore()
		}
	}
}

// Lock runs fn with exclusive access to the wrapped allocator. fn must not
// call back into l.
func (l *Locked) Lock(fn func(Allocator)) {
	release := l.acquire()
	defer release()
	fn(l.inner)
}

// Init implements Allocator.
func (l *Locked) Init(heapStart, heapSize uintptr) error {
	release := l.acquire()
	defer release()
	return l.inner.Init(heapStart, heapSize)
}

// Alloc implements Allocator.
func (l *Locked) Alloc(layout mem.Layout) (uintptr, error) {
	release := l.acquire()
	defer release()
	return l.alloc(layout)
}

// TryAlloc is Alloc without spinning: when the lock is already held it
// returns ErrLockHeld immediately instead of waiting.
func (l *Locked) TryAlloc(layout mem.Layout) (uintptr, error) {
	var restore func()
	if l.guard != nil {
		restore = l.guard.DisableInterrupts()
		defer restore()
	}
	if !l.lock.TryToAcquire() {
		return 0, ErrLockHeld
	}
	defer l.lock.Release()
	return l.alloc(layout)
}

func (l *Locked) alloc(layout mem.Layout) (uintptr, error) {
	addr, err := l.inner.Alloc(layout)
	if klog.AllocTrace {
		if err != nil {
			klog.L.Debug("alloc failed", "size", layout.Size, "align", layout.Align, "err", err)
		} else {
			klog.L.Debug("alloc", "size", layout.Size, "align", layout.Align, "addr", addr)
		}
	}
	return addr, err
}

// Free implements Allocator.
func (l *Locked) Free(addr uintptr, layout mem.Layout) error {
	release := l.acquire()
	defer release()

	err := l.inner.Free(addr, layout)
	if klog.AllocTrace {
		klog.L.Debug("free", "addr", addr, "size", layout.Size, "align", layout.Align, "err", err)
	}
	return err
}

// Stats implements Allocator.
func (l *Locked) Stats() Stats {
	release := l.acquire()
	defer release()
	return l.inner.Stats()
}

// Inner returns the wrapped allocator. Callers must hold no expectation of
// exclusive access; use Lock for that.
func (l *Locked) Inner() Allocator {
	return l.inner
}

// Held reports whether the dispatcher lock is currently taken.
func (l *Locked) Held() bool {
	return l.lock.Held()
}

// Compile-time interface check
var _ Allocator = (*Locked)(nil)
