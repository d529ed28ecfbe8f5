// Package pmm contains code that manages physical memory frame allocations.
package pmm

import "github.com/joshuapare/kheap/mem"

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(^uintptr(0) >> mem.PageShift)
)

// IsValid returns true if this is a valid frame.
func (f Frame) IsValid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// FrameAllocator is implemented by anything that can hand out physical frames.
type FrameAllocator interface {
	AllocFrame() (Frame, error)
}

// FrameAllocatorFn adapts a function to the FrameAllocator interface.
type FrameAllocatorFn func() (Frame, error)

// AllocFrame implements FrameAllocator.
func (fn FrameAllocatorFn) AllocFrame() (Frame, error) {
	return fn()
}
