package alloc

import "github.com/joshuapare/kheap/mem"

// Allocator defines the interface shared by every heap allocation strategy.
//
// Implementations:
//   - BumpAllocator: monotonic bump pointer
//   - LinkedListAllocator: first-fit free list
//   - FixedBlockAllocator: segregated size classes with a free-list fallback
//   - Locked: spinlock-guarded wrapper around any of the above
type Allocator interface {
	// Init hands the allocator the region [heapStart, heapStart+heapSize).
	// The region must already be mapped. Init must be called exactly once,
	// before any other method.
	Init(heapStart, heapSize uintptr) error

	// Alloc reserves at least layout.Size bytes at an address aligned to
	// layout.Align. Exhaustion is reported as ErrNoSpace.
	Alloc(layout mem.Layout) (uintptr, error)

	// Free returns a block obtained from Alloc. layout must be the layout
	// passed to the Alloc call that produced addr.
	Free(addr uintptr, layout mem.Layout) error

	// Stats returns a snapshot of the allocator counters.
	Stats() Stats
}

// Stats holds allocator counters.
type Stats struct {
	AllocCalls     int    // Total Alloc() calls
	FreeCalls      int    // Total Free() calls
	FailedAllocs   int    // Alloc() calls that returned an error
	FallbackAllocs int    // Requests routed to a fallback allocator
	FallbackFrees  int    // Frees routed to a fallback allocator
	LiveAllocs     int    // Blocks currently handed out
	BytesInUse     uint64 // Bytes reserved by live blocks, after size adjustment
	HeapSize       uint64 // Size of the managed region
}

// Region describes a contiguous free byte range.
type Region struct {
	Start uintptr
	Size  uintptr
}

// End returns the first address past the region.
func (r Region) End() uintptr {
	return r.Start + r.Size
}

// Overlaps reports whether r and o share at least one byte.
func (r Region) Overlaps(o Region) bool {
	return r.Size != 0 && o.Size != 0 && r.Start < o.End() && o.Start < r.End()
}
