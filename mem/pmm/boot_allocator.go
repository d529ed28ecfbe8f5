package pmm

import (
	"errors"

	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/mem"
)

// DefaultFrameCapacity is the number of usable frames the boot frame
// allocator records when no explicit capacity is configured.
const DefaultFrameCapacity = 32007

// ErrOutOfFrames is returned once every recorded frame has been handed out.
var ErrOutOfFrames = errors.New("pmm: out of physical frames")

// BootFrameAllocator hands out the usable frames listed in the boot memory
// map, in ascending address order, each exactly once.
//
// The usable frames are enumerated once, at construction time, into a table
// of fixed capacity. Frames beyond that capacity are never represented; the
// only trace of the truncation is a single warning. Frames are never
// returned to this allocator: there is no free operation.
type BootFrameAllocator struct {
	// frames holds the recorded usable frames. Its length never exceeds
	// capacity.
	frames []Frame

	// capacity is the configured size of the frame table.
	capacity int

	// next is the index of the next frame to hand out. It never decreases.
	next int

	// available counts all usable frames in the memory map, recorded or not.
	available uint64
}

// NewBootFrameAllocator walks the memory map and records up to capacity
// usable frames. A non-positive capacity selects DefaultFrameCapacity.
//
// The caller must guarantee that every region the memory map marks as
// usable is genuinely free.
func NewBootFrameAllocator(mmap MemoryMap, capacity int) *BootFrameAllocator {
	if capacity <= 0 {
		capacity = DefaultFrameCapacity
	}

	available := mmap.UsableFrames()
	alloc := &BootFrameAllocator{
		frames:    make([]Frame, 0, min(uint64(capacity), available)),
		capacity:  capacity,
		available: available,
	}

	mmap.Visit(func(region *MemoryRegion) bool {
		if region.Type != RegionUsable {
			return true
		}

		first, end := region.Frames()
		for frame := first; frame < end; frame++ {
			if len(alloc.frames) == alloc.capacity {
				return false
			}
			alloc.frames = append(alloc.frames, frame)
		}
		return true
	})

	if alloc.Truncated() {
		klog.With("pmm").Warn("not all usable memory is covered by the frame table; raise the frame capacity to use more physical pages",
			"recorded", len(alloc.frames),
			"available", alloc.available,
			"lost", mem.Size(alloc.available-uint64(len(alloc.frames)))*mem.PageSize,
		)
	}

	return alloc
}

// AllocFrame returns the next recorded frame. Once the recorded frames are
// exhausted every call returns InvalidFrame and ErrOutOfFrames.
func (alloc *BootFrameAllocator) AllocFrame() (Frame, error) {
	if alloc.next >= len(alloc.frames) {
		return InvalidFrame, ErrOutOfFrames
	}

	frame := alloc.frames[alloc.next]
	alloc.next++
	return frame, nil
}

// Allocated returns the number of frames handed out so far.
func (alloc *BootFrameAllocator) Allocated() int {
	return alloc.next
}

// Remaining returns the number of recorded frames not yet handed out.
func (alloc *BootFrameAllocator) Remaining() int {
	return len(alloc.frames) - alloc.next
}

// Capacity returns the configured size of the frame table.
func (alloc *BootFrameAllocator) Capacity() int {
	return alloc.capacity
}

// Recorded returns the number of frames in the frame table.
func (alloc *BootFrameAllocator) Recorded() int {
	return len(alloc.frames)
}

// Truncated reports whether the memory map held more usable frames than the
// table could record.
func (alloc *BootFrameAllocator) Truncated() bool {
	return alloc.available > uint64(len(alloc.frames))
}

var _ FrameAllocator = (*BootFrameAllocator)(nil)
