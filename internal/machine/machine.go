// Package machine boots the memory subsystem on a hosted stand-in for real
// hardware: it obtains a physical memory arena, builds the frame supplier
// from the firmware memory map, creates the kernel address space and maps
// the heap. The CLI and the end-to-end tests drive the heap through it.
package machine

import (
	"fmt"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/internal/physmem"
	"github.com/joshuapare/kheap/internal/render"
	"github.com/joshuapare/kheap/mem/pmm"
	"github.com/joshuapare/kheap/mem/vmm"
)

// Machine is a booted hosted machine.
type Machine struct {
	Config Config
	Phys   *physmem.Memory
	Frames *pmm.BootFrameAllocator
	Space  *vmm.AddressSpace
	Heap   *heap.Heap
}

// Option tweaks the boot sequence.
type Option func(*bootOptions)

type bootOptions struct {
	global bool
	lock   []alloc.LockedOption
}

// WithGlobalHeap installs the heap as the process-wide heap through
// heap.Init instead of keeping it private to the machine.
func WithGlobalHeap() Option {
	return func(o *bootOptions) { o.global = true }
}

// WithInterruptGuard masks interrupts around every heap critical section.
func WithInterruptGuard(g alloc.InterruptGuard) Option {
	return func(o *bootOptions) { o.lock = append(o.lock, alloc.WithInterruptGuard(g)) }
}

// Boot brings up the memory subsystem described by cfg.
func Boot(cfg Config, opts ...Option) (*Machine, error) {
	var o bootOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := klog.With("machine")
	phys, err := physmem.New(cfg.PhysicalMemory)
	if err != nil {
		return nil, err
	}
	log.Debug("physical memory ready", "size", uint64(cfg.PhysicalMemory), "usable", uint64(cfg.MemoryMap.TotalUsable()))

	frames := pmm.NewBootFrameAllocator(cfg.MemoryMap, cfg.Heap.FrameCapacity)
	space, err := vmm.NewAddressSpace(phys, frames)
	if err != nil {
		_ = phys.Close()
		return nil, fmt.Errorf("machine: create address space: %w", err)
	}

	build := heap.New
	if o.global {
		build = heap.Init
	}
	h, err := build(space, frames, space, cfg.Heap, o.lock...)
	if err != nil {
		_ = phys.Close()
		return nil, err
	}

	log.Debug("boot complete", "frames_used", frames.Allocated(), "frames_left", frames.Remaining())
	return &Machine{Config: cfg, Phys: phys, Frames: frames, Space: space, Heap: h}, nil
}

// Close releases the physical memory arena. The machine must not be used
// afterwards.
func (m *Machine) Close() error {
	return m.Phys.Close()
}

// Occupancy returns the heap occupancy map: free-list regions, cached
// size-class blocks and, for the bump strategy, the untouched tail.
func (m *Machine) Occupancy() render.Map {
	cfg := m.Heap.Config()
	occ := render.Map{Start: cfg.Start, Size: uintptr(cfg.Size)}

	m.Heap.Allocator().Lock(func(a alloc.Allocator) {
		switch a := a.(type) {
		case *alloc.BumpAllocator:
			occ.Spans = append(occ.Spans, render.Span{
				Start: a.Cursor(),
				Size:  cfg.Start + uintptr(cfg.Size) - a.Cursor(),
				Kind:  render.SpanFree,
			})
		case *alloc.LinkedListAllocator:
			occ.Spans = appendRegions(occ.Spans, a.FreeRegions(), render.SpanFree)
		case *alloc.FixedBlockAllocator:
			occ.Spans = appendRegions(occ.Spans, a.Fallback().FreeRegions(), render.SpanFree)
			occ.Spans = appendRegions(occ.Spans, a.CachedBlocks(), render.SpanCached)
		}
	})
	return occ
}

func appendRegions(spans []render.Span, regions []alloc.Region, kind render.SpanKind) []render.Span {
	for _, r := range regions {
		spans = append(spans, render.Span{Start: r.Start, Size: r.Size, Kind: kind})
	}
	return spans
}
