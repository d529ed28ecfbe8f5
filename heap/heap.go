// Package heap stands up the kernel heap: it maps the heap's virtual range
// page by page onto physical frames, initializes the selected allocation
// strategy over the mapped bytes and installs the result, behind a spinlock,
// as the process-wide allocator.
//
// Init must run exactly once, before anything allocates:
//
//	frames := pmm.NewBootFrameAllocator(memoryMap, cfg.FrameCapacity)
//	as, _ := vmm.NewAddressSpace(phys, frames)
//	if _, err := heap.Init(as, frames, as, cfg); err != nil {
//	    // no heap; halt
//	}
//	addr, err := heap.Allocate(mem.Layout{Size: 64, Align: 8})
package heap

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
	"github.com/joshuapare/kheap/mem/vmm"
)

var (
	// ErrNotInitialized is returned by the package-level allocation
	// functions before Init has succeeded.
	ErrNotInitialized = errors.New("heap: not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("heap: already initialized")

	// ErrFrameAllocationFailed is returned when a physical frame for the
	// heap or one of its page tables could not be obtained.
	ErrFrameAllocationFailed = errors.New("heap: frame allocation failed")

	// ErrBadConfig is returned for a heap configuration no strategy can
	// manage.
	ErrBadConfig = errors.New("heap: invalid configuration")
)

// AbortExitCode is the status the process exits with when an allocation
// that must not fail does.
const AbortExitCode = 134

// haltFn stops the machine. Tests replace it to observe aborts.
var haltFn = func(code int) { os.Exit(code) }

// Heap is a mapped heap region managed by a locked allocation strategy.
type Heap struct {
	cfg       Config
	pages     vmm.PageRange
	allocator *alloc.Locked
}

func pageRange(cfg Config) vmm.PageRange {
	return vmm.PageRangeForRegion(cfg.Start, cfg.Size)
}

// New maps the region described by cfg and initializes its strategy,
// without installing the result as the process-wide heap.
//
// Every page of the region gets its own frame from frames and is mapped
// present and writable through mapper; page tables the mapper needs come
// from frames too. The first failure is returned and the strategy is left
// uninitialized, although pages mapped before the failure stay mapped. m
// must address the same virtual memory mapper writes page tables for.
func New(mapper vmm.Mapper, frames pmm.FrameAllocator, m mem.Memory, cfg Config, opts ...alloc.LockedOption) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := alloc.NewStrategy(cfg.Strategy, m)
	if err != nil {
		return nil, err
	}

	log := klog.With("heap")
	pages := pageRange(cfg)
	if err := mapPages(mapper, frames, pages); err != nil {
		log.Error("heap mapping failed", "start", fmt.Sprintf("%#x", cfg.Start), "err", err)
		return nil, err
	}

	locked := alloc.NewLocked(strategy, opts...)
	if err := locked.Init(cfg.Start, uintptr(cfg.Size)); err != nil {
		return nil, fmt.Errorf("heap: init %s strategy: %w", cfg.Strategy, err)
	}

	log.Info("heap initialized",
		"start", fmt.Sprintf("%#x", cfg.Start),
		"size", uint64(cfg.Size),
		"pages", pages.Len(),
		"strategy", cfg.Strategy.String(),
	)
	return &Heap{cfg: cfg, pages: pages, allocator: locked}, nil
}

// mapPages backs every page in pages with a fresh frame.
func mapPages(mapper vmm.Mapper, frames pmm.FrameAllocator, pages vmm.PageRange) error {
	for page := range pages.All() {
		frame, err := frames.AllocFrame()
		if err != nil {
			return fmt.Errorf("%w: page %#x: %w", ErrFrameAllocationFailed, page.Address(), err)
		}

		err = mapper.MapTo(page, frame, vmm.FlagPresent|vmm.FlagRW, frames)
		switch {
		case errors.Is(err, vmm.ErrFrameAllocationFailed):
			return fmt.Errorf("%w: page %#x: %w", ErrFrameAllocationFailed, page.Address(), err)
		case err != nil:
			return fmt.Errorf("heap: map page %#x: %w", page.Address(), err)
		}
	}
	return nil
}

// Config returns the configuration the heap was built from.
func (h *Heap) Config() Config {
	return h.cfg
}

// Pages returns the mapped page range.
func (h *Heap) Pages() vmm.PageRange {
	return h.pages
}

// Allocator returns the locked dispatcher serving the heap.
func (h *Heap) Allocator() *alloc.Locked {
	return h.allocator
}

// Contains reports whether addr lies inside the heap region.
func (h *Heap) Contains(addr uintptr) bool {
	return addr >= h.cfg.Start && addr-h.cfg.Start < uintptr(h.cfg.Size)
}

// Alloc reserves a block for layout.
func (h *Heap) Alloc(layout mem.Layout) (uintptr, error) {
	return h.allocator.Alloc(layout)
}

// Free returns a block obtained from Alloc with the same layout.
func (h *Heap) Free(addr uintptr, layout mem.Layout) error {
	return h.allocator.Free(addr, layout)
}

// Stats returns the strategy counters.
func (h *Heap) Stats() alloc.Stats {
	return h.allocator.Stats()
}

// MustAlloc is Alloc for callers that cannot handle failure: when no block
// can be produced the failure is logged and the machine halts.
func (h *Heap) MustAlloc(layout mem.Layout) uintptr {
	addr, err := h.Alloc(layout)
	if err != nil {
		abort(layout, err)
	}
	return addr
}

func abort(layout mem.Layout, err error) {
	klog.L.Error("memory allocation failed", "layout", layout.String(), "err", err)
	fmt.Fprintf(os.Stderr, "memory allocation of %d bytes failed\n", layout.Size)
	haltFn(AbortExitCode)
}

var (
	installMu sync.Mutex
	installed atomic.Pointer[Heap]
)

// Init builds the heap like New and installs it as the process-wide heap.
// It must be called once; later calls fail with ErrAlreadyInitialized
// without mapping anything.
func Init(mapper vmm.Mapper, frames pmm.FrameAllocator, m mem.Memory, cfg Config, opts ...alloc.LockedOption) (*Heap, error) {
	installMu.Lock()
	defer installMu.Unlock()

	if installed.Load() != nil {
		return nil, ErrAlreadyInitialized
	}
	h, err := New(mapper, frames, m, cfg, opts...)
	if err != nil {
		return nil, err
	}
	installed.Store(h)
	return h, nil
}

// Install makes an already built heap the process-wide heap.
func Install(h *Heap) error {
	installMu.Lock()
	defer installMu.Unlock()

	if installed.Load() != nil {
		return ErrAlreadyInitialized
	}
	installed.Store(h)
	return nil
}

// Default returns the process-wide heap.
func Default() (*Heap, error) {
	h := installed.Load()
	if h == nil {
		return nil, ErrNotInitialized
	}
	return h, nil
}

// Allocate reserves a block from the process-wide heap.
func Allocate(layout mem.Layout) (uintptr, error) {
	h, err := Default()
	if err != nil {
		return 0, err
	}
	return h.Alloc(layout)
}

// Deallocate returns a block to the process-wide heap. layout must match
// the layout passed to Allocate.
func Deallocate(addr uintptr, layout mem.Layout) error {
	h, err := Default()
	if err != nil {
		return err
	}
	return h.Free(addr, layout)
}

// MustAllocate is Allocate for callers that cannot handle failure. Any
// failure, including a missing heap, halts the machine.
func MustAllocate(layout mem.Layout) uintptr {
	h, err := Default()
	if err != nil {
		abort(layout, err)
		return 0
	}
	return h.MustAlloc(layout)
}
