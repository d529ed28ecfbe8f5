// Package vmm implements four-level virtual address translation on top of a
// physical memory arena. Page tables live in physical frames handed out by a
// frame allocator, exactly as they would on real hardware, and every access
// through an AddressSpace is translated page by page.
package vmm

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = errors.New("vmm: virtual address does not point to a mapped physical page")

	// ErrPageAlreadyMapped is returned when mapping a page that already has a
	// present mapping.
	ErrPageAlreadyMapped = errors.New("vmm: page already mapped")

	// ErrFrameAllocationFailed is returned when a frame for a page table could
	// not be obtained.
	ErrFrameAllocationFailed = errors.New("vmm: frame allocation failed")

	// ErrWriteProtected is reported by a PageFault caused by writing to a
	// page mapped without FlagRW.
	ErrWriteProtected = errors.New("vmm: write to read-only page")

	// ErrNoHugePageSupport is returned when a walk meets a huge page entry.
	ErrNoHugePageSupport = errors.New("vmm: huge pages are not supported")
)

// PhysicalMemory is the backing store page tables and mapped pages live in.
type PhysicalMemory interface {
	mem.Memory

	// Slice returns the n bytes at physical address addr.
	Slice(addr uintptr, n int) ([]byte, error)

	// ZeroPage clears the page at physical address addr.
	ZeroPage(addr uintptr) error
}

// Mapper installs virtual to physical page mappings.
type Mapper interface {
	// MapTo maps page to frame with the supplied flags (FlagPresent is
	// implied). Missing intermediate page tables are allocated from frames.
	MapTo(page Page, frame pmm.Frame, flags PageTableEntryFlag, frames pmm.FrameAllocator) error
}

// PageFault describes an access to a virtual address that could not be
// completed. Faults inside the kernel are not recoverable, so word accessors
// raise them as panics.
type PageFault struct {
	Addr  uintptr
	Write bool
	Err   error
}

func (f *PageFault) Error() string {
	op := "read"
	if f.Write {
		op = "write"
	}
	return fmt.Sprintf("vmm: page fault on %s at %#x: %v", op, f.Addr, f.Err)
}

// Unwrap returns the fault cause.
func (f *PageFault) Unwrap() error { return f.Err }
