package vmm

import (
	"fmt"

	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

// AddressSpace is a virtual address space rooted at a top-level (P4) page
// table.
type AddressSpace struct {
	phys PhysicalMemory
	root pmm.Frame
}

// NewAddressSpace allocates and clears a root page table from frames and
// returns an empty address space.
func NewAddressSpace(phys PhysicalMemory, frames pmm.FrameAllocator) (*AddressSpace, error) {
	root, err := frames.AllocFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: root table: %w", ErrFrameAllocationFailed, err)
	}
	if err := phys.ZeroPage(root.Address()); err != nil {
		return nil, err
	}
	return &AddressSpace{phys: phys, root: root}, nil
}

// Root returns the frame holding the top-level page table.
func (as *AddressSpace) Root() pmm.Frame {
	return as.root
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and the physical address of the
// page table entry for that level. If the function returns false, then the
// page walk is aborted.
type pageTableWalker func(pteLevel uint8, entryAddr uintptr) bool

// walk performs a page table walk for the given virtual address. The entry
// for the next level is read after walkFn returns, so walkFn may install the
// table the walk descends into.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := as.root.Address()
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
		entryAddr := tableAddr + entryIndex*mem.WordSize

		if !walkFn(level, entryAddr) {
			return
		}

		tableAddr = as.entry(entryAddr).Frame().Address()
	}
}

func (as *AddressSpace) entry(entryAddr uintptr) pageTableEntry {
	return pageTableEntry(as.phys.ReadUint64(entryAddr))
}

func (as *AddressSpace) setEntry(entryAddr uintptr, pte pageTableEntry) {
	as.phys.WriteUint64(entryAddr, uint64(pte))
}

// MapTo establishes a mapping between a virtual page and a physical memory
// frame. Missing page tables at each paging level are allocated from frames
// and cleared before use.
func (as *AddressSpace) MapTo(page Page, frame pmm.Frame, flags PageTableEntryFlag, frames pmm.FrameAllocator) error {
	var err error

	as.walk(page.Address(), func(pteLevel uint8, entryAddr uintptr) bool {
		pte := as.entry(entryAddr)

		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = fmt.Errorf("%w: page %#x", ErrPageAlreadyMapped, page.Address())
				return false
			}
			pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			as.setEntry(entryAddr, pte)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			newTableFrame, allocErr := frames.AllocFrame()
			if allocErr != nil {
				err = fmt.Errorf("%w: level %d table: %w", ErrFrameAllocationFailed, pteLevel+1, allocErr)
				return false
			}
			if err = as.phys.ZeroPage(newTableFrame.Address()); err != nil {
				return false
			}

			pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
			as.setEntry(entryAddr, pte)
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to MapTo. Page
// tables are left in place.
func (as *AddressSpace) Unmap(page Page) error {
	var err error

	as.walk(page.Address(), func(pteLevel uint8, entryAddr uintptr) bool {
		pte := as.entry(entryAddr)

		// Next table is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			as.setEntry(entryAddr, pte)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// leafEntry returns the physical address of the final page table entry for
// virtAddr or ErrInvalidMapping if any level is not present.
func (as *AddressSpace) leafEntry(virtAddr uintptr) (uintptr, error) {
	var (
		leaf uintptr
		err  error
	)

	as.walk(virtAddr, func(pteLevel uint8, entryAddr uintptr) bool {
		if !as.entry(entryAddr).HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		leaf = entryAddr
		return true
	})

	return leaf, err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, error) {
	leaf, err := as.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}
	return as.entry(leaf).Frame().Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}

// Flags returns the flags of the leaf entry mapping virtAddr.
func (as *AddressSpace) Flags(virtAddr uintptr) (PageTableEntryFlag, error) {
	leaf, err := as.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}
	return PageTableEntryFlag(uint64(as.entry(leaf)) &^ ptePhysPageMask), nil
}

// access translates virtAddr for a read or write, updating the accessed and
// dirty bits of the leaf entry.
func (as *AddressSpace) access(virtAddr uintptr, write bool) (uintptr, error) {
	leaf, err := as.leafEntry(virtAddr)
	if err != nil {
		return 0, &PageFault{Addr: virtAddr, Write: write, Err: err}
	}

	pte := as.entry(leaf)
	if write && !pte.HasFlags(FlagRW) {
		return 0, &PageFault{Addr: virtAddr, Write: write, Err: ErrWriteProtected}
	}

	want := FlagAccessed
	if write {
		want |= FlagDirty
	}
	if !pte.HasFlags(want) {
		pte.SetFlags(want)
		as.setEntry(leaf, pte)
	}

	return pte.Frame().Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}

// crossesPage reports whether the n bytes at virtAddr span two pages.
func crossesPage(virtAddr uintptr, n int) bool {
	return virtAddr&uintptr(mem.PageSize-1) > uintptr(mem.PageSize)-uintptr(n)
}

// ReadUint64 reads the little-endian word at virtAddr. Faults panic with a
// *PageFault.
func (as *AddressSpace) ReadUint64(virtAddr uintptr) uint64 {
	if crossesPage(virtAddr, mem.WordSize) {
		var b [mem.WordSize]byte
		if err := as.ReadBytes(virtAddr, b[:]); err != nil {
			panic(err)
		}
		return buf.U64LE(b[:])
	}

	physAddr, err := as.access(virtAddr, false)
	if err != nil {
		panic(err)
	}
	return as.phys.ReadUint64(physAddr)
}

// WriteUint64 writes v as a little-endian word at virtAddr. Faults panic
// with a *PageFault.
func (as *AddressSpace) WriteUint64(virtAddr uintptr, v uint64) {
	if crossesPage(virtAddr, mem.WordSize) {
		var b [mem.WordSize]byte
		buf.PutU64LE(b[:], v)
		if err := as.WriteBytes(virtAddr, b[:]); err != nil {
			panic(err)
		}
		return
	}

	physAddr, err := as.access(virtAddr, true)
	if err != nil {
		panic(err)
	}
	as.phys.WriteUint64(physAddr, v)
}

// ReadBytes copies len(dst) bytes starting at virtAddr into dst.
func (as *AddressSpace) ReadBytes(virtAddr uintptr, dst []byte) error {
	return as.copyPages(virtAddr, len(dst), false, func(chunk []byte, off int) {
		copy(dst[off:], chunk)
	})
}

// WriteBytes copies src into memory starting at virtAddr.
func (as *AddressSpace) WriteBytes(virtAddr uintptr, src []byte) error {
	return as.copyPages(virtAddr, len(src), true, func(chunk []byte, off int) {
		copy(chunk, src[off:off+len(chunk)])
	})
}

// copyPages translates [virtAddr, virtAddr+n) one page at a time and hands
// each physical chunk to fn together with its offset into the request.
func (as *AddressSpace) copyPages(virtAddr uintptr, n int, write bool, fn func(chunk []byte, off int)) error {
	for off := 0; off < n; {
		addr := virtAddr + uintptr(off)
		chunkLen := int(uintptr(mem.PageSize) - addr&uintptr(mem.PageSize-1))
		if chunkLen > n-off {
			chunkLen = n - off
		}

		physAddr, err := as.access(addr, write)
		if err != nil {
			return err
		}
		chunk, err := as.phys.Slice(physAddr, chunkLen)
		if err != nil {
			return err
		}
		fn(chunk, off)
		off += chunkLen
	}
	return nil
}

var (
	_ Mapper     = (*AddressSpace)(nil)
	_ mem.Memory = (*AddressSpace)(nil)
)
