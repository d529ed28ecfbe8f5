// Package alloc provides the kernel heap allocation strategies and the locked
// dispatcher that serializes access to them.
//
// # Overview
//
// Every strategy manages one contiguous, already-mapped byte range
// [heapStart, heapStart+heapSize). Free-list bookkeeping is intrusive: the
// nodes that describe free memory are stored in that free memory itself and
// are read and written through a mem.Memory, so no side allocation is ever
// needed to track a free block.
//
// # Allocator Interface
//
// The core abstraction is the Allocator interface, which supports:
//
//   - Init(start, size): hand the strategy its region, exactly once
//   - Alloc(layout): reserve layout.Size bytes aligned to layout.Align
//   - Free(addr, layout): return a block; layout must match the Alloc call
//   - Stats(): counters for diagnostics and tests
//
// # Implementations
//
// BumpAllocator: monotonic pointer advance
//
//   - O(1) allocation, no per-block reuse
//   - The whole region is reclaimed when the live count returns to zero
//
// LinkedListAllocator: first-fit free list
//
//   - Singly linked chain of variable-sized free regions, head insertion
//   - Requests are padded to the node size and alignment (16 bytes, 8-aligned)
//   - A region is only split when the remainder can host a node
//   - Adjacent free regions are never coalesced
//
// FixedBlockAllocator: segregated fixed-size blocks
//
//   - 10 size classes, 8 bytes to 4 KiB, one free chain per class
//   - O(1) allocation and deallocation once a class chain is populated
//   - Class misses and oversize requests go to an embedded LinkedListAllocator
//
// # Usage Example
//
//	fb := alloc.NewFixedBlock(addrSpace)
//	if err := fb.Init(heapStart, heapSize); err != nil {
//	    return err
//	}
//	heap := alloc.NewLocked(fb)
//
//	addr, err := heap.Alloc(mem.MustLayout(24, 8))
//	if err != nil {
//	    return err // alloc.ErrNoSpace when exhausted
//	}
//	defer heap.Free(addr, mem.MustLayout(24, 8))
//
// # Size Classes
//
// The fixed-block strategy rounds max(size, align) up to the first class:
//
//	Class 0:    8 bytes    Class 5:  256 bytes
//	Class 1:   16 bytes    Class 6:  512 bytes
//	Class 2:   32 bytes    Class 7: 1024 bytes
//	Class 3:   64 bytes    Class 8: 2048 bytes
//	Class 4:  128 bytes    Class 9: 4096 bytes
//
// Blocks handed out for class i are i-sized and i-aligned.
//
// # Thread Safety
//
// Strategy instances are not thread-safe. Wrap them in a Locked dispatcher,
// which guards every call with a spinning lock. A caller that re-enters the
// dispatcher while already holding its lock (an interrupt handler that
// allocates, on a single core) spins forever; see Locked.
package alloc
