package alloc

import (
	"fmt"

	"github.com/joshuapare/kheap/mem"
)

const (
	// listNodeSize is the size of a free-list node: a size word followed by
	// a next-pointer word.
	listNodeSize = 2 * mem.WordSize

	// listNodeAlign is the alignment every node address must satisfy.
	listNodeAlign = mem.WordSize

	listNodeSizeOff = 0
	listNodeNextOff = mem.WordSize
)

// LinkedListAllocator manages free memory as a singly linked chain of free
// regions. Each region starts with a node recording the region size and the
// address of the next free region. New regions are always pushed at the head
// and allocation takes the first region that fits.
//
// Adjacent free regions are never merged: freeing two formerly contiguous
// blocks leaves two separate nodes.
type LinkedListAllocator struct {
	m mem.Memory

	// head is the sentinel node. Only its next field is meaningful; it
	// lives outside the heap.
	head uintptr

	heapStart uintptr
	heapEnd   uintptr

	initialized bool
	stats       Stats
}

// NewLinkedList creates an uninitialized LinkedListAllocator whose nodes are
// stored through m. Init must be called before use.
func NewLinkedList(m mem.Memory) *LinkedListAllocator {
	return &LinkedListAllocator{m: m, head: nilNode}
}

// Init implements Allocator. The region start must be aligned to the node
// alignment and the region must be able to hold at least one node;
// violating either is a fatal precondition failure.
func (la *LinkedListAllocator) Init(heapStart, heapSize uintptr) error {
	if la.initialized {
		return ErrAlreadyInitialized
	}
	heapEnd, err := regionBounds(heapStart, heapSize)
	if err != nil {
		return err
	}

	la.heapStart = heapStart
	la.heapEnd = heapEnd
	la.addFreeRegion(heapStart, heapSize)
	la.initialized = true
	la.stats.HeapSize = uint64(heapSize)
	return nil
}

// nodeSize returns the size recorded in the node at addr.
func (la *LinkedListAllocator) nodeSize(addr uintptr) uintptr {
	return uintptr(la.m.ReadUint64(addr + listNodeSizeOff))
}

// nodeNext returns the successor of the node at addr. nilNode addresses the
// sentinel head.
func (la *LinkedListAllocator) nodeNext(addr uintptr) uintptr {
	if addr == nilNode {
		return la.head
	}
	return uintptr(la.m.ReadUint64(addr + listNodeNextOff))
}

// setNext links the node at addr (or the sentinel, for nilNode) to next.
func (la *LinkedListAllocator) setNext(addr, next uintptr) {
	if addr == nilNode {
		la.head = next
		return
	}
	la.m.WriteUint64(addr+listNodeNextOff, uint64(next))
}

// addFreeRegion writes a node describing [addr, addr+size) and pushes it at
// the head of the chain.
func (la *LinkedListAllocator) addFreeRegion(addr, size uintptr) {
	if mem.AlignUp(addr, listNodeAlign) != addr {
		panic(fmt.Sprintf("alloc: free region %#x is not aligned to %d", addr, listNodeAlign))
	}
	if size < listNodeSize {
		panic(fmt.Sprintf("alloc: free region %#x of %d bytes cannot hold a %d-byte node", addr, size, listNodeSize))
	}

	la.m.WriteUint64(addr+listNodeSizeOff, uint64(size))
	la.m.WriteUint64(addr+listNodeNextOff, uint64(la.head))
	la.head = addr
}

// findRegion looks for the first free region that can host size bytes at
// align and unlinks it from the chain. It returns the region and the
// aligned allocation start inside it.
func (la *LinkedListAllocator) findRegion(size, align uintptr) (region, allocStart uintptr, ok bool) {
	prev := nilNode
	for current := la.head; current != nilNode; current = la.nodeNext(current) {
		if allocStart, ok := la.allocFromRegion(current, size, align); ok {
			// delete this node
			la.setNext(prev, la.nodeNext(current))
			return current, allocStart, true
		}
		prev = current
	}
	return nilNode, 0, false
}

// allocFromRegion checks whether the region at addr can host an allocation
// of size bytes at align. The leftover past the allocation must either be
// empty or large enough to hold a node of its own; a smaller sliver could
// never be tracked again.
func (la *LinkedListAllocator) allocFromRegion(addr, size, align uintptr) (uintptr, bool) {
	regionEnd := addr + la.nodeSize(addr)

	allocStart := mem.AlignUp(addr, align)
	if allocStart < addr {
		return 0, false
	}
	allocEnd, ok := mem.CheckedAdd(allocStart, size)
	if !ok || allocEnd > regionEnd {
		return 0, false
	}

	excessSize := regionEnd - allocEnd
	if excessSize > 0 && excessSize < listNodeSize {
		// rest of region too small to store a node
		return 0, false
	}
	return allocStart, true
}

// sizeAlign adjusts layout so that the block can later hold a free-list
// node: the alignment is raised to the node alignment, the size is padded to
// that alignment and raised to the node size. ok is false when the padded
// size wraps; no region can hold such a block.
func sizeAlign(layout mem.Layout) (size, align uintptr, ok bool) {
	adjusted, ok := layout.AlignTo(listNodeAlign).PadToAlign()
	if !ok {
		return 0, 0, false
	}
	return max(adjusted.Size, listNodeSize), adjusted.Align, true
}

// Alloc implements Allocator.
func (la *LinkedListAllocator) Alloc(layout mem.Layout) (uintptr, error) {
	la.stats.AllocCalls++
	if err := checkLayout(layout); err != nil {
		la.stats.FailedAllocs++
		return 0, err
	}

	size, align, ok := sizeAlign(layout)
	if !ok {
		la.stats.FailedAllocs++
		return 0, ErrNoSpace
	}
	region, allocStart, ok := la.findRegion(size, align)
	if !ok {
		la.stats.FailedAllocs++
		return 0, ErrNoSpace
	}

	regionEnd := region + la.nodeSize(region)
	allocEnd := allocStart + size
	if excessSize := regionEnd - allocEnd; excessSize > 0 {
		la.addFreeRegion(allocEnd, excessSize)
	}

	la.stats.LiveAllocs++
	la.stats.BytesInUse += uint64(size)
	return allocStart, nil
}

// Free implements Allocator. The freed block becomes a new node at the head
// of the chain; it is not merged with its neighbours.
func (la *LinkedListAllocator) Free(addr uintptr, layout mem.Layout) error {
	la.stats.FreeCalls++
	size, _, ok := sizeAlign(layout)
	if !ok {
		return fmt.Errorf("%w: %#x freed with %s", ErrBadRef, addr, layout)
	}
	if !contains(la.heapStart, la.heapEnd, addr, size) {
		return fmt.Errorf("%w: [%#x, +%d) outside heap", ErrBadRef, addr, size)
	}

	la.addFreeRegion(addr, size)
	la.stats.LiveAllocs--
	la.stats.BytesInUse -= uint64(size)
	return nil
}

// Stats implements Allocator.
func (la *LinkedListAllocator) Stats() Stats {
	return la.stats
}

// FreeRegions returns the free chain in chain order.
func (la *LinkedListAllocator) FreeRegions() []Region {
	var regions []Region
	for current := la.head; current != nilNode; current = la.nodeNext(current) {
		regions = append(regions, Region{Start: current, Size: la.nodeSize(current)})
	}
	return regions
}

// FreeBytes returns the total number of bytes tracked by the free chain.
func (la *LinkedListAllocator) FreeBytes() uint64 {
	var total uint64
	for current := la.head; current != nilNode; current = la.nodeNext(current) {
		total += uint64(la.nodeSize(current))
	}
	return total
}

// Compile-time interface check
var _ Allocator = (*LinkedListAllocator)(nil)
