package alloc

import (
	"fmt"

	"github.com/joshuapare/kheap/mem"
)

const (
	// blockNodeSize is the size of a class-chain node: a single next word.
	blockNodeSize = mem.WordSize

	// blockNodeAlign is the alignment of a class-chain node.
	blockNodeAlign = mem.WordSize
)

// FixedBlockAllocator serves requests from segregated free chains, one per
// size class in blockSizes. A freed block is pushed on its class chain,
// reusing the block itself as the chain node, and the next request for the
// same class pops it in O(1).
//
// Empty classes and requests larger than the largest class are routed to an
// embedded LinkedListAllocator covering the same heap bytes.
type FixedBlockAllocator struct {
	m mem.Memory

	// listHeads holds the head of each class chain (nilNode when empty).
	listHeads [NumClasses]uintptr

	fallback *LinkedListAllocator

	heapStart uintptr
	heapEnd   uintptr

	initialized bool
	stats       Stats
}

// NewFixedBlock creates an uninitialized FixedBlockAllocator whose nodes are
// stored through m. Init must be called before use.
func NewFixedBlock(m mem.Memory) *FixedBlockAllocator {
	return &FixedBlockAllocator{m: m, fallback: NewLinkedList(m)}
}

// Init implements Allocator. The whole region initially belongs to the
// fallback allocator; class chains start empty.
func (fa *FixedBlockAllocator) Init(heapStart, heapSize uintptr) error {
	if fa.initialized {
		return ErrAlreadyInitialized
	}
	if err := fa.fallback.Init(heapStart, heapSize); err != nil {
		return err
	}

	fa.heapStart = heapStart
	fa.heapEnd = heapStart + heapSize
	fa.initialized = true
	fa.stats.HeapSize = uint64(heapSize)
	return nil
}

// fallbackAlloc delegates to the embedded free-list allocator.
func (fa *FixedBlockAllocator) fallbackAlloc(layout mem.Layout) (uintptr, error) {
	fa.stats.FallbackAllocs++
	return fa.fallback.Alloc(layout)
}

// Alloc implements Allocator.
func (fa *FixedBlockAllocator) Alloc(layout mem.Layout) (uintptr, error) {
	fa.stats.AllocCalls++
	if err := checkLayout(layout); err != nil {
		fa.stats.FailedAllocs++
		return 0, err
	}

	index, ok := listIndex(layout)
	if !ok {
		addr, err := fa.fallbackAlloc(layout)
		if err != nil {
			fa.stats.FailedAllocs++
			return 0, err
		}
		size, _, _ := sizeAlign(layout)
		fa.track(uint64(size))
		return addr, nil
	}

	blockSize := blockSizes[index]
	if node := fa.listHeads[index]; node != nilNode {
		fa.listHeads[index] = uintptr(fa.m.ReadUint64(node))
		fa.track(uint64(blockSize))
		return node, nil
	}

	// No more blocks in this class, carve one out of the fallback. The
	// block is aligned to its class size so it can join the class chain
	// when it is freed.
	addr, err := fa.fallbackAlloc(mem.Layout{Size: blockSize, Align: blockSize})
	if err != nil {
		fa.stats.FailedAllocs++
		return 0, err
	}
	fa.track(uint64(blockSize))
	return addr, nil
}

// Free implements Allocator.
func (fa *FixedBlockAllocator) Free(addr uintptr, layout mem.Layout) error {
	fa.stats.FreeCalls++

	index, ok := listIndex(layout)
	if !ok {
		fa.stats.FallbackFrees++
		if err := fa.fallback.Free(addr, layout); err != nil {
			return err
		}
		size, _, _ := sizeAlign(layout)
		fa.untrack(uint64(size))
		return nil
	}

	blockSize := blockSizes[index]
	if !contains(fa.heapStart, fa.heapEnd, addr, blockSize) {
		return fmt.Errorf("%w: [%#x, +%d) outside heap", ErrBadRef, addr, blockSize)
	}

	// The freed block stores the chain node itself.
	if blockNodeSize > blockSize || blockNodeAlign > blockSize {
		panic(fmt.Sprintf("alloc: class %d (%d bytes) cannot hold a %d-byte node", index, blockSize, blockNodeSize))
	}
	if addr%blockSize != 0 {
		panic(fmt.Sprintf("alloc: block %#x freed with %s is not aligned to its %d-byte class", addr, layout, blockSize))
	}

	fa.m.WriteUint64(addr, uint64(fa.listHeads[index]))
	fa.listHeads[index] = addr
	fa.untrack(uint64(blockSize))
	return nil
}

func (fa *FixedBlockAllocator) track(size uint64) {
	fa.stats.LiveAllocs++
	fa.stats.BytesInUse += size
}

func (fa *FixedBlockAllocator) untrack(size uint64) {
	fa.stats.LiveAllocs--
	fa.stats.BytesInUse -= size
}

// Stats implements Allocator.
func (fa *FixedBlockAllocator) Stats() Stats {
	return fa.stats
}

// ClassLengths returns the number of free blocks on each class chain.
func (fa *FixedBlockAllocator) ClassLengths() [NumClasses]int {
	var lengths [NumClasses]int
	for i, head := range fa.listHeads {
		for node := head; node != nilNode; node = uintptr(fa.m.ReadUint64(node)) {
			lengths[i]++
		}
	}
	return lengths
}

// CachedBlocks returns every block parked on a class chain, class by class
// in chain order.
func (fa *FixedBlockAllocator) CachedBlocks() []Region {
	var blocks []Region
	for i, head := range fa.listHeads {
		for node := head; node != nilNode; node = uintptr(fa.m.ReadUint64(node)) {
			blocks = append(blocks, Region{Start: node, Size: blockSizes[i]})
		}
	}
	return blocks
}

// Fallback exposes the embedded free-list allocator for diagnostics.
func (fa *FixedBlockAllocator) Fallback() *LinkedListAllocator {
	return fa.fallback
}

// Compile-time interface check
var _ Allocator = (*FixedBlockAllocator)(nil)
