package alloc

import (
	"fmt"

	"github.com/joshuapare/kheap/mem"
)

// nilNode terminates an intrusive chain. Address zero is never part of a
// heap region.
const nilNode = uintptr(0)

// checkLayout rejects layouts whose alignment is not a power of two.
func checkLayout(layout mem.Layout) error {
	if !mem.IsPowerOfTwo(layout.Align) {
		return fmt.Errorf("%w: %s", mem.ErrBadLayout, layout)
	}
	return nil
}

// regionBounds validates a heap region and returns its end address.
func regionBounds(heapStart, heapSize uintptr) (uintptr, error) {
	if heapStart == nilNode {
		return 0, fmt.Errorf("%w: null start", ErrBadRegion)
	}
	heapEnd, ok := mem.CheckedAdd(heapStart, heapSize)
	if !ok {
		return 0, fmt.Errorf("%w: [%#x, +%d) wraps", ErrBadRegion, heapStart, heapSize)
	}
	return heapEnd, nil
}

// contains reports whether [addr, addr+size) lies inside [start, end).
func contains(start, end, addr, size uintptr) bool {
	if addr < start {
		return false
	}
	blockEnd, ok := mem.CheckedAdd(addr, size)
	return ok && blockEnd <= end
}
