// Package mem contains the memory units, layouts and access primitives shared
// by the physical frame supplier, the virtual memory mapper and the heap
// allocation strategies.
package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert an address to a page or frame number (shift right
	// by PageShift) and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// WordSize is the size of a machine word as stored by intrusive
	// allocator nodes.
	WordSize = 8
)

// Pages returns the number of pages required to hold s bytes.
func (s Size) Pages() uint64 {
	return (uint64(s) + uint64(PageSize) - 1) >> PageShift
}
