package mem

// Memory provides word-granular access to an address range. Allocation
// strategies store their free-list nodes in the memory they manage and reach
// it exclusively through this interface.
type Memory interface {
	ReadUint64(addr uintptr) uint64
	WriteUint64(addr uintptr, v uint64)
}
