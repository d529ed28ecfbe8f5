// Package physmem provides the byte arena that stands in for the machine's
// physical memory. Physical address N is byte N of the arena. The arena is
// obtained from the host operating system so that it is page aligned and
// never moved by the Go runtime.
package physmem

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/mem"
)

var (
	// ErrBadSize is returned when the requested arena size is zero or not a
	// multiple of the page size.
	ErrBadSize = errors.New("physmem: size must be a non-zero multiple of the page size")

	// ErrOutOfRange is returned (or raised as a panic by the word accessors)
	// when an access falls outside the arena.
	ErrOutOfRange = errors.New("physmem: physical address out of range")
)

// BusError is raised as a panic when a word access targets a physical
// address that does not exist.
type BusError struct {
	Addr uintptr
}

func (e *BusError) Error() string {
	return fmt.Sprintf("physmem: bus error at physical address %#x", e.Addr)
}

// Unwrap lets errors.Is match ErrOutOfRange.
func (e *BusError) Unwrap() error { return ErrOutOfRange }

// Memory is a physical memory arena.
type Memory struct {
	data    []byte
	release func() error
}

// New allocates a zeroed arena of the given size.
func New(size mem.Size) (*Memory, error) {
	if size == 0 || size%mem.PageSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if uint64(size) > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("physmem: arena too large to map (%d bytes)", size)
	}

	data, release, err := mapArena(int(size))
	if err != nil {
		return nil, fmt.Errorf("physmem: map arena: %w", err)
	}
	return &Memory{data: data, release: release}, nil
}

// Size returns the arena size in bytes.
func (m *Memory) Size() mem.Size {
	return mem.Size(len(m.data))
}

// Slice returns the n bytes starting at physical address addr. The returned
// slice aliases the arena.
func (m *Memory) Slice(addr uintptr, n int) ([]byte, error) {
	if addr > uintptr(len(m.data)) {
		return nil, fmt.Errorf("%w: %#x", ErrOutOfRange, addr)
	}
	b, ok := buf.Slice(m.data, int(addr), n)
	if !ok {
		return nil, fmt.Errorf("%w: [%#x, +%d)", ErrOutOfRange, addr, n)
	}
	return b, nil
}

// ReadUint64 reads the little-endian word at physical address addr.
func (m *Memory) ReadUint64(addr uintptr) uint64 {
	b, err := m.Slice(addr, mem.WordSize)
	if err != nil {
		panic(&BusError{Addr: addr})
	}
	return buf.U64LE(b)
}

// WriteUint64 writes v as a little-endian word at physical address addr.
func (m *Memory) WriteUint64(addr uintptr, v uint64) {
	b, err := m.Slice(addr, mem.WordSize)
	if err != nil {
		panic(&BusError{Addr: addr})
	}
	buf.PutU64LE(b, v)
}

// ZeroPage clears the page starting at physical address addr.
func (m *Memory) ZeroPage(addr uintptr) error {
	b, err := m.Slice(addr, int(mem.PageSize))
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// Close returns the arena to the operating system. The Memory must not be
// used afterwards.
func (m *Memory) Close() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.data = nil
	return err
}

var _ mem.Memory = (*Memory)(nil)
