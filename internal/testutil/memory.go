// Package testutil holds helpers shared by the memory subsystem tests: a flat
// word-addressable memory for exercising the allocation strategies without
// page tables, memory-map builders, and a block tracker that checks the
// no-overlap property.
package testutil

import (
	"fmt"
	"testing"

	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/mem"
)

// DefaultBase is the address at which NewFlatMemory places its window when
// the caller does not care. It is non-zero so that address 0 stays free to
// terminate intrusive chains.
const DefaultBase = uintptr(0x10000)

// FlatMemory is an identity-mapped window of bytes [Base, Base+len(Data)).
// Word accesses outside the window panic, like a bus error.
type FlatMemory struct {
	Base uintptr
	Data []byte

	Reads  int
	Writes int
}

// NewFlatMemory returns a zeroed window of size bytes at base.
func NewFlatMemory(t testing.TB, base uintptr, size int) *FlatMemory {
	t.Helper()
	if base == 0 {
		t.Fatalf("testutil: flat memory base must be non-zero")
	}
	return &FlatMemory{Base: base, Data: make([]byte, size)}
}

// End returns the first address past the window.
func (f *FlatMemory) End() uintptr {
	return f.Base + uintptr(len(f.Data))
}

// Size returns the window size as a uintptr, ready to pass to Init.
func (f *FlatMemory) Size() uintptr {
	return uintptr(len(f.Data))
}

// Bytes returns the n bytes at addr, aliasing the window.
func (f *FlatMemory) Bytes(addr uintptr, n int) []byte {
	if addr < f.Base {
		panic(fmt.Sprintf("testutil: access [%#x, +%d) below window %#x", addr, n, f.Base))
	}
	b, ok := buf.Slice(f.Data, int(addr-f.Base), n)
	if !ok {
		panic(fmt.Sprintf("testutil: access [%#x, +%d) outside window [%#x, %#x)", addr, n, f.Base, f.End()))
	}
	return b
}

// ReadUint64 implements mem.Memory.
func (f *FlatMemory) ReadUint64(addr uintptr) uint64 {
	f.Reads++
	return buf.U64LE(f.Bytes(addr, mem.WordSize))
}

// WriteUint64 implements mem.Memory.
func (f *FlatMemory) WriteUint64(addr uintptr, v uint64) {
	f.Writes++
	buf.PutU64LE(f.Bytes(addr, mem.WordSize), v)
}

// Snapshot returns a copy of the window contents.
func (f *FlatMemory) Snapshot() []byte {
	return append([]byte(nil), f.Data...)
}

var _ mem.Memory = (*FlatMemory)(nil)
