package heap

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/internal/physmem"
	"github.com/joshuapare/kheap/internal/testutil"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
	"github.com/joshuapare/kheap/mem/vmm"
)

// newTestSpace returns an address space over a 1 MiB arena whose usable
// frames start at 0x10000, with frame recording capped at capacity.
func newTestSpace(t *testing.T, capacity int) (*vmm.AddressSpace, *pmm.BootFrameAllocator) {
	t.Helper()

	phys, err := physmem.New(mem.Mb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = phys.Close() })

	frames := pmm.NewBootFrameAllocator(testutil.MemoryMap(
		testutil.Reserved(0, 0x10000),
		testutil.Usable(0x10000, uint64(mem.Mb)),
	), capacity)

	as, err := vmm.NewAddressSpace(phys, frames)
	require.NoError(t, err)
	return as, frames
}

func testConfig(strategy alloc.Strategy) Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	return cfg
}

// resetDefault clears the process-wide heap for the duration of a test.
func resetDefault(t *testing.T) {
	t.Helper()
	installed.Store(nil)
	t.Cleanup(func() { installed.Store(nil) })
}

func TestNew_MapsEveryPage(t *testing.T) {
	as, frames := newTestSpace(t, 0)

	h, err := New(as, frames, as, testConfig(alloc.StrategyLinkedList))
	require.NoError(t, err)

	require.Equal(t, 25, h.Pages().Len())
	// root + three intermediate tables + one frame per heap page
	assert.Equal(t, 1+3+25, frames.Allocated())

	for page := range h.Pages().All() {
		flags, err := as.Flags(page.Address())
		require.NoError(t, err, "page %#x", page.Address())
		assert.Equal(t, vmm.FlagPresent|vmm.FlagRW, flags&(vmm.FlagPresent|vmm.FlagRW))
	}

	_, err = as.Translate(HeapStart + uintptr(HeapSize))
	require.ErrorIs(t, err, vmm.ErrInvalidMapping, "nothing past the heap is mapped")

	// The free-list strategy wrote its first node through the mapping.
	assert.Equal(t, uint64(HeapSize), as.ReadUint64(HeapStart))
}

func TestNew_AllocationsUseMappedMemory(t *testing.T) {
	as, frames := newTestSpace(t, 0)
	h, err := New(as, frames, as, testConfig(alloc.StrategyFixedBlock))
	require.NoError(t, err)

	layout := mem.Layout{Size: 64, Align: 8}
	addr, err := h.Alloc(layout)
	require.NoError(t, err)
	require.True(t, h.Contains(addr))

	pattern := bytes.Repeat([]byte{0xAB}, 64)
	require.NoError(t, as.WriteBytes(addr, pattern))
	got := make([]byte, 64)
	require.NoError(t, as.ReadBytes(addr, got))
	assert.Equal(t, pattern, got)

	require.NoError(t, h.Free(addr, layout))
	assert.Equal(t, uint64(0), as.ReadUint64(addr), "freed block holds the class chain link")

	again, err := h.Alloc(layout)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, 1, h.Stats().LiveAllocs)
}

// TestNew_ByteFill fills the default heap with single-byte bump allocations.
func TestNew_ByteFill(t *testing.T) {
	as, frames := newTestSpace(t, 0)
	h, err := New(as, frames, as, testConfig(alloc.StrategyBump))
	require.NoError(t, err)

	layout := mem.Layout{Size: 1, Align: 1}
	for i := range int(HeapSize) {
		addr, err := h.Alloc(layout)
		require.NoError(t, err, "allocation %d", i)
		require.Equal(t, HeapStart+uintptr(i), addr)
	}
	_, err = h.Alloc(layout)
	require.ErrorIs(t, err, alloc.ErrNoSpace)
	assert.Equal(t, uint64(HeapSize), h.Stats().BytesInUse)
}

func TestNew_FrameExhaustion(t *testing.T) {
	as, frames := newTestSpace(t, 10)

	h, err := New(as, frames, as, testConfig(alloc.StrategyLinkedList))
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrFrameAllocationFailed)
	require.ErrorIs(t, err, pmm.ErrOutOfFrames)

	// Pages mapped before the failure remain, but the strategy never
	// wrote its node into them.
	_, err = as.Translate(HeapStart)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), as.ReadUint64(HeapStart))
	assert.Equal(t, 10, frames.Allocated())
}

func TestNew_TableFrameExhaustion(t *testing.T) {
	as, frames := newTestSpace(t, 2)

	_, err := New(as, frames, as, testConfig(alloc.StrategyFixedBlock))
	require.ErrorIs(t, err, ErrFrameAllocationFailed)
	require.ErrorIs(t, err, vmm.ErrFrameAllocationFailed)
	require.ErrorIs(t, err, pmm.ErrOutOfFrames)
}

func TestNew_RegionAlreadyMapped(t *testing.T) {
	as, frames := newTestSpace(t, 0)

	_, err := New(as, frames, as, testConfig(alloc.StrategyBump))
	require.NoError(t, err)

	_, err = New(as, frames, as, testConfig(alloc.StrategyBump))
	require.ErrorIs(t, err, vmm.ErrPageAlreadyMapped)
	assert.NotErrorIs(t, err, ErrFrameAllocationFailed)
}

func TestNew_BadConfig(t *testing.T) {
	as, frames := newTestSpace(t, 0)
	used := frames.Allocated()

	cfg := DefaultConfig()
	cfg.Start = HeapStart + 4
	_, err := New(as, frames, as, cfg)
	require.ErrorIs(t, err, ErrBadConfig)

	cfg = DefaultConfig()
	cfg.Strategy = alloc.Strategy(7)
	_, err = New(as, frames, as, cfg)
	require.ErrorIs(t, err, alloc.ErrUnknownStrategy)

	assert.Equal(t, used, frames.Allocated(), "nothing mapped for a rejected config")
}

func TestInit_ProcessWideHeap(t *testing.T) {
	resetDefault(t)
	as, frames := newTestSpace(t, 0)
	layout := mem.Layout{Size: 32, Align: 16}

	_, err := Default()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = Allocate(layout)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, Deallocate(HeapStart, layout), ErrNotInitialized)

	h, err := Init(as, frames, as, DefaultConfig())
	require.NoError(t, err)

	def, err := Default()
	require.NoError(t, err)
	assert.Same(t, h, def)

	addr, err := Allocate(layout)
	require.NoError(t, err)
	assert.Zero(t, addr%16)
	require.NoError(t, Deallocate(addr, layout))

	used := frames.Allocated()
	_, err = Init(as, frames, as, DefaultConfig())
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, used, frames.Allocated(), "second Init maps nothing")
	require.ErrorIs(t, Install(h), ErrAlreadyInitialized)
}

func TestInit_FailureInstallsNothing(t *testing.T) {
	resetDefault(t)
	as, frames := newTestSpace(t, 3)

	_, err := Init(as, frames, as, DefaultConfig())
	require.ErrorIs(t, err, ErrFrameAllocationFailed)

	_, err = Default()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInstall(t *testing.T) {
	resetDefault(t)
	as, frames := newTestSpace(t, 0)

	h, err := New(as, frames, as, testConfig(alloc.StrategyBump))
	require.NoError(t, err)
	require.NoError(t, Install(h))

	addr, err := Allocate(mem.Layout{Size: 8, Align: 8})
	require.NoError(t, err)
	assert.Equal(t, HeapStart, addr)
}

func TestMustAllocate_Halts(t *testing.T) {
	resetDefault(t)

	var codes []int
	origHalt := haltFn
	haltFn = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() { haltFn = origHalt })

	origLog := klog.L
	t.Cleanup(func() { klog.L = origLog })
	var logBuf bytes.Buffer
	klog.Init(klog.Options{Enabled: true, Writer: &logBuf, Level: slog.LevelDebug})

	layout := mem.Layout{Size: 8, Align: 8}
	assert.Zero(t, MustAllocate(layout))
	require.Equal(t, []int{AbortExitCode}, codes, "no heap installed")

	as, frames := newTestSpace(t, 0)
	cfg := testConfig(alloc.StrategyBump)
	cfg.Size = 4096
	_, err := Init(as, frames, as, cfg)
	require.NoError(t, err)

	assert.Equal(t, HeapStart, MustAllocate(layout))
	require.Len(t, codes, 1)

	MustAllocate(mem.Layout{Size: 8192, Align: 8})
	assert.Equal(t, []int{AbortExitCode, AbortExitCode}, codes)
	assert.Contains(t, logBuf.String(), "memory allocation failed")
	assert.Contains(t, logBuf.String(), "size: 8192")
}
