package machine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/internal/render"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

func bootTest(t *testing.T, strategy alloc.Strategy) *Machine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Heap.Strategy = strategy
	m, err := Boot(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestDefaultMemoryMap(t *testing.T) {
	mm := DefaultMemoryMap(4 * mem.Mb)
	require.Len(t, mm, 4)
	assert.Equal(t, pmm.RegionReserved, mm[0].Type)
	assert.Equal(t, pmm.RegionUsable, mm[3].Type)
	assert.Equal(t, uint64(4*mem.Mb), mm[3].End)
	assert.Equal(t, mem.Size(0x90000+0x300000), mm.TotalUsable())

	small := DefaultMemoryMap(256 * mem.Kb)
	require.Len(t, small, 2)
	assert.Equal(t, uint64(0x40000), small[1].End)
}

func TestBoot(t *testing.T) {
	m := bootTest(t, alloc.StrategyFixedBlock)

	assert.Equal(t, 4*mem.Mb, m.Phys.Size())
	assert.Equal(t, 1+3+25, m.Frames.Allocated())
	assert.Equal(t, 25, m.Heap.Pages().Len())

	phys, err := m.Space.Translate(heap.HeapStart)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, phys, uintptr(0x10000), "heap backed by usable memory")
}

func TestBoot_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhysicalMemory = 1000
	_, err := Boot(cfg)
	require.ErrorIs(t, err, ErrBadConfig)

	cfg = DefaultConfig()
	cfg.MemoryMap = append(cfg.MemoryMap, pmm.MemoryRegion{Start: 0x400000, End: 0x800000, Type: pmm.RegionUsable})
	_, err = Boot(cfg)
	require.ErrorIs(t, err, ErrBadConfig, "usable memory beyond the arena")

	cfg = DefaultConfig()
	cfg.Heap.Start = 0
	_, err = Boot(cfg)
	require.ErrorIs(t, err, heap.ErrBadConfig)
}

func TestBoot_FrameCapacityTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Heap.FrameCapacity = 8
	_, err := Boot(cfg)
	require.ErrorIs(t, err, heap.ErrFrameAllocationFailed)
}

func TestBoot_GlobalHeap(t *testing.T) {
	cfg := DefaultConfig()
	m, err := Boot(cfg, WithGlobalHeap())
	if err != nil {
		// another test in this process already installed a heap
		require.ErrorIs(t, err, heap.ErrAlreadyInitialized)
		return
	}
	defer m.Close()

	def, err := heap.Default()
	require.NoError(t, err)
	assert.Same(t, m.Heap, def)
}

func TestBoot_InterruptGuard(t *testing.T) {
	calls := 0
	guard := alloc.InterruptGuardFunc(func() func() {
		calls++
		return func() {}
	})

	m, err := Boot(DefaultConfig(), WithInterruptGuard(guard))
	require.NoError(t, err)
	defer m.Close()

	before := calls
	_, err = m.Heap.Alloc(mem.Layout{Size: 8, Align: 8})
	require.NoError(t, err)
	assert.Equal(t, before+1, calls)
}

func TestOccupancy(t *testing.T) {
	for _, kind := range alloc.Strategies {
		t.Run(kind.String(), func(t *testing.T) {
			m := bootTest(t, kind)
			occ := m.Occupancy()
			totals := render.Summarize(occ)
			assert.Equal(t, uint64(heap.HeapSize), totals.Free, "fresh heap is entirely free")

			_, err := m.Heap.Alloc(mem.Layout{Size: 100, Align: 8})
			require.NoError(t, err)
			totals = render.Summarize(m.Occupancy())
			assert.NotZero(t, totals.Used)
			assert.Equal(t, uint64(heap.HeapSize), totals.Used+totals.Free+totals.Cached)
		})
	}
}

func TestOccupancy_CachedBlocks(t *testing.T) {
	m := bootTest(t, alloc.StrategyFixedBlock)
	layout := mem.Layout{Size: 30, Align: 2}

	addr, err := m.Heap.Alloc(layout)
	require.NoError(t, err)
	require.NoError(t, m.Heap.Free(addr, layout))

	occ := m.Occupancy()
	assert.Contains(t, occ.Spans, render.Span{Start: addr, Size: 32, Kind: render.SpanCached})
	assert.Equal(t, uint64(32), render.Summarize(occ).Cached)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
physical_memory: 2097152
heap:
  strategy: bump
  size: 8192
`))
	require.NoError(t, err)
	assert.Equal(t, 2*mem.Mb, cfg.PhysicalMemory)
	assert.Equal(t, DefaultMemoryMap(2*mem.Mb), cfg.MemoryMap, "map follows the memory size")
	assert.Equal(t, alloc.StrategyBump, cfg.Heap.Strategy)
	assert.Equal(t, heap.HeapStart, cfg.Heap.Start)

	cfg, err = ParseConfig([]byte(`
physical_memory: 1048576
memory_map:
  - {start: 0x0, end: 0x20000, type: reserved}
  - {start: 0x20000, end: 0x100000, type: usable}
`))
	require.NoError(t, err)
	require.Len(t, cfg.MemoryMap, 2)
	assert.Equal(t, pmm.RegionUsable, cfg.MemoryMap[1].Type)

	_, err = ParseConfig([]byte("physical_memory: 4096\nmemory_map: [{start: 0, end: 8192, type: usable}]\n"))
	require.ErrorIs(t, err, ErrBadConfig)

	_, err = ParseConfig([]byte("cpus: 4\n"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heap:\n  strategy: linked-list\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, alloc.StrategyLinkedList, cfg.Heap.Strategy)
	assert.Equal(t, DefaultConfig().MemoryMap, cfg.MemoryMap)
}
