package pmm

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/internal/klog"
)

func testMemoryMap() MemoryMap {
	return MemoryMap{
		{Start: 0x0, End: 0x1000, Type: RegionReserved},
		{Start: 0x1000, End: 0x4000, Type: RegionUsable},   // frames 1, 2, 3
		{Start: 0x4000, End: 0x8000, Type: RegionNvs},      // skipped
		{Start: 0x8800, End: 0xb000, Type: RegionUsable},   // frames 9, 10
		{Start: 0xb000, End: 0xc000, Type: RegionOther},    // skipped
		{Start: 0x10000, End: 0x10fff, Type: RegionUsable}, // no full page
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	orig := klog.L
	t.Cleanup(func() { klog.L = orig })

	var buf bytes.Buffer
	klog.Init(klog.Options{Enabled: true, Writer: &buf, Level: slog.LevelDebug})
	return &buf
}

func TestBootFrameAllocator_AscendingUsableFrames(t *testing.T) {
	alloc := NewBootFrameAllocator(testMemoryMap(), 0)
	assert.Equal(t, DefaultFrameCapacity, alloc.Capacity())
	assert.Equal(t, 5, alloc.Recorded())
	assert.False(t, alloc.Truncated())

	var got []Frame
	for {
		frame, err := alloc.AllocFrame()
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfFrames)
			assert.Equal(t, InvalidFrame, frame)
			break
		}
		got = append(got, frame)
	}

	assert.Equal(t, []Frame{1, 2, 3, 9, 10}, got)
	assert.Equal(t, 5, alloc.Allocated())
	assert.Zero(t, alloc.Remaining())
}

func TestBootFrameAllocator_NeverReissues(t *testing.T) {
	mm := MemoryMap{{Start: 0, End: 0x100_0000, Type: RegionUsable}}
	alloc := NewBootFrameAllocator(mm, 1024)

	seen := make(map[uintptr]struct{})
	for range 1024 {
		frame, err := alloc.AllocFrame()
		require.NoError(t, err)
		_, dup := seen[frame.Address()]
		require.False(t, dup, "frame %#x handed out twice", frame.Address())
		seen[frame.Address()] = struct{}{}
	}

	// Exhausted: every subsequent call fails.
	for range 3 {
		_, err := alloc.AllocFrame()
		require.ErrorIs(t, err, ErrOutOfFrames)
	}
	assert.Equal(t, 1024, alloc.Allocated(), "the cursor must not move past the table")
}

func TestBootFrameAllocator_CapacityTruncation(t *testing.T) {
	logBuf := captureLog(t)

	alloc := NewBootFrameAllocator(testMemoryMap(), 4)
	assert.True(t, alloc.Truncated())
	assert.Equal(t, 4, alloc.Recorded())

	for _, want := range []Frame{1, 2, 3, 9} {
		frame, err := alloc.AllocFrame()
		require.NoError(t, err)
		assert.Equal(t, want, frame)
	}
	_, err := alloc.AllocFrame()
	require.ErrorIs(t, err, ErrOutOfFrames, "frame 10 was never recorded")

	out := logBuf.String()
	assert.Equal(t, 1, strings.Count(out, "level=WARN"), "the truncation warning is emitted once")
	assert.Contains(t, out, "recorded=4")
	assert.Contains(t, out, "available=5")
}

func TestBootFrameAllocator_NoWarningWhenEverythingFits(t *testing.T) {
	logBuf := captureLog(t)
	NewBootFrameAllocator(testMemoryMap(), 5)
	assert.Empty(t, logBuf.String())
}

func TestBootFrameAllocator_EmptyMap(t *testing.T) {
	alloc := NewBootFrameAllocator(nil, 16)
	_, err := alloc.AllocFrame()
	require.ErrorIs(t, err, ErrOutOfFrames)
}

// TestBootFrameAllocator_TableSizedByMap tests that a large configured
// capacity does not reserve table entries the memory map cannot fill.
func TestBootFrameAllocator_TableSizedByMap(t *testing.T) {
	alloc := NewBootFrameAllocator(testMemoryMap(), 1<<30)
	assert.Equal(t, 1<<30, alloc.Capacity())
	assert.Equal(t, 5, alloc.Recorded())
	assert.Equal(t, 5, cap(alloc.frames))
	assert.False(t, alloc.Truncated())

	empty := NewBootFrameAllocator(nil, 1<<30)
	assert.Zero(t, cap(empty.frames))
	assert.Equal(t, 1<<30, empty.Capacity())
}
