package testutil

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/mem"
)

// Block is a live allocation.
type Block struct {
	Addr   uintptr
	Layout mem.Layout
}

// End returns the first address past the block's requested bytes.
func (b Block) End() uintptr {
	return b.Addr + b.Layout.Size
}

// Tracker records live blocks and validates them after every mutation.
type Tracker struct {
	t      testing.TB
	live   []Block
	region [2]uintptr
}

// NewTracker returns a tracker that also checks every block stays inside
// [start, end).
func NewTracker(t testing.TB, start, end uintptr) *Tracker {
	return &Tracker{t: t, region: [2]uintptr{start, end}}
}

// Add records a freshly allocated block, failing the test when it is
// misaligned, escapes the region or overlaps another live block.
func (tr *Tracker) Add(addr uintptr, layout mem.Layout) {
	tr.t.Helper()
	b := Block{Addr: addr, Layout: layout}

	require.Zero(tr.t, addr%layout.Align, "block %#x not aligned to %d", addr, layout.Align)
	require.GreaterOrEqual(tr.t, addr, tr.region[0], "block %#x below heap", addr)
	require.LessOrEqual(tr.t, b.End(), tr.region[1], "block %#x (+%d) past heap end", addr, layout.Size)

	for _, other := range tr.live {
		if b.Layout.Size == 0 || other.Layout.Size == 0 {
			continue
		}
		overlap := b.Addr < other.End() && other.Addr < b.End()
		require.False(tr.t, overlap, "block %#x (+%d) overlaps live block %#x (+%d)",
			b.Addr, b.Layout.Size, other.Addr, other.Layout.Size)
	}
	tr.live = append(tr.live, b)
}

// Take removes and returns a pseudo-random live block.
func (tr *Tracker) Take(rng *rand.Rand) Block {
	i := rng.Intn(len(tr.live))
	b := tr.live[i]
	tr.live[i] = tr.live[len(tr.live)-1]
	tr.live = tr.live[:len(tr.live)-1]
	return b
}

// Drain removes and returns every live block.
func (tr *Tracker) Drain() []Block {
	blocks := tr.live
	tr.live = nil
	return blocks
}

// Len returns the number of live blocks.
func (tr *Tracker) Len() int {
	return len(tr.live)
}
