package testutil

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/mem"
)

func TestFlatMemory_WordAccess(t *testing.T) {
	m := NewFlatMemory(t, DefaultBase, 64)
	m.WriteUint64(DefaultBase+8, 0x1122334455667788)

	require.Equal(t, uint64(0x1122334455667788), m.ReadUint64(DefaultBase+8))
	assert.Equal(t, byte(0x88), m.Data[8])
	assert.Equal(t, 1, m.Reads)
	assert.Equal(t, 1, m.Writes)
}

func TestFlatMemory_OutOfWindowPanics(t *testing.T) {
	m := NewFlatMemory(t, DefaultBase, 64)

	assert.Panics(t, func() { m.ReadUint64(DefaultBase - 8) })
	assert.Panics(t, func() { m.ReadUint64(DefaultBase + 60) })
	assert.Panics(t, func() { m.WriteUint64(m.End(), 1) })
}

func TestTracker_DetectsOverlap(t *testing.T) {
	rec := &recordingTB{TB: t}
	tr := NewTracker(rec, 0x1000, 0x2000)

	tr.Add(0x1000, mem.Layout{Size: 16, Align: 8})
	tr.Add(0x1010, mem.Layout{Size: 16, Align: 8})
	require.False(t, rec.failed)

	func() {
		defer func() { _ = recover() }()
		tr.Add(0x1008, mem.Layout{Size: 16, Align: 8})
	}()
	assert.True(t, rec.failed)
}

func TestTracker_Take(t *testing.T) {
	tr := NewTracker(t, 0x1000, 0x2000)
	for i := range 4 {
		tr.Add(0x1000+uintptr(i)*16, mem.Layout{Size: 16, Align: 16})
	}

	rng := rand.New(rand.NewSource(1))
	b := tr.Take(rng)
	assert.Equal(t, 3, tr.Len())
	assert.Zero(t, b.Addr%16)
	assert.Len(t, tr.Drain(), 3)
	assert.Zero(t, tr.Len())
}

// recordingTB turns fatal failures into a recorded flag plus a panic so the
// enclosing test keeps running.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Errorf(string, ...any) { r.failed = true }
func (r *recordingTB) FailNow()              { panic("failnow") }
func (r *recordingTB) Helper()               {}
