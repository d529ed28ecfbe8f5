package physmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/mem"
)

func TestNew_RejectsBadSize(t *testing.T) {
	for _, size := range []mem.Size{0, 100, mem.PageSize + 1} {
		_, err := New(size)
		require.ErrorIs(t, err, ErrBadSize, "size %d", size)
	}
}

func TestMemory_WordAccess(t *testing.T) {
	m, err := New(4 * mem.PageSize)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()

	assert.Equal(t, 4*mem.PageSize, m.Size())
	assert.Zero(t, m.ReadUint64(0x1000), "fresh arena must be zeroed")

	m.WriteUint64(0x1008, 0xdeadbeef)
	assert.Equal(t, uint64(0xdeadbeef), m.ReadUint64(0x1008))

	b, err := m.Slice(0x1008, 8)
	require.NoError(t, err)
	assert.Equal(t, byte(0xef), b[0], "words are little-endian")
}

func TestMemory_OutOfRange(t *testing.T) {
	m, err := New(mem.PageSize)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Slice(0xffc, 8)
	require.ErrorIs(t, err, ErrOutOfRange)

	assert.PanicsWithError(t, (&BusError{Addr: 0x1000}).Error(), func() {
		m.ReadUint64(0x1000)
	})
	assert.Panics(t, func() { m.WriteUint64(^uintptr(0)-3, 1) })
}

func TestMemory_ZeroPage(t *testing.T) {
	m, err := New(2 * mem.PageSize)
	require.NoError(t, err)
	defer m.Close()

	m.WriteUint64(0x1ff8, 7)
	require.NoError(t, m.ZeroPage(0x1000))
	assert.Zero(t, m.ReadUint64(0x1ff8))

	require.ErrorIs(t, m.ZeroPage(0x2000), ErrOutOfRange)
}

func TestMemory_CloseTwice(t *testing.T) {
	m, err := New(mem.PageSize)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
