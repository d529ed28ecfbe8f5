package pmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/kheap/mem"
)

func TestMemoryRegion_Frames(t *testing.T) {
	specs := []struct {
		region      MemoryRegion
		first, end  Frame
		description string
	}{
		{MemoryRegion{Start: 0x1000, End: 0x3000}, 1, 3, "aligned"},
		{MemoryRegion{Start: 0x1001, End: 0x3fff}, 2, 3, "unaligned both ends"},
		{MemoryRegion{Start: 0x1800, End: 0x1900}, 2, 2, "smaller than a page"},
		{MemoryRegion{Start: 0x0, End: 0x9fc00}, 0, 0x9f, "conventional memory"},
	}

	for _, spec := range specs {
		first, end := spec.region.Frames()
		assert.Equal(t, spec.first, first, spec.description)
		assert.Equal(t, spec.end, end, spec.description)
	}
}

func TestMemoryMap_Totals(t *testing.T) {
	mm := MemoryMap{
		{Start: 0x0, End: 0x1000, Type: RegionReserved},
		{Start: 0x1000, End: 0x5000, Type: RegionUsable},
		{Start: 0x5000, End: 0x6000, Type: RegionAcpiReclaimable},
		{Start: 0x6800, End: 0x8000, Type: RegionUsable},
	}

	assert.Equal(t, uint64(5), mm.UsableFrames())
	assert.Equal(t, mem.Size(0x4000+0x1800), mm.TotalUsable())
}

func TestMemoryMap_Visit_Stops(t *testing.T) {
	mm := MemoryMap{{Type: RegionUsable}, {Type: RegionUsable}, {Type: RegionUsable}}
	visited := 0
	mm.Visit(func(*MemoryRegion) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestMemoryMap_Validate(t *testing.T) {
	require.NoError(t, MemoryMap{{Start: 0, End: 0x2000, Type: RegionUsable}}.Validate(0x2000))
	require.Error(t, MemoryMap{{Start: 0x2000, End: 0x1000, Type: RegionUsable}}.Validate(0x4000))
	require.Error(t, MemoryMap{{Start: 0, End: 0x3000, Type: RegionUsable}}.Validate(0x2000))
	// Reserved regions may describe memory we do not back (MMIO holes).
	require.NoError(t, MemoryMap{{Start: 0xfee0_0000, End: 0xfee0_1000, Type: RegionReserved}}.Validate(0x2000))
}

func TestMemoryRegionType_Text(t *testing.T) {
	assert.Equal(t, "usable", RegionUsable.String())
	assert.Equal(t, "other", MemoryRegionType(99).String())

	var mm MemoryMap
	src := `
- {start: 0x1000, end: 0x9f000, type: usable}
- {start: 0x9f000, end: 0x100000, type: reserved}
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &mm))
	require.Len(t, mm, 2)
	assert.Equal(t, RegionUsable, mm[0].Type)
	assert.Equal(t, uint64(0x9f000), mm[0].End)

	var typ MemoryRegionType
	require.Error(t, typ.UnmarshalText([]byte("bogus")))
}
