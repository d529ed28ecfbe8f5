package pmm

import (
	"fmt"
	"strings"

	"github.com/joshuapare/kheap/mem"
)

// MemoryRegionType defines the type of a MemoryRegion.
type MemoryRegionType uint32

const (
	// RegionUsable indicates that the memory region is free for use.
	RegionUsable MemoryRegionType = iota + 1

	// RegionReserved indicates that the memory region is not available for use.
	RegionReserved

	// RegionAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	RegionAcpiReclaimable

	// RegionNvs indicates memory that must be preserved when hibernating.
	RegionNvs

	// RegionOther covers firmware-specific types (kernel image, bootloader
	// data, page tables set up by the loader). Any value >= regionUnknown is
	// reported as RegionOther.
	RegionOther

	regionUnknown
)

var regionTypeNames = map[MemoryRegionType]string{
	RegionUsable:          "usable",
	RegionReserved:        "reserved",
	RegionAcpiReclaimable: "acpi-reclaimable",
	RegionNvs:             "nvs",
	RegionOther:           "other",
}

// String implements fmt.Stringer for MemoryRegionType.
func (t MemoryRegionType) String() string {
	if t == 0 || t >= regionUnknown {
		return regionTypeNames[RegionOther]
	}
	return regionTypeNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t MemoryRegionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MemoryRegionType) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for typ, typName := range regionTypeNames {
		if typName == name {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("pmm: unknown memory region type %q", text)
}

// MemoryRegion describes the physical range [Start, End) reported by the
// bootloader together with its usability tag.
type MemoryRegion struct {
	Start uint64           `yaml:"start" json:"start"`
	End   uint64           `yaml:"end" json:"end"`
	Type  MemoryRegionType `yaml:"type" json:"type"`
}

// Size returns the region length in bytes.
func (r MemoryRegion) Size() mem.Size {
	if r.End < r.Start {
		return 0
	}
	return mem.Size(r.End - r.Start)
}

// Frames returns the first and one-past-last frames wholly contained in the
// region. Reported addresses may not be page-aligned; the start is rounded
// up and the end rounded down.
func (r MemoryRegion) Frames() (first, end Frame) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)
	first = Frame(((r.Start + pageSizeMinus1) & ^pageSizeMinus1) >> mem.PageShift)
	end = Frame((r.End & ^pageSizeMinus1) >> mem.PageShift)
	if end < first {
		end = first
	}
	return first, end
}

// MemoryMap is the boot-supplied list of physical memory regions. It is a
// read-only input; nothing in the kernel mutates it.
type MemoryMap []MemoryRegion

// MemRegionVisitor is invoked for each region while walking the memory map.
// Returning false stops the walk.
type MemRegionVisitor func(region *MemoryRegion) bool

// Visit invokes visitor for each region in map order.
func (mm MemoryMap) Visit(visitor MemRegionVisitor) {
	for i := range mm {
		region := mm[i]
		if !visitor(&region) {
			return
		}
	}
}

// UsableFrames returns the number of frames wholly contained in usable regions.
func (mm MemoryMap) UsableFrames() uint64 {
	var count uint64
	mm.Visit(func(region *MemoryRegion) bool {
		if region.Type == RegionUsable {
			first, end := region.Frames()
			count += uint64(end - first)
		}
		return true
	})
	return count
}

// TotalUsable returns the number of bytes reported as usable.
func (mm MemoryMap) TotalUsable() mem.Size {
	var total mem.Size
	mm.Visit(func(region *MemoryRegion) bool {
		if region.Type == RegionUsable {
			total += region.Size()
		}
		return true
	})
	return total
}

// Validate checks that every region is well formed and lies below limit.
func (mm MemoryMap) Validate(limit uint64) error {
	for i, region := range mm {
		if region.End < region.Start {
			return fmt.Errorf("pmm: region %d: end %#x before start %#x", i, region.End, region.Start)
		}
		if region.Type == RegionUsable && region.End > limit {
			return fmt.Errorf("pmm: region %d: usable range ends at %#x beyond physical memory %#x", i, region.End, limit)
		}
	}
	return nil
}
