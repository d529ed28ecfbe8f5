package testutil

import "github.com/joshuapare/kheap/mem/pmm"

// Usable returns a usable region covering [start, end).
func Usable(start, end uint64) pmm.MemoryRegion {
	return pmm.MemoryRegion{Start: start, End: end, Type: pmm.RegionUsable}
}

// Reserved returns a reserved region covering [start, end).
func Reserved(start, end uint64) pmm.MemoryRegion {
	return pmm.MemoryRegion{Start: start, End: end, Type: pmm.RegionReserved}
}

// MemoryMap builds a memory map from regions.
func MemoryMap(regions ...pmm.MemoryRegion) pmm.MemoryMap {
	return pmm.MemoryMap(regions)
}
