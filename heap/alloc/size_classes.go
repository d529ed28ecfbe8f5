package alloc

import "github.com/joshuapare/kheap/mem"

// blockSizes is the ascending table of fixed-block size classes. Each class
// size is also the alignment of the blocks it hands out, so every entry must
// be a power of two.
var blockSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// NumClasses is the number of fixed-block size classes.
const NumClasses = len(blockSizes)

// listIndex returns the index of the smallest class that can hold layout:
// the first class not smaller than max(size, align). It reports false for
// requests larger than the largest class.
func listIndex(layout mem.Layout) (int, bool) {
	requiredBlockSize := max(layout.Size, layout.Align)
	for i, blockSize := range blockSizes {
		if blockSize >= requiredBlockSize {
			return i, true
		}
	}
	return NumClasses, false
}

// ClassFor returns the block size a layout is served from, or 0 when the
// layout bypasses the size classes.
func ClassFor(layout mem.Layout) uintptr {
	index, ok := listIndex(layout)
	if !ok {
		return 0
	}
	return blockSizes[index]
}

// ClassSizes returns a copy of the size-class table.
func ClassSizes() [NumClasses]uintptr {
	return blockSizes
}
