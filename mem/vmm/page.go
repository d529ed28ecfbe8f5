package vmm

import (
	"iter"

	"github.com/joshuapare/kheap/mem"
)

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// PageRange is an inclusive range of virtual pages.
type PageRange struct {
	Start Page
	End   Page
}

// PageRangeInclusive returns the range [start, end].
func PageRangeInclusive(start, end Page) PageRange {
	return PageRange{Start: start, End: end}
}

// PageRangeForRegion returns the inclusive range of pages that covers the
// byte range [start, start+size). size must be non-zero.
func PageRangeForRegion(start uintptr, size mem.Size) PageRange {
	return PageRangeInclusive(PageFromAddress(start), PageFromAddress(start+uintptr(size)-1))
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End-r.Start) + 1
}

// All yields every page in the range in ascending order.
func (r PageRange) All() iter.Seq[Page] {
	return func(yield func(Page) bool) {
		if r.End < r.Start {
			return
		}
		for page := r.Start; ; page++ {
			if !yield(page) || page == r.End {
				return
			}
		}
	}
}
