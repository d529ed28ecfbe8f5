package mem

import (
	"errors"
	"fmt"
)

// ErrBadLayout is returned when a layout's alignment is not a power of two.
var ErrBadLayout = errors.New("mem: alignment must be a non-zero power of two")

// Layout describes a memory request: the number of usable bytes the caller
// needs and the alignment the returned address must satisfy.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// NewLayout returns a validated layout.
func NewLayout(size, align uintptr) (Layout, error) {
	if !IsPowerOfTwo(align) {
		return Layout{}, fmt.Errorf("%w: %d", ErrBadLayout, align)
	}
	return Layout{Size: size, Align: align}, nil
}

// MustLayout is like NewLayout but panics on an invalid alignment. It is
// meant for package-level layout constants.
func MustLayout(size, align uintptr) Layout {
	l, err := NewLayout(size, align)
	if err != nil {
		panic(err)
	}
	return l
}

// AlignTo returns a copy of the layout whose alignment is at least align.
func (l Layout) AlignTo(align uintptr) Layout {
	if align > l.Align {
		l.Align = align
	}
	return l
}

// PadToAlign returns a copy of the layout with its size rounded up to a
// multiple of its alignment. ok is false when the padded size does not fit
// in a uintptr.
func (l Layout) PadToAlign() (padded Layout, ok bool) {
	remainder := l.Size % l.Align
	if remainder == 0 {
		return l, true
	}
	l.Size, ok = CheckedAdd(l.Size-remainder, l.Align)
	return l, ok
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("Layout{size: %d, align: %d}", l.Size, l.Align)
}

// IsPowerOfTwo returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignUp rounds addr up to the next multiple of align.
func AlignUp(addr, align uintptr) uintptr {
	remainder := addr % align
	if remainder == 0 {
		return addr
	}
	return addr - remainder + align
}

// AlignDown rounds addr down to the previous multiple of align.
func AlignDown(addr, align uintptr) uintptr {
	return addr - addr%align
}

// CheckedAdd adds a and b, returning ok = false when the result would wrap.
func CheckedAdd(a, b uintptr) (uintptr, bool) {
	sum := a + b
	return sum, sum >= a
}
