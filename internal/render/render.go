// Package render draws heap occupancy maps. The heap is laid out as a grid
// of rows, each covering a fixed number of bytes, and every byte range is
// painted according to its state.
package render

import (
	"fmt"
	"image/color"
	"io"

	"github.com/fogleman/gg"
)

// SpanKind is the state of a byte range.
type SpanKind uint8

const (
	// SpanUsed is a range handed out to a caller.
	SpanUsed SpanKind = iota
	// SpanFree is a range tracked by a free list.
	SpanFree
	// SpanCached is a freed block parked on a size-class chain.
	SpanCached
)

func (k SpanKind) String() string {
	switch k {
	case SpanUsed:
		return "used"
	case SpanFree:
		return "free"
	case SpanCached:
		return "cached"
	}
	return fmt.Sprintf("SpanKind(%d)", uint8(k))
}

// Span is a byte range of the heap in a given state.
type Span struct {
	Start uintptr
	Size  uintptr
	Kind  SpanKind
}

// Palette colors.
var (
	Background = color.RGBA{R: 0x1e, G: 0x1e, B: 0x2e, A: 0xff}
	UsedColor  = color.RGBA{R: 0xf3, G: 0x8b, B: 0xa8, A: 0xff}
	FreeColor  = color.RGBA{R: 0xa6, G: 0xe3, B: 0xa1, A: 0xff}
	CacheColor = color.RGBA{R: 0x89, G: 0xb4, B: 0xfa, A: 0xff}
	TextColor  = color.RGBA{R: 0xcd, G: 0xd6, B: 0xf4, A: 0xff}
)

func (k SpanKind) color() color.Color {
	switch k {
	case SpanFree:
		return FreeColor
	case SpanCached:
		return CacheColor
	}
	return UsedColor
}

// Options controls the image geometry.
type Options struct {
	Width     int     // Image width in pixels. Default: 512
	RowBytes  uintptr // Heap bytes per row. Default: 4096
	RowHeight int     // Row height in pixels. Default: 12
	Margin    int     // Border around the grid. Default: 8
	Title     string  // Optional caption drawn above the grid
}

const titleHeight = 20

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 512
	}
	if o.RowBytes == 0 {
		o.RowBytes = 4096
	}
	if o.RowHeight <= 0 {
		o.RowHeight = 12
	}
	if o.Margin < 0 {
		o.Margin = 0
	} else if o.Margin == 0 {
		o.Margin = 8
	}
	return o
}

// Map is an occupancy map ready to be drawn.
type Map struct {
	Start uintptr
	Size  uintptr
	Spans []Span
}

// Draw paints m. Bytes not covered by any span are drawn as used.
func Draw(m Map, opts Options) *gg.Context {
	opts = opts.withDefaults()

	rows := int((m.Size + opts.RowBytes - 1) / opts.RowBytes)
	top := opts.Margin
	if opts.Title != "" {
		top += titleHeight
	}
	height := top + rows*opts.RowHeight + opts.Margin

	dc := gg.NewContext(opts.Width, height)
	dc.SetColor(Background)
	dc.Clear()

	if opts.Title != "" {
		dc.SetColor(TextColor)
		dc.DrawString(opts.Title, float64(opts.Margin), float64(opts.Margin+13))
	}

	g := grid{opts: opts, top: top}
	g.fill(dc, 0, m.Size, UsedColor)
	for _, span := range m.Spans {
		if span.Start < m.Start || span.Size == 0 {
			continue
		}
		off := span.Start - m.Start
		if off >= m.Size {
			continue
		}
		g.fill(dc, off, min(off+span.Size, m.Size), span.Kind.color())
	}
	return dc
}

type grid struct {
	opts Options
	top  int
}

// fill paints the heap offsets [from, to), wrapping across rows.
func (g grid) fill(dc *gg.Context, from, to uintptr, c color.Color) {
	dc.SetColor(c)
	inner := float64(g.opts.Width - 2*g.opts.Margin)
	scale := inner / float64(g.opts.RowBytes)

	for from < to {
		row := from / g.opts.RowBytes
		rowEnd := min((row+1)*g.opts.RowBytes, to)

		x0 := float64(g.opts.Margin) + float64(from%g.opts.RowBytes)*scale
		x1 := float64(g.opts.Margin) + float64(rowEnd-row*g.opts.RowBytes)*scale
		y := float64(g.top + int(row)*g.opts.RowHeight)
		dc.DrawRectangle(x0, y, max(x1-x0, 1), float64(g.opts.RowHeight-1))
		dc.Fill()

		from = rowEnd
	}
}

// WritePNG draws m and encodes it as PNG to w.
func WritePNG(w io.Writer, m Map, opts Options) error {
	return Draw(m, opts).EncodePNG(w)
}

// SavePNG draws m into the PNG file at path.
func SavePNG(path string, m Map, opts Options) error {
	return Draw(m, opts).SavePNG(path)
}

// Totals sums span sizes per kind. Bytes not covered by a span count as
// used.
type Totals struct {
	Used        uint64 `json:"used"`
	Free        uint64 `json:"free"`
	Cached      uint64 `json:"cached"`
	LargestFree uint64 `json:"largest_free"`
	FreeSpans   int    `json:"free_spans"`
}

// Summarize computes the totals for m.
func Summarize(m Map) Totals {
	var t Totals
	for _, span := range m.Spans {
		switch span.Kind {
		case SpanFree:
			t.Free += uint64(span.Size)
			t.FreeSpans++
			t.LargestFree = max(t.LargestFree, uint64(span.Size))
		case SpanCached:
			t.Cached += uint64(span.Size)
		}
	}
	t.Used = uint64(m.Size) - t.Free - t.Cached
	return t
}
