package machine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/mem"
)

var (
	// ErrCorruption is returned when a live block no longer holds the
	// pattern written into it at allocation time.
	ErrCorruption = errors.New("machine: heap block corrupted")

	// ErrMisaligned is returned when the heap hands out a block violating
	// the requested alignment.
	ErrMisaligned = errors.New("machine: misaligned block")
)

// ByteMemory is the byte-level view of the address space the workload uses
// to stamp and verify blocks.
type ByteMemory interface {
	ReadBytes(addr uintptr, dst []byte) error
	WriteBytes(addr uintptr, src []byte) error
}

// Workload describes a pseudo-random mix of allocations and frees.
type Workload struct {
	Seed      int64   `yaml:"seed" json:"seed"`
	Ops       int     `yaml:"ops" json:"ops"`
	MaxSize   int     `yaml:"max_size" json:"max_size"`
	MaxAlign  int     `yaml:"max_align" json:"max_align"`
	FreeRatio float64 `yaml:"free_ratio" json:"free_ratio"`

	// Retain leaves the blocks still live at the end allocated, so the
	// resulting fragmentation can be inspected.
	Retain bool `yaml:"retain" json:"retain"`
}

// DefaultWorkload returns a moderate mix of small allocations.
func DefaultWorkload() Workload {
	return Workload{Seed: 1, Ops: 10000, MaxSize: 512, MaxAlign: 64, FreeRatio: 0.45}
}

func (w Workload) withDefaults() Workload {
	d := DefaultWorkload()
	if w.Ops <= 0 {
		w.Ops = d.Ops
	}
	if w.MaxSize <= 0 {
		w.MaxSize = d.MaxSize
	}
	if w.MaxAlign <= 0 || !mem.IsPowerOfTwo(uintptr(w.MaxAlign)) {
		w.MaxAlign = d.MaxAlign
	}
	if w.FreeRatio <= 0 || w.FreeRatio >= 1 {
		w.FreeRatio = d.FreeRatio
	}
	return w
}

// Report summarizes a workload run.
type Report struct {
	Strategy  string        `json:"strategy"`
	Ops       int           `json:"ops"`
	Allocs    int           `json:"allocs"`
	Frees     int           `json:"frees"`
	Failures  int           `json:"failures"`
	PeakLive  int           `json:"peak_live"`
	PeakBytes uint64        `json:"peak_bytes"`
	Retained  int           `json:"retained"`
	Stats     alloc.Stats   `json:"stats"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

type liveBlock struct {
	addr   uintptr
	layout mem.Layout
	tag    byte
}

// RunWorkload drives h with w. Every block is filled with a tag byte when
// allocated and checked before it is freed, so blocks that overlap, or
// that allocator metadata writes into, are reported as ErrCorruption.
// Exhaustion is counted, not treated as an error.
func RunWorkload(h *heap.Heap, bm ByteMemory, w Workload) (Report, error) {
	w = w.withDefaults()
	rng := rand.New(rand.NewSource(w.Seed))
	report := Report{Strategy: h.Config().Strategy.String(), Ops: w.Ops}
	log := klog.With("workload")

	var live []liveBlock
	var liveBytes uint64
	started := time.Now()

	free := func(i int) error {
		b := live[i]
		if err := verify(bm, b); err != nil {
			return err
		}
		if err := h.Free(b.addr, b.layout); err != nil {
			return fmt.Errorf("machine: free %#x: %w", b.addr, err)
		}
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
		liveBytes -= uint64(b.layout.Size)
		report.Frees++
		return nil
	}

	for op := range w.Ops {
		if len(live) > 0 && rng.Float64() < w.FreeRatio {
			if err := free(rng.Intn(len(live))); err != nil {
				return report, err
			}
			continue
		}

		layout := mem.Layout{
			Size:  uintptr(1 + rng.Intn(w.MaxSize)),
			Align: uintptr(1) << rng.Intn(bitsLen(w.MaxAlign)),
		}
		addr, err := h.Alloc(layout)
		if errors.Is(err, alloc.ErrNoSpace) {
			report.Failures++
			continue
		}
		if err != nil {
			return report, fmt.Errorf("machine: op %d: alloc %s: %w", op, layout, err)
		}
		if addr%layout.Align != 0 {
			return report, fmt.Errorf("%w: %#x for %s", ErrMisaligned, addr, layout)
		}

		b := liveBlock{addr: addr, layout: layout, tag: byte(op%251) + 1}
		if err := stamp(bm, b); err != nil {
			return report, err
		}
		live = append(live, b)
		liveBytes += uint64(layout.Size)
		report.Allocs++
		report.PeakLive = max(report.PeakLive, len(live))
		report.PeakBytes = max(report.PeakBytes, liveBytes)
	}

	if w.Retain {
		for _, b := range live {
			if err := verify(bm, b); err != nil {
				return report, err
			}
		}
		report.Retained = len(live)
	} else {
		for len(live) > 0 {
			if err := free(len(live) - 1); err != nil {
				return report, err
			}
		}
	}

	report.Elapsed = time.Since(started)
	report.Stats = h.Stats()
	log.Debug("workload finished", "strategy", report.Strategy, "allocs", report.Allocs,
		"frees", report.Frees, "failures", report.Failures, "elapsed", report.Elapsed)
	return report, nil
}

// Run drives the machine's heap with w.
func (m *Machine) Run(w Workload) (Report, error) {
	return RunWorkload(m.Heap, m.Space, w)
}

// bitsLen returns the number of alignment choices up to maxAlign.
func bitsLen(maxAlign int) int {
	n := 1
	for a := 1; a < maxAlign; a <<= 1 {
		n++
	}
	return n
}

func stamp(bm ByteMemory, b liveBlock) error {
	buf := make([]byte, b.layout.Size)
	for i := range buf {
		buf[i] = b.tag
	}
	if err := bm.WriteBytes(b.addr, buf); err != nil {
		return fmt.Errorf("machine: stamp %#x: %w", b.addr, err)
	}
	return nil
}

func verify(bm ByteMemory, b liveBlock) error {
	buf := make([]byte, b.layout.Size)
	if err := bm.ReadBytes(b.addr, buf); err != nil {
		return fmt.Errorf("machine: read %#x: %w", b.addr, err)
	}
	for i, v := range buf {
		if v != b.tag {
			return fmt.Errorf("%w: block %#x (%s) byte %d is %#x, want %#x", ErrCorruption, b.addr, b.layout, i, v, b.tag)
		}
	}
	return nil
}
