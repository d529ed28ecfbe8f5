package machine

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/mem"
)

// Step is one heap call made by a scenario.
type Step struct {
	Op     string     `json:"op"`
	Layout mem.Layout `json:"layout"`
	Addr   uintptr    `json:"addr,omitempty"`
	Err    string     `json:"err,omitempty"`
}

// ScenarioResult is the outcome of a scenario run.
type ScenarioResult struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Expect   string `json:"expect"`
	Steps    []Step `json:"steps"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// Scenario is a scripted heap exercise with a known outcome.
type Scenario struct {
	Name        string
	Description string
	run         func(base Config) (ScenarioResult, error)
}

// Run boots a fresh machine derived from base and plays the scenario on it.
func (s Scenario) Run(base Config) (ScenarioResult, error) {
	res, err := s.run(base)
	res.Name = s.Name
	return res, err
}

// Scenarios lists the built-in scenarios.
var Scenarios = []Scenario{
	{
		Name:        "byte-fill",
		Description: "bump heap of 100 KiB filled with single-byte objects; one more must fail",
		run:         runByteFill,
	},
	{
		Name:        "size-class",
		Description: "fixed-block request of 12 bytes aligned to 4 lands in the 16-byte class",
		run:         runSizeClass,
	},
	{
		Name:        "remainder",
		Description: "free-list heap of 64 bytes: 40 bytes then 16 bytes; the 8-byte sliver rule rejects the second",
		run:         runRemainder,
	},
	{
		Name:        "reuse",
		Description: "1000 alloc/free pairs of 8 bytes reach the fixed-block fallback once",
		run:         runReuse,
	},
	{
		Name:        "frame-exhaustion",
		Description: "heap init with too few frames fails and leaves no allocator",
		run:         runFrameExhaustion,
	},
}

// FindScenario looks a scenario up by name.
func FindScenario(name string) (Scenario, bool) {
	for _, s := range Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

func bootWith(base Config, strategy alloc.Strategy, size mem.Size) (*Machine, error) {
	cfg := base
	cfg.Heap.Strategy = strategy
	cfg.Heap.Size = size
	return Boot(cfg)
}

func record(res *ScenarioResult, op string, layout mem.Layout, addr uintptr, err error) {
	step := Step{Op: op, Layout: layout, Addr: addr}
	if err != nil {
		step.Err = err.Error()
	}
	res.Steps = append(res.Steps, step)
}

func runByteFill(base Config) (ScenarioResult, error) {
	res := ScenarioResult{Strategy: alloc.StrategyBump.String(), Expect: "102400 allocations succeed, the next fails"}
	m, err := bootWith(base, alloc.StrategyBump, heap.HeapSize)
	if err != nil {
		return res, err
	}
	defer m.Close()

	start := m.Heap.Config().Start
	layout := mem.Layout{Size: 1, Align: 1}
	count := int(heap.HeapSize)
	for i := range count {
		addr, err := m.Heap.Alloc(layout)
		if err != nil || addr != start+uintptr(i) {
			record(&res, "alloc", layout, addr, err)
			res.Detail = fmt.Sprintf("allocation %d failed or out of place", i)
			return res, nil
		}
		if i == 0 || i == count-1 {
			record(&res, "alloc", layout, addr, nil)
		}
	}

	addr, err := m.Heap.Alloc(layout)
	record(&res, "alloc", layout, addr, err)
	res.Passed = errors.Is(err, alloc.ErrNoSpace) && m.Heap.Stats().BytesInUse == uint64(heap.HeapSize)
	res.Detail = fmt.Sprintf("%d bytes in use", m.Heap.Stats().BytesInUse)
	return res, nil
}

func runSizeClass(base Config) (ScenarioResult, error) {
	res := ScenarioResult{Strategy: alloc.StrategyFixedBlock.String(), Expect: "served from the 16-byte class"}
	m, err := bootWith(base, alloc.StrategyFixedBlock, heap.HeapSize)
	if err != nil {
		return res, err
	}
	defer m.Close()

	layout := mem.Layout{Size: 12, Align: 4}
	first, err := m.Heap.Alloc(layout)
	record(&res, "alloc", layout, first, err)
	if err != nil {
		return res, nil
	}
	err = m.Heap.Free(first, layout)
	record(&res, "free", layout, first, err)

	var lengths [alloc.NumClasses]int
	m.Heap.Allocator().Lock(func(a alloc.Allocator) {
		lengths = a.(*alloc.FixedBlockAllocator).ClassLengths()
	})

	second, err := m.Heap.Alloc(layout)
	record(&res, "alloc", layout, second, err)

	class := alloc.ClassFor(layout)
	res.Passed = class == 16 && lengths[1] == 1 && second == first && first%16 == 0
	res.Detail = fmt.Sprintf("class %d bytes, freed block parked on class chain 1 (%d entries)", class, lengths[1])
	return res, nil
}

func runRemainder(base Config) (ScenarioResult, error) {
	res := ScenarioResult{Strategy: alloc.StrategyLinkedList.String(), Expect: "first succeeds, second fails with the chain unchanged"}
	m, err := bootWith(base, alloc.StrategyLinkedList, 64)
	if err != nil {
		return res, err
	}
	defer m.Close()

	big := mem.Layout{Size: 40, Align: 8}
	small := mem.Layout{Size: 16, Align: 8}

	first, err := m.Heap.Alloc(big)
	record(&res, "alloc", big, first, err)
	if err != nil {
		return res, nil
	}
	before := m.Occupancy()

	second, err := m.Heap.Alloc(small)
	record(&res, "alloc", small, second, err)
	after := m.Occupancy()

	res.Passed = errors.Is(err, alloc.ErrNoSpace) && len(before.Spans) == 1 && len(after.Spans) == 1 &&
		before.Spans[0] == after.Spans[0] && before.Spans[0].Size == 24
	res.Detail = "24 bytes remain; taking 16 would strand 8, less than a 16-byte node"
	return res, nil
}

func runReuse(base Config) (ScenarioResult, error) {
	res := ScenarioResult{Strategy: alloc.StrategyFixedBlock.String(), Expect: "fallback used exactly once"}
	m, err := bootWith(base, alloc.StrategyFixedBlock, heap.HeapSize)
	if err != nil {
		return res, err
	}
	defer m.Close()

	layout := mem.Layout{Size: 8, Align: 8}
	for i := range 1000 {
		addr, err := m.Heap.Alloc(layout)
		if err == nil {
			err = m.Heap.Free(addr, layout)
		}
		if i == 0 || err != nil {
			record(&res, "alloc+free", layout, addr, err)
		}
		if err != nil {
			return res, nil
		}
	}

	stats := m.Heap.Stats()
	res.Passed = stats.FallbackAllocs == 1 && stats.LiveAllocs == 0
	res.Detail = fmt.Sprintf("%d alloc calls, %d reached the fallback", stats.AllocCalls, stats.FallbackAllocs)
	return res, nil
}

func runFrameExhaustion(base Config) (ScenarioResult, error) {
	res := ScenarioResult{Strategy: base.Heap.Strategy.String(), Expect: "init fails with a frame allocation error"}

	cfg := base
	// root table, three intermediate tables and half the heap pages
	cfg.Heap.FrameCapacity = 4 + cfg.Heap.Pages()/2
	m, err := Boot(cfg)
	if err == nil {
		m.Close()
		res.Detail = "heap initialized"
		return res, nil
	}
	record(&res, "init", mem.Layout{}, 0, err)
	res.Passed = errors.Is(err, heap.ErrFrameAllocationFailed)
	res.Detail = err.Error()
	return res, nil
}
