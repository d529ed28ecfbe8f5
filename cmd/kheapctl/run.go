package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/internal/machine"
	"github.com/joshuapare/kheap/internal/render"
)

var (
	runSeed      int64
	runOps       int
	runMaxSize   int
	runMaxAlign  int
	runFreeRatio float64
	runRetain    bool
)

func init() {
	cmd := newRunCmd()
	addWorkloadFlags(cmd)
	rootCmd.AddCommand(cmd)
}

func addWorkloadFlags(cmd *cobra.Command) {
	d := machine.DefaultWorkload()
	cmd.Flags().Int64Var(&runSeed, "seed", d.Seed, "Random seed")
	cmd.Flags().IntVar(&runOps, "ops", d.Ops, "Number of allocate/free operations")
	cmd.Flags().IntVar(&runMaxSize, "max-size", d.MaxSize, "Largest request size in bytes")
	cmd.Flags().IntVar(&runMaxAlign, "max-align", d.MaxAlign, "Largest request alignment (power of two)")
	cmd.Flags().Float64Var(&runFreeRatio, "free-ratio", d.FreeRatio, "Probability that an operation frees a live block")
	cmd.Flags().BoolVar(&runRetain, "retain", false, "Leave live blocks allocated at the end")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the heap with a random workload",
		Long: `The run command boots the machine and drives its heap with a seeded
random mix of allocations and frees. Every block is stamped with a tag when
allocated and verified before it is freed.

Example:
  kheapctl run
  kheapctl run --strategy linked-list --ops 50000 --seed 7
  kheapctl run --config machine.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args)
		},
	}
	return cmd
}

func workloadFromFlags() machine.Workload {
	return machine.Workload{
		Seed:      runSeed,
		Ops:       runOps,
		MaxSize:   runMaxSize,
		MaxAlign:  runMaxAlign,
		FreeRatio: runFreeRatio,
		Retain:    runRetain,
	}
}

type runOutput struct {
	Report    machine.Report `json:"report"`
	Occupancy render.Totals  `json:"occupancy"`
	Frames    int            `json:"frames_used"`
}

func runRun(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := bootMachine(cfg)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer m.Close()

	report, err := m.Run(workloadFromFlags())
	if err != nil {
		return fmt.Errorf("workload: %w", err)
	}
	out := runOutput{Report: report, Occupancy: render.Summarize(m.Occupancy()), Frames: m.Frames.Allocated()}

	if jsonOut {
		return printJSON(out)
	}

	s := report.Stats
	printInfo("%s\n", titleStyle().Render(fmt.Sprintf("Workload on %s heap", report.Strategy)))
	printInfo("%s\n", renderTable([]string{"Metric", "Value"}, [][]string{
		{"Operations", strconv.Itoa(report.Ops)},
		{"Allocations", strconv.Itoa(report.Allocs)},
		{"Frees", strconv.Itoa(report.Frees)},
		{"Exhausted", strconv.Itoa(report.Failures)},
		{"Peak live blocks", strconv.Itoa(report.PeakLive)},
		{"Peak live bytes", formatBytes(report.PeakBytes)},
		{"Retained blocks", strconv.Itoa(report.Retained)},
		{"Fallback allocations", strconv.Itoa(s.FallbackAllocs)},
		{"Frames used", strconv.Itoa(out.Frames)},
		{"Elapsed", report.Elapsed.String()},
	}))
	printInfo("%s\n", mutedStyle().Render(fmt.Sprintf("heap: %s used, %s free in %d spans, %s cached",
		formatBytes(out.Occupancy.Used), formatBytes(out.Occupancy.Free), out.Occupancy.FreeSpans,
		formatBytes(out.Occupancy.Cached))))
	return nil
}
