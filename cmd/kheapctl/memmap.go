package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

func init() {
	rootCmd.AddCommand(newMemmapCmd())
}

func newMemmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memmap",
		Short: "Show the firmware memory map and frame supplier",
		Long: `The memmap command prints the memory map the machine boots with and how
many frames the boot frame supplier can hand out from it.

Example:
  kheapctl memmap
  kheapctl memmap --config machine.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemmap(args)
		},
	}
	return cmd
}

type memmapOutput struct {
	Regions        pmm.MemoryMap `json:"regions"`
	UsableBytes    uint64        `json:"usable_bytes"`
	UsableFrames   uint64        `json:"usable_frames"`
	FrameCapacity  int           `json:"frame_capacity"`
	RecordedFrames int           `json:"recorded_frames"`
	Truncated      bool          `json:"truncated"`
	HeapPages      int           `json:"heap_pages"`
}

func runMemmap(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	frames := pmm.NewBootFrameAllocator(cfg.MemoryMap, cfg.Heap.FrameCapacity)
	out := memmapOutput{
		Regions:        cfg.MemoryMap,
		UsableBytes:    uint64(cfg.MemoryMap.TotalUsable()),
		UsableFrames:   cfg.MemoryMap.UsableFrames(),
		FrameCapacity:  frames.Capacity(),
		RecordedFrames: frames.Recorded(),
		Truncated:      frames.Truncated(),
		HeapPages:      cfg.Heap.Pages(),
	}

	if jsonOut {
		return printJSON(out)
	}

	rows := make([][]string, 0, len(cfg.MemoryMap))
	for _, r := range cfg.MemoryMap {
		first, end := r.Frames()
		frameCount := "-"
		if r.Type == pmm.RegionUsable {
			frameCount = strconv.FormatUint(uint64(end-first), 10)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%#010x", r.Start),
			fmt.Sprintf("%#010x", r.End),
			formatBytes(uint64(r.Size())),
			r.Type.String(),
			frameCount,
		})
	}

	printInfo("%s\n", titleStyle().Render("Memory map"))
	printInfo("%s\n", renderTable([]string{"Start", "End", "Size", "Type", "Frames"}, rows))
	printInfo("usable: %s in %d frames of %s\n", formatBytes(out.UsableBytes), out.UsableFrames, formatBytes(uint64(mem.PageSize)))
	printInfo("frame supplier: %d of %d recorded (capacity %d)\n", out.RecordedFrames, out.UsableFrames, out.FrameCapacity)
	if out.Truncated {
		printInfo("%s\n", failStyle().Render("frame capacity truncates usable memory"))
	}
	printInfo("heap needs %d frames plus page tables\n", out.HeapPages)
	return nil
}
