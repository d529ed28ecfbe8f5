package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/internal/klog"
	"github.com/joshuapare/kheap/internal/machine"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	noColor    bool
	configPath string
	strategy   string
)

var rootCmd = &cobra.Command{
	Use:   "kheapctl",
	Short: "Boot and exercise the kernel heap on a simulated machine",
	Long: `kheapctl boots the kernel memory subsystem on a hosted machine: physical
memory is an arena obtained from the operating system, page tables are built
inside it and the kernel heap is mapped at its fixed virtual address. The heap
can then be driven with random workloads, scripted scenarios, or rendered as
an occupancy map.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		klog.Init(klog.Options{
			Enabled: verbose,
			Writer:  os.Stderr,
			Level:   slog.LevelDebug,
			JSON:    jsonOut,
		})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logging")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Machine configuration file (YAML)")
	rootCmd.PersistentFlags().
		StringVarP(&strategy, "strategy", "s", "", "Heap strategy: bump, linked-list or fixed-block")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the machine configuration from --config and --strategy.
func loadConfig() (machine.Config, error) {
	cfg := machine.DefaultConfig()
	if configPath != "" {
		loaded, err := machine.LoadConfig(configPath)
		if err != nil {
			return machine.Config{}, err
		}
		cfg = loaded
	}
	if strategy != "" {
		kind, err := alloc.ParseStrategy(strategy)
		if err != nil {
			return machine.Config{}, err
		}
		cfg.Heap.Strategy = kind
	}
	return cfg, nil
}

// bootMachine boots the configured machine. The first machine booted by the
// process owns the process-wide heap.
func bootMachine(cfg machine.Config) (*machine.Machine, error) {
	var opts []machine.Option
	if _, err := heap.Default(); err != nil {
		opts = append(opts, machine.WithGlobalHeap())
	}
	printVerbose("Booting %s of physical memory, %s heap at %#x\n",
		formatBytes(uint64(cfg.PhysicalMemory)), cfg.Heap.Strategy, cfg.Heap.Start)
	return machine.Boot(cfg, opts...)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
