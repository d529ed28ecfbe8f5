package heap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

const (
	// HeapStart is the virtual address the kernel heap is mapped at.
	HeapStart = uintptr(0x_4444_4444_0000)

	// HeapSize is the size of the kernel heap.
	HeapSize = 100 * mem.Kb
)

// Config describes the heap region and how it is managed.
type Config struct {
	Start         uintptr        `yaml:"start" json:"start"`
	Size          mem.Size       `yaml:"size" json:"size"`
	Strategy      alloc.Strategy `yaml:"strategy" json:"strategy"`
	FrameCapacity int            `yaml:"frame_capacity" json:"frame_capacity"`
}

// DefaultConfig returns the standard kernel heap configuration.
func DefaultConfig() Config {
	return Config{
		Start:         HeapStart,
		Size:          HeapSize,
		Strategy:      alloc.StrategyFixedBlock,
		FrameCapacity: pmm.DefaultFrameCapacity,
	}
}

// Validate checks that the region can be handed to any strategy.
func (c Config) Validate() error {
	if c.Start == 0 {
		return fmt.Errorf("%w: heap start is null", ErrBadConfig)
	}
	if c.Size == 0 {
		return fmt.Errorf("%w: heap size is zero", ErrBadConfig)
	}
	if c.Start%mem.WordSize != 0 {
		return fmt.Errorf("%w: heap start %#x not aligned to %d", ErrBadConfig, c.Start, mem.WordSize)
	}
	if _, ok := mem.CheckedAdd(c.Start, uintptr(c.Size)); !ok || uint64(uintptr(c.Size)) != uint64(c.Size) {
		return fmt.Errorf("%w: heap [%#x, +%d) wraps the address space", ErrBadConfig, c.Start, c.Size)
	}
	if c.Strategy != alloc.StrategyBump && c.Size < 16 {
		return fmt.Errorf("%w: %s heap of %d bytes cannot hold a free-list node", ErrBadConfig, c.Strategy, c.Size)
	}
	return nil
}

// Pages returns the number of pages the region spans.
func (c Config) Pages() int {
	return pageRange(c).Len()
}

// ParseConfig decodes YAML on top of DefaultConfig. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("heap: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML heap configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("heap: read config: %w", err)
	}
	return ParseConfig(data)
}
