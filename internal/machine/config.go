package machine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

// DefaultPhysicalMemory is the RAM size of the default machine.
const DefaultPhysicalMemory = 4 * mem.Mb

// ErrBadConfig is returned for a machine that cannot be booted.
var ErrBadConfig = errors.New("machine: invalid configuration")

// Config describes a hosted machine: how much physical memory it has, what
// the firmware reports about it and how the kernel heap is set up.
type Config struct {
	PhysicalMemory mem.Size      `yaml:"physical_memory" json:"physical_memory"`
	MemoryMap      pmm.MemoryMap `yaml:"memory_map" json:"memory_map"`
	Heap           heap.Config   `yaml:"heap" json:"heap"`
}

// DefaultMemoryMap returns a PC-style map for size bytes of RAM: the first
// 64 KiB and the legacy hole at [0xA0000, 0x100000) are reserved, everything
// else is usable.
func DefaultMemoryMap(size mem.Size) pmm.MemoryMap {
	end := uint64(size)
	mm := pmm.MemoryMap{
		{Start: 0, End: 0x10000, Type: pmm.RegionReserved},
		{Start: 0x10000, End: min(end, 0xA0000), Type: pmm.RegionUsable},
	}
	if end > 0x100000 {
		mm = append(mm,
			pmm.MemoryRegion{Start: 0xA0000, End: 0x100000, Type: pmm.RegionReserved},
			pmm.MemoryRegion{Start: 0x100000, End: end, Type: pmm.RegionUsable},
		)
	}
	return mm
}

// DefaultConfig returns a 4 MiB machine with the default heap.
func DefaultConfig() Config {
	return Config{
		PhysicalMemory: DefaultPhysicalMemory,
		MemoryMap:      DefaultMemoryMap(DefaultPhysicalMemory),
		Heap:           heap.DefaultConfig(),
	}
}

// Validate checks the machine description.
func (c Config) Validate() error {
	if c.PhysicalMemory == 0 || c.PhysicalMemory%mem.PageSize != 0 {
		return fmt.Errorf("%w: physical memory %d is not a non-zero multiple of the page size", ErrBadConfig, c.PhysicalMemory)
	}
	if err := c.MemoryMap.Validate(uint64(c.PhysicalMemory)); err != nil {
		return fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	if err := c.Heap.Validate(); err != nil {
		return err
	}
	return nil
}

// ParseConfig decodes YAML on top of DefaultConfig. A config that changes
// physical_memory without listing a memory_map gets the default map for the
// new size.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	cfg.MemoryMap = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("machine: parse config: %w", err)
	}
	if cfg.MemoryMap == nil {
		cfg.MemoryMap = DefaultMemoryMap(cfg.PhysicalMemory)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML machine configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("machine: read config: %w", err)
	}
	return ParseConfig(data)
}
