package heap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/mem"
	"github.com/joshuapare/kheap/mem/pmm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uintptr(0x4444_4444_0000), cfg.Start)
	assert.Equal(t, 100*mem.Kb, cfg.Size)
	assert.Equal(t, alloc.StrategyFixedBlock, cfg.Strategy)
	assert.Equal(t, pmm.DefaultFrameCapacity, cfg.FrameCapacity)
	assert.Equal(t, 25, cfg.Pages())
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"null start", func(c *Config) { c.Start = 0 }},
		{"zero size", func(c *Config) { c.Size = 0 }},
		{"misaligned start", func(c *Config) { c.Start = HeapStart + 2 }},
		{"wraps", func(c *Config) { c.Start = ^uintptr(0) &^ 7; c.Size = mem.PageSize }},
		{"too small for a node", func(c *Config) { c.Size = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrBadConfig)
		})
	}

	tiny := DefaultConfig()
	tiny.Strategy = alloc.StrategyBump
	tiny.Size = 1
	require.NoError(t, tiny.Validate(), "bump needs no node")
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("start: 0x10000000\nsize: 8192\nstrategy: linked-list\n"))
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x10000000), cfg.Start)
	assert.Equal(t, 8192*mem.Byte, cfg.Size)
	assert.Equal(t, alloc.StrategyLinkedList, cfg.Strategy)
	assert.Equal(t, pmm.DefaultFrameCapacity, cfg.FrameCapacity, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Pages())

	empty, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), empty)

	_, err = ParseConfig([]byte("heap_start: 1\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = ParseConfig([]byte("start: 0\n"))
	require.ErrorIs(t, err, ErrBadConfig)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: bump\nframe_capacity: 64\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, alloc.StrategyBump, cfg.Strategy)
	assert.Equal(t, 64, cfg.FrameCapacity)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
