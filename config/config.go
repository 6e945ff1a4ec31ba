// Package config holds the machine and kernel parameters of a simulated
// osmium boot.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const pageSize = 4096

// tempWindow is the first virtual address of the per-process temporary
// mapping window; nothing else may be mapped at or above it.
const tempWindow = 0xffc00000

// Config holds the parameters of one simulated machine.
type Config struct {
	// MaxProcs is the number of process slots. Default: 64.
	MaxProcs int `json:"max_procs" yaml:"max_procs"`

	// RAMBase is the physical address of the first byte of RAM.
	// Default: 0x80000000.
	RAMBase uint64 `json:"ram_base" yaml:"ram_base"`

	// RAMSize is the amount of physical memory in bytes. Default: 16 MiB.
	RAMSize uint64 `json:"ram_size" yaml:"ram_size"`

	// KernelReserved is the size of the kernel window at the bottom of RAM.
	// It is identity-mapped into every address space without user access.
	// Default: 1 MiB.
	KernelReserved uint64 `json:"kernel_reserved" yaml:"kernel_reserved"`

	// UserStackBase is the lowest address of the user stack region.
	// Default: 0x7fffc000.
	UserStackBase uint32 `json:"user_stack_base" yaml:"user_stack_base"`

	// UserStackSize is the size of the user stack region. Default: 16 KiB.
	UserStackSize uint32 `json:"user_stack_size" yaml:"user_stack_size"`

	// StrictSegmentFlags maps ELF segments with their own protection
	// instead of read-write-execute. Default: false.
	StrictSegmentFlags bool `json:"strict_segment_flags" yaml:"strict_segment_flags"`

	// TLBSets is the number of TLB sets. Default: 16.
	TLBSets int `json:"tlb_sets" yaml:"tlb_sets"`

	// TLBWays is the TLB associativity. Default: 4.
	TLBWays int `json:"tlb_ways" yaml:"tlb_ways"`

	// MaxInstructions bounds the user instructions executed in one boot.
	// 0 means no limit. Default: 10,000,000.
	MaxInstructions uint64 `json:"max_instructions" yaml:"max_instructions"`

	// TraceOutput is the file spans are exported to. Empty disables
	// tracing.
	TraceOutput string `json:"trace_output" yaml:"trace_output"`
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	return &Config{
		MaxProcs:        64,
		RAMBase:         0x80000000,
		RAMSize:         16 << 20,
		KernelReserved:  1 << 20,
		UserStackBase:   0x7fffc000,
		UserStackSize:   0x4000,
		TLBSets:         16,
		TLBWays:         4,
		MaxInstructions: 10_000_000,
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads a Config from a JSON or YAML file, chosen by extension.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON or YAML file, chosen by extension.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// TableFrames is the number of frames the kernel sets aside for page
// tables before the frame allocator: a root and a scratch table for the
// template and for every slot.
func (c *Config) TableFrames() uint64 {
	return 2 * (uint64(c.MaxProcs) + 1)
}

// Validate checks that the values describe a machine that can boot.
func (c *Config) Validate() error {
	if c.MaxProcs <= 0 {
		return errors.New("max_procs must be > 0")
	}
	if c.RAMBase%pageSize != 0 || c.RAMBase == 0 {
		return errors.New("ram_base must be a non-zero multiple of 4096")
	}
	if c.RAMSize == 0 || c.RAMSize%pageSize != 0 {
		return errors.New("ram_size must be a non-zero multiple of 4096")
	}
	if c.KernelReserved%pageSize != 0 {
		return errors.New("kernel_reserved must be a multiple of 4096")
	}
	if c.RAMBase+c.KernelReserved > tempWindow {
		return errors.New("kernel window must end below 0xffc00000")
	}
	if c.KernelReserved+(c.TableFrames()+1)*pageSize > c.RAMSize {
		return fmt.Errorf("ram_size 0x%x cannot hold the kernel window and %d page tables",
			c.RAMSize, c.TableFrames())
	}
	if c.UserStackBase%pageSize != 0 || c.UserStackSize == 0 || c.UserStackSize%pageSize != 0 {
		return errors.New("user stack must be a non-empty page-aligned region")
	}

	stackEnd := uint64(c.UserStackBase) + uint64(c.UserStackSize)
	if stackEnd > tempWindow {
		return errors.New("user stack must end below 0xffc00000")
	}
	if uint64(c.UserStackBase) < c.RAMBase+c.KernelReserved && stackEnd > c.RAMBase {
		return errors.New("user stack overlaps the kernel window")
	}
	if c.TLBSets <= 0 || c.TLBWays <= 0 {
		return errors.New("tlb_sets and tlb_ways must be > 0")
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
