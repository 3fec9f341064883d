// Package config loads the engine settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"memlocate/layout"
	"memlocate/locator"
	"memlocate/process"
	"memlocate/process/memory_map"
	"memlocate/rank"
	"memlocate/region"
	"memlocate/retry"
	"memlocate/scan"

	"gopkg.in/yaml.v3"
)

const (
	EnvCache   = "MEMLOCATE_CACHE"
	EnvWorkers = "MEMLOCATE_WORKERS"
)

// Config is the settings file. Layout and Heuristics paths are relative to the file itself.
type Config struct {
	Layout     string `yaml:"layout"`
	Heuristics string `yaml:"heuristics,omitempty"`
	Cache      string `yaml:"cache"`

	Workers       int    `yaml:"workers"`
	MaxRegionSize uint64 `yaml:"max_region_size"`
	MinAddress    uint64 `yaml:"min_address"`
	MaxAddress    uint64 `yaml:"max_address"`
	// Scope is "all", "image" or "heap"
	Scope           string        `yaml:"scope"`
	DiscoveryBudget time.Duration `yaml:"discovery_budget"`

	MaxIndirection int    `yaml:"max_indirection"`
	MaxBackOffset  uint64 `yaml:"max_back_offset"`
	PointerSize    int    `yaml:"pointer_size"`

	ReadInterval       time.Duration `yaml:"read_interval"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval"`

	Retry retry.Config `yaml:"retry"`

	dir string
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Layout:             "layout.yaml",
		Cache:              "memlocate-cache.json",
		MaxRegionSize:      scan.DefaultMaxRegionSize,
		MinAddress:         0x10000,
		MaxAddress:         0x7FFFFFFFFFFF,
		Scope:              "all",
		DiscoveryBudget:    2 * time.Minute,
		MaxIndirection:     2,
		MaxBackOffset:      0x1000,
		PointerSize:        8,
		ReadInterval:       500 * time.Millisecond,
		RevalidateInterval: 5 * time.Second,
		Retry: retry.Config{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.dir = filepath.Dir(path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvCache); v != "" {
		c.Cache = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvWorkers, v, err)
		}
		c.Workers = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Layout == "" {
		errs = append(errs, errors.New("layout is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.MaxAddress != 0 && c.MinAddress > c.MaxAddress {
		errs = append(errs, fmt.Errorf("min_address 0x%x above max_address 0x%x", c.MinAddress, c.MaxAddress))
	}
	switch c.Scope {
	case "", "all", "image", "heap":
	default:
		errs = append(errs, fmt.Errorf("unknown scope %q", c.Scope))
	}
	if c.PointerSize != 4 && c.PointerSize != 8 {
		errs = append(errs, fmt.Errorf("pointer_size must be 4 or 8, got %d", c.PointerSize))
	}
	if c.DiscoveryBudget < 0 {
		errs = append(errs, errors.New("discovery_budget must not be negative"))
	}
	if c.ReadInterval <= 0 || c.RevalidateInterval <= 0 {
		errs = append(errs, errors.New("read_interval and revalidate_interval must be positive"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// LayoutPath is the layout file, resolved against the config file's directory.
func (c *Config) LayoutPath() string {
	return c.resolve(c.Layout)
}

func (c *Config) HeuristicsPath() string {
	return c.resolve(c.Heuristics)
}

// LoadLayout loads the layout and the ranker, checking that the heuristics fit the layout.
func (c *Config) LoadLayout() (*layout.Layout, *rank.Ranker, error) {
	l, err := layout.Load(c.LayoutPath())
	if err != nil {
		return nil, nil, err
	}

	r := &rank.Ranker{}
	if c.Heuristics != "" {
		if r, err = rank.Load(c.HeuristicsPath()); err != nil {
			return nil, nil, err
		}
		if err := r.Check(l); err != nil {
			return nil, nil, fmt.Errorf("heuristics do not fit layout %q: %w", l.Name, err)
		}
	}
	return l, r, nil
}

// Filter is the region filter implied by the address bounds and scope.
func (c *Config) Filter() region.Filter {
	f := region.Readable()
	f.MinBase = process.ProcessMemoryAddress(c.MinAddress)
	f.MaxBase = process.ProcessMemoryAddress(c.MaxAddress)
	switch c.Scope {
	case "image":
		f.Scope = region.ScopeImage
	case "heap":
		f.Scope = region.ScopeExcludeImage
		f.Exclude |= memory_map.ProtExec
	}
	return f
}

// EngineOptions translates the file into locator options.
func (c *Config) EngineOptions() locator.Options {
	return locator.Options{
		Filter: c.Filter(),
		Scan: scan.Options{
			Workers:       c.Workers,
			MaxRegionSize: process.ProcessMemorySize(c.MaxRegionSize),
		},
		DiscoveryBudget:    c.DiscoveryBudget,
		MaxIndirection:     c.MaxIndirection,
		MaxBackOffset:      c.MaxBackOffset,
		PointerSize:        c.PointerSize,
		ReadInterval:       c.ReadInterval,
		RevalidateInterval: c.RevalidateInterval,
		CachePath:          c.Cache,
	}
}
