package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"memlocate/process/memory_map"
	"memlocate/region"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxIndirection)
	assert.Equal(t, "layout.yaml", cfg.LayoutPath())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "memlocate.yaml", `
layout: player.yaml
heuristics: /etc/memlocate/heuristics.yaml
workers: 3
scope: heap
min_address: 0x20000
discovery_budget: 45s
max_indirection: 3
retry:
  max_attempts: 4
  initial_backoff: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "player.yaml"), cfg.LayoutPath())
	assert.Equal(t, "/etc/memlocate/heuristics.yaml", cfg.HeuristicsPath())
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 45*time.Second, cfg.DiscoveryBudget)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	// untouched keys keep their defaults
	assert.Equal(t, 8, cfg.PointerSize)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)

	f := cfg.Filter()
	assert.EqualValues(t, 0x20000, f.MinBase)
	assert.Equal(t, region.ScopeExcludeImage, f.Scope)
	assert.True(t, f.Exclude&memory_map.ProtExec != 0)

	opts := cfg.EngineOptions()
	assert.Equal(t, 3, opts.Scan.Workers)
	assert.Equal(t, 3, opts.MaxIndirection)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvCache, "/tmp/elsewhere.json")
	t.Setenv(EnvWorkers, "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere.json", cfg.Cache)
	assert.Equal(t, 7, cfg.Workers)
}

func TestEnvWorkersInvalid(t *testing.T) {
	t.Setenv(EnvWorkers, "many")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Layout = ""
	cfg.Scope = "stack"
	cfg.PointerSize = 2
	cfg.MinAddress = 0x9000
	cfg.MaxAddress = 0x1000

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"layout is required", "unknown scope", "pointer_size", "min_address"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadLayoutChecksHeuristics(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "layout.yaml", `
name: rec
fields:
  - {name: a, offset: 0x0, type: i32, min: 1}
  - {name: b, offset: 0x4, type: i32}
`)
	writeFile(t, dir, "good.yaml", `
heuristics:
  - {name: a above b, weight: 5, when: {field: a, op: gt, other: b}}
`)
	writeFile(t, dir, "bad.yaml", `
heuristics:
  - {name: c, weight: 5, when: {field: c, min: 1}}
`)

	cfg := Default()
	cfg.dir = dir
	cfg.Heuristics = "good.yaml"
	l, r, err := cfg.LoadLayout()
	require.NoError(t, err)
	assert.Equal(t, "rec", l.Name)
	assert.Len(t, r.Heuristics, 1)

	cfg.Heuristics = "bad.yaml"
	_, _, err = cfg.LoadLayout()
	assert.ErrorContains(t, err, "unknown field")
}
