package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env: prod\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8087", cfg.App.HTTPAddr)
	assert.Equal(t, "data/exports", cfg.Data.CSVDir)
	assert.InDelta(t, 100_000, cfg.Dashboard.DefaultCapital, 1e-9)
	assert.Equal(t, 4, cfg.Dashboard.MaxConcurrent)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  http_addr: \":9000\"\ndashboard:\n  default_capital: 25000\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\napp:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.InDelta(t, 25_000, cfg.Dashboard.DefaultCapital, 1e-9)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  log_level: verbose\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}
