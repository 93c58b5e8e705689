package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsZeroConfig(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &ProjectConfig{}, cfg)
}

func TestLoad_ParsesDurationsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
ledgerDir: .orchestrate/ledgers
concurrency: 5
maxRetries: 0
pollInterval: 2s
taskTimeouts:
  high: 20m
  medium: 10m
  low: 5m
worker:
  command: orchestrate-worker
  args: ["--quiet"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orchestrate.yml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ".orchestrate/ledgers", cfg.LedgerDir)
	assert.Equal(t, 5, cfg.Concurrency)
	require.NotNil(t, cfg.MaxRetries)
	assert.Equal(t, 0, *cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 20*time.Minute, cfg.TaskTimeouts.High.Std())
	assert.Equal(t, "orchestrate-worker", cfg.Worker.Command)
	assert.Equal(t, []string{"--quiet"}, cfg.Worker.Args)
}

func TestLoad_BadDurationFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orchestrate.yaml"), []byte("pollInterval: soon\n"), 0o644))

	_, err := Load(dir)
	require.ErrorContains(t, err, "parse duration")
}
