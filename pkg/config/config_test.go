package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 6*time.Second, cfg.Pipeline.ThrottleInterval)
	assert.Equal(t, 10, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 10, cfg.Allocation.AutoApproveLimit)
	assert.InDelta(t, 0.6, cfg.Allocation.MatchThreshold, 1e-9)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relief.yaml")
	body := `
db_path: /tmp/test.db
pipeline:
  queue_capacity: 8
  throttle_interval: 2s
allocation:
  match_threshold: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ThrottleInterval)
	assert.InDelta(t, 0.8, cfg.Allocation.MatchThreshold, 1e-9)
	// Untouched fields keep defaults.
	assert.Equal(t, 10, cfg.Pipeline.MaxRetries)
}

func TestGeminiWithoutKeyFallsBackToRules(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "relief.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpreter:\n  backend: gemini\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRules, cfg.Interpreter.Backend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queue capacity", func(c *Config) { c.Pipeline.QueueCapacity = 0 }},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }},
		{"cap below base", func(c *Config) { c.Pipeline.BackoffCap = time.Second; c.Pipeline.BackoffBase = time.Minute }},
		{"threshold above one", func(c *Config) { c.Allocation.MatchThreshold = 1.5 }},
		{"unknown backend", func(c *Config) { c.Interpreter.Backend = "oracle" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
