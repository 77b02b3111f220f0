package taskscope

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
task_hub: orders
dispose_timeout: 1500ms
log:
  level: debug
  format: json
metrics:
  enabled: true
  namespace: orders
backend:
  replays: 2
`))
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.TaskHub)
	assert.Equal(t, 1500*time.Millisecond, cfg.DisposeTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 2, cfg.Backend.Replays)
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("backend:\n  replays: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.TaskHub)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "taskscope", cfg.Metrics.Namespace)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"syntax":        "task_hub: [",
		"empty hub":     "task_hub: \"\"",
		"log level":     "log:\n  level: loud",
		"negative":      "backend:\n  replays: -1",
		"metrics no ns": "metrics:\n  enabled: true\n  namespace: \"\"",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(raw))
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrCodeConfigInvalid))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("task_hub: billing\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "billing", cfg.TaskHub)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, HasCode(err, ErrCodeConfigInvalid))
}

func TestConfigNewLoggerWritesJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskHub = "orders"
	cfg.Log.Format = "json"
	cfg.Log.Level = "debug"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("worker ready handlers=%d", 3)

	out := buf.String()
	assert.Contains(t, out, "worker ready handlers=3")
	assert.Contains(t, out, "task_hub")
	assert.Contains(t, out, "orders")
}
