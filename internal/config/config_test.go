package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "node", cfg.Runtime.Command)
	assert.Equal(t, 5*time.Minute, cfg.Runtime.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Runtime.GracePeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.Runtime.KillDelay)
	assert.Equal(t, "http://localhost:11434", cfg.Model.Endpoint)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address, "the run API executes submitted code, so it binds to loopback by default")
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Server.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Server.Metrics.Path)
}

func TestParse(t *testing.T) {
	doc := `
runtime:
  command: "${BLOCKFLOW_NODE:node}"
  timeout: ${BLOCKFLOW_TIMEOUT:90s}
  eventBuffer: ${BLOCKFLOW_BUFFER}
snapshot:
  packages: [lodash]
model:
  model: llama3
server:
  metrics:
    enabled: ${BLOCKFLOW_METRICS:false}
log:
  format: json
`
	cfg, err := Parse([]byte(doc), lookupFrom(map[string]string{"BLOCKFLOW_BUFFER": "16", "BLOCKFLOW_METRICS": "true"}))
	require.NoError(t, err)

	assert.Equal(t, "node", cfg.Runtime.Command)
	assert.Equal(t, 90*time.Second, cfg.Runtime.Timeout)
	assert.Equal(t, 16, cfg.Runtime.EventBuffer)
	assert.Equal(t, 2*time.Second, cfg.Runtime.GracePeriod)
	assert.Equal(t, []string{"lodash"}, cfg.Snapshot.Packages)
	assert.Equal(t, "llama3", cfg.Model.Model)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Server.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Server.Metrics.Path)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"missing variable": "runtime:\n  command: ${BLOCKFLOW_UNSET_VAR}\n",
		"bad format":       "log:\n  format: xml\n",
		"blank command":    "runtime:\n  command: '   '\n",
		"bad endpoint":     "model:\n  endpoint: not a url\n",
		"bad address":      "server:\n  address: localhost\n",
		"bad yaml":         "runtime: [",
		"relative metrics": "server:\n  metrics:\n    path: metrics\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), lookupFrom(nil))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	t.Run("Should read an explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blockflow.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  address: 127.0.0.1:9090\n"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address)
	})

	t.Run("Should fail on a missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("Should default when the implicit file is absent", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}
