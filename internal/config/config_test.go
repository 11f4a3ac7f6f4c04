package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://127.0.0.1:8000/api", cfg.Backend.BaseURL)
	assert.Empty(t, cfg.Backend.WSURL)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "linear", cfg.Retry.Backoff)
	assert.Equal(t, 3*time.Second, cfg.Link.ReconnectDelay)
	assert.Equal(t, 100, cfg.Store.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Poll.Monitor)
	assert.Equal(t, 30*time.Second, cfg.Poll.Logs)
	assert.Equal(t, 30*time.Second, cfg.Poll.Stats)
	assert.Equal(t, 24, cfg.Poll.LogHours)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_WithConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "decoywatch.yaml")
	content := `backend:
  base_url: https://decoy.example.com/api
  timeout: 2s
retry:
  attempts: 5
  backoff: exponential
store:
  capacity: 250
poll:
  monitor: 0s
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://decoy.example.com/api", cfg.Backend.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, "exponential", cfg.Retry.Backoff)
	assert.Equal(t, 250, cfg.Store.Capacity)
	assert.Zero(t, cfg.Poll.Monitor)
	assert.Equal(t, 30*time.Second, cfg.Poll.Logs, "unset keys keep their defaults")
}

func TestLoad_WithEnvironmentOverrides(t *testing.T) {
	t.Setenv("DECOYWATCH_BACKEND_BASE_URL", "http://env-backend:9000/api")
	t.Setenv("DECOYWATCH_STORE_CAPACITY", "42")
	t.Setenv("DECOYWATCH_LINK_RECONNECT_DELAY", "750ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://env-backend:9000/api", cfg.Backend.BaseURL)
	assert.Equal(t, 42, cfg.Store.Capacity)
	assert.Equal(t, 750*time.Millisecond, cfg.Link.ReconnectDelay)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DECOYWATCH_LOG_LEVEL=debug\n"), 0600))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("DECOYWATCH_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Backend.BaseURL = "not a url"
	cfg.Backend.WSURL = "http://wrong-scheme"
	cfg.Retry.Attempts = 0
	cfg.Retry.Backoff = "fibonacci"
	cfg.Store.Capacity = 0
	cfg.Link.ReconnectDelay = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"backend.base_url", "backend.ws_url", "retry.attempts", "retry.backoff", "store.capacity", "link.reconnect_delay"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestYAML(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "http://127.0.0.1:8000/api", doc["backend"]["base_url"])
	assert.Equal(t, "3s", doc["link"]["reconnect_delay"])
	assert.Equal(t, 100, doc["store"]["capacity"])
}
