package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/kotoba/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 32*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	assert.False(t, cfg.IsDevelopment())
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "gm-test-123")

	path := writeConfig(t, `
listen: ":9090"
environment: development
db_path: "test.db"
upstream:
  api_key: ${TEST_GEMINI_KEY}
  timeout: 30s
retry:
  max_retries: 5
routes:
  identify:
    model: gemini-2.0-pro
    retry:
      max_retries: 1
      initial_delay: 500ms
cache:
  enabled: true
  max_entries: 50
  ttl: 30m
  coalesce: true
server:
  api_keys: ["client-a"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "gm-test-123", cfg.APIKey())
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 32*time.Second, cfg.Retry.MaxDelay, "unset fields keep defaults")
	assert.Equal(t, "gemini-2.0-pro", cfg.Routes[models.OpIdentify].Model)
	require.NotNil(t, cfg.Routes[models.OpIdentify].Retry.MaxRetries)
	assert.Equal(t, 1, *cfg.Routes[models.OpIdentify].Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Routes[models.OpIdentify].Retry.InitialDelay)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Coalesce)
	assert.Equal(t, []string{"client-a"}, cfg.Server.APIKeys)
	assert.Equal(t, 10<<20, cfg.Server.MaxImageBytes)
}

func TestLoadRouteWithoutRetries(t *testing.T) {
	path := writeConfig(t, `
routes:
  identify:
    retry:
      max_retries: 0
  analyze:
    model: gemini-2.0-pro
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	identify := cfg.Routes[models.OpIdentify].Retry
	require.NotNil(t, identify.MaxRetries)
	assert.Equal(t, 0, identify.Apply(cfg.Retry).MaxRetries)
	assert.Nil(t, cfg.Routes[models.OpAnalyze].Retry.MaxRetries)
	assert.Equal(t, 3, cfg.Routes[models.OpAnalyze].Retry.Apply(cfg.Retry).MaxRetries)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "kotoba.env")
	require.NoError(t, os.WriteFile(envPath, []byte("KOTOBA_TEST_DOTENV_KEY=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("KOTOBA_TEST_DOTENV_KEY") })

	path := writeConfig(t, `
env_files: ["`+envPath+`"]
upstream:
  api_key: ${KOTOBA_TEST_DOTENV_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Upstream.APIKey)
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	cfg := Default()
	assert.Equal(t, "from-env", cfg.APIKey())

	cfg.Upstream.APIKey = "explicit"
	assert.Equal(t, "explicit", cfg.APIKey())
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"environment": "environment: staging\n",
		"retry":       "retry:\n  backoff_multiplier: 0.5\n",
		"cache size":  "cache:\n  enabled: true\n  max_entries: 0\n",
		"route":       "routes:\n  summarize:\n    model: x\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
