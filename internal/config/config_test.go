package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolwatcher/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
labcom:
  token: test-token
  min_request_spacing: 45s
  cache_ttl: 20s
scheduler:
  interval: 10m
alerting:
  enabled: true
  combined_chlorine_max: 0.8
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.Labcom.Token)
	assert.Equal(t, 45*time.Second, cfg.Labcom.MinRequestSpacing)
	assert.Equal(t, 20*time.Second, cfg.Labcom.CacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Alerting.Enabled)
	assert.InDelta(t, 0.8, cfg.Alerting.CombinedChlorineMax, 1e-9)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
labcom:
  token: test-token
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "poolwatcher", cfg.App.Name)
	assert.Equal(t, "https://backend.labcom.cloud/graphql", cfg.Labcom.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Labcom.MinRequestSpacing)
	assert.Equal(t, 60*time.Second, cfg.Labcom.RateLimitCooldown)
	assert.Equal(t, 3, cfg.Labcom.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Labcom.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.Alerting.Enabled)
	assert.Equal(t, 100000, cfg.Export.MaxDataPoints)
}

func TestMissingTokenRejected(t *testing.T) {
	path := writeConfig(t, `
app:
  name: poolwatcher
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labcom.token")
}

func TestTelegramRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `
labcom:
  token: test-token
alerting:
  telegram:
    enabled: true
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.bot_token")
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &config.Config{Export: config.ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 42, cfg.ResolveMaxPoints(42))
}
