package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Upstream.BaseURL = "https://cafe.example.com"
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tillguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingBaseURL(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "base_url")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero cap", func(c *Config) { c.Exposure.Cap = 0 }, "cap"},
		{"negative cap", func(c *Config) { c.Exposure.Cap = -100 }, "cap"},
		{"warn over 100", func(c *Config) { c.Exposure.WarnPercent = 120 }, "warn_percent"},
		{"relative path", func(c *Config) { c.Upstream.MenuPath = "api/menu" }, "menu_path"},
		{"bad scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://cafe" }, "base_url"},
		{"unknown level", func(c *Config) { c.Log.Level = "verbose" }, "level"},
		{"zero order interval", func(c *Config) { c.Agent.OrderInterval = 0 }, "order_interval"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "path"},
		{"timeout not below interval", func(c *Config) { c.Heartbeat.Timeout = c.Heartbeat.Interval }, "heartbeat.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Exposure.Cap = 0
	cfg.Heartbeat.Timeout = time.Minute

	err := cfg.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Problems), 2)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
upstream:
  base_url: https://cafe.example.com
  api_key: secret
heartbeat:
  interval: 30s
exposure:
  cap: 15000
`)

	cfg, err := load(path, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "https://cafe.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "secret", cfg.Upstream.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Timeout, "unset keys keep their default")
	assert.Equal(t, int64(15000), cfg.Exposure.Cap)
	assert.Equal(t, int64(90), cfg.Exposure.WarnPercent)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
upstream:
  base_url: https://file.example.com
exposure:
  cap: 15000
`)

	cfg, err := load(path, map[string]string{
		"TILLGUARD_UPSTREAM_BASE_URL": "https://env.example.com",
		"TILLGUARD_EXPOSURE_CAP":      "5000",
		"TILLGUARD_REDIS_ADDR":        "localhost:6379",
		"TILLGUARD_LOG_LEVEL":         "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, int64(5000), cfg.Exposure.Cap)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoad_EnvOnly(t *testing.T) {
	cfg, err := load("", map[string]string{
		"TILLGUARD_UPSTREAM_BASE_URL":    "http://10.0.0.2:3000",
		"TILLGUARD_HEARTBEAT_INTERVAL":   "20s",
		"TILLGUARD_AGENT_ORDER_CAPACITY": "10",
	})
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 10, cfg.Agent.OrderPolicy().Capacity)
	assert.Equal(t, "order", cfg.Agent.OrderPolicy().Name)
}

func TestLoad_Errors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.Error(t, err)

	path := writeFile(t, "upstream:\n  base_urll: https://typo.example.com\n")
	_, err = load(path, map[string]string{})
	assert.Error(t, err, "unknown keys are rejected")

	_, err = load("", map[string]string{"TILLGUARD_EXPOSURE_CAP": "lots"})
	assert.Error(t, err)

	_, err = load("", map[string]string{})
	assert.ErrorIs(t, err, ErrInvalid, "a missing base url is a configuration error")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "")
	cfg, err := load(path, map[string]string{"TILLGUARD_UPSTREAM_BASE_URL": "https://cafe.example.com"})
	require.NoError(t, err)
	assert.Equal(t, Default().Exposure, cfg.Exposure)
}

func TestUpstreamConfig(t *testing.T) {
	cfg := validConfig()
	uc := cfg.UpstreamConfig()

	assert.Equal(t, cfg.Upstream.BaseURL, uc.BaseURL)
	assert.Equal(t, "/api/orders", uc.OrdersPath)
	assert.Equal(t, cfg.Upstream.RequestTimeout, uc.RequestTimeout)
}

func TestLog_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, Log{Level: "info"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, Log{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, Log{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{}.SlogLevel())
}
