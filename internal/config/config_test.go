package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "distill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Quota.Enabled)
	assert.True(t, cfg.Marketplace.Ebay.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  tier_limits:
    free: 10
    pro: 100
logging:
  level: debug
fetch:
  user_agent: "custombot/2.0"
crawl:
  max_depth: 3
  max_pages: 200
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "custombot/2.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 3, cfg.Crawl.MaxDepth)
	assert.Equal(t, 200, cfg.Crawl.MaxPages)
	assert.Equal(t, 10, cfg.Server.TierLimits["free"])
	// Untouched sections keep their defaults.
	assert.True(t, cfg.Robots.Respect)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISTILL_LISTEN_ADDR", ":7070")
	t.Setenv("DISTILL_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"quota without redis", func(c *Config) { c.Quota.Enabled = true; c.Quota.Limit = 100 }},
		{"quota without limit", func(c *Config) {
			c.Quota.Enabled = true
			c.Redis.Enabled = true
			c.Redis.Addr = "localhost:6379"
			c.Quota.Limit = 0
		}},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }},
		{"database without dsn", func(c *Config) { c.Database.Enabled = true }},
		{"llm without endpoint", func(c *Config) { c.Distill.LLM.Enabled = true }},
		{"auth without keys", func(c *Config) { c.Auth.Enabled = true }},
		{"zero tier limit", func(c *Config) { c.Server.TierLimits = map[string]int{"free": 0} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
		})
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
