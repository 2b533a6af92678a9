// Package config loads and validates the service configuration from
// YAML with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/auth"
	"github.com/distillhq/distill/internal/browser"
	"github.com/distillhq/distill/internal/cache"
	"github.com/distillhq/distill/internal/circuit"
	"github.com/distillhq/distill/internal/crawl"
	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/fetch"
	"github.com/distillhq/distill/internal/httpapi"
	"github.com/distillhq/distill/internal/marketplace"
	"github.com/distillhq/distill/internal/pipeline"
	"github.com/distillhq/distill/internal/quota"
	"github.com/distillhq/distill/internal/ratelimit"
	"github.com/distillhq/distill/internal/robots"
)

// Logging controls the zerolog output.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Redis switches the shared Redis backend for the remote cache tier and
// the quota store.
type Redis struct {
	Enabled bool `yaml:"enabled"`
	cache.RedisConfig `yaml:",inline"`
}

// Cache sizes the in-process tier.
type Cache struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

// RateLimit groups the three limiter layers.
type RateLimit struct {
	Origin      ratelimit.OriginConfig `yaml:"origin"`
	GlobalRPS   float64                `yaml:"global_rps"`
	GlobalBurst int                    `yaml:"global_burst"`
}

// Database is the optional Postgres backend for backfill sources, sinks,
// and checkpoints.
type Database struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

// Marketplace holds per-adapter settings.
type Marketplace struct {
	Ebay marketplace.AdapterConfig `yaml:"ebay"`
}

// Config is the full service configuration.
type Config struct {
	Server      httpapi.Config  `yaml:"server"`
	Logging     Logging         `yaml:"logging"`
	Auth        auth.Config     `yaml:"auth"`
	Quota       quota.Config    `yaml:"quota"`
	Redis       Redis           `yaml:"redis"`
	Cache       Cache           `yaml:"cache"`
	Fetch       fetch.Config    `yaml:"fetch"`
	Robots      robots.Config   `yaml:"robots"`
	RateLimit   RateLimit       `yaml:"rate_limit"`
	Circuit     circuit.Config  `yaml:"circuit"`
	Browser     browser.Config  `yaml:"browser"`
	Distill     distill.Config  `yaml:"distill"`
	Pipeline    pipeline.Config `yaml:"pipeline"`
	Crawl       crawl.Options   `yaml:"crawl"`
	Marketplace Marketplace     `yaml:"marketplace"`
	Database    Database        `yaml:"database"`
}

// Default returns the configuration the service runs with when no file
// is given.
func Default() Config {
	return Config{
		Server:  httpapi.DefaultConfig(),
		Logging: Logging{Level: "info"},
		Auth:    auth.DefaultConfig(),
		Quota:   quota.DefaultConfig(),
		Cache:   Cache{MaxEntries: 1024, MaxBytes: 64 << 20},
		Fetch:   fetch.DefaultConfig(),
		Robots:  robots.DefaultConfig(),
		RateLimit: RateLimit{
			Origin:      ratelimit.DefaultOriginConfig(),
			GlobalRPS:   50,
			GlobalBurst: 100,
		},
		Circuit:  circuit.DefaultConfig(),
		Browser:  browser.DefaultConfig(),
		Distill:  distill.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Crawl:    crawl.DefaultOptions(),
		Marketplace: Marketplace{
			Ebay: marketplace.AdapterConfig{
				Enabled:          true,
				RateLimitPerMin:  30,
				TermsCompliant:   true,
				DefaultFreshness: marketplace.FreshnessSnapshot,
			},
		},
		Database: Database{Driver: "postgres"},
	}
}

// Load reads the YAML file at path (when non-empty) over the defaults,
// applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, apperr.Wrap(apperr.CodeValidationError, "read config "+path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, apperr.Wrap(apperr.CodeValidationError, "parse config "+path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets deployments override the values that differ per
// environment without editing the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DISTILL_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DISTILL_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DISTILL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DISTILL_DB_DSN"); v != "" {
		cfg.Database.Enabled = true
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DISTILL_BROWSER_URL"); v != "" {
		cfg.Browser.Enabled = true
		cfg.Browser.DebuggerURL = v
	}
	if v := os.Getenv("DISTILL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DISTILL_GLOBAL_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps > 0 {
			cfg.RateLimit.GlobalRPS = rps
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.BodyLimit < 0 {
		problems = append(problems, "server.body_limit must not be negative")
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not a zerolog level", c.Logging.Level))
	}
	if c.Quota.Enabled {
		if c.Quota.Limit <= 0 {
			problems = append(problems, "quota.limit must be positive when quota is enabled")
		}
		if !c.Redis.Enabled {
			problems = append(problems, "quota requires redis to be enabled")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required when database is enabled")
	}
	if c.Browser.Enabled && c.Browser.MaxPages < 0 {
		problems = append(problems, "browser.max_pages must not be negative")
	}
	if c.Distill.LLM.Enabled && c.Distill.LLM.Endpoint == "" {
		problems = append(problems, "distill.llm.endpoint is required when the llm extractor is enabled")
	}
	if c.Auth.Enabled && len(c.Auth.Keys) == 0 && !c.Auth.DevBypass {
		problems = append(problems, "auth.keys must not be empty when auth is enabled")
	}
	for tier, limit := range c.Server.TierLimits {
		if limit <= 0 {
			problems = append(problems, fmt.Sprintf("server.tier_limits.%s must be positive", tier))
		}
	}

	if len(problems) > 0 {
		err := apperr.New(apperr.CodeValidationError, "invalid configuration")
		return err.WithDetail("problems", problems)
	}
	return nil
}
