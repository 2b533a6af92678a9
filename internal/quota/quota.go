// Package quota enforces monthly per-tenant usage quotas against a
// shared counter store. Store failures fail open: the request is
// admitted and a warning logged, because losing quota accounting must
// never take the API down.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
)

// Store is the monthly counter backend.
type Store interface {
	// Increment bumps the tenant's counter for the current month and
	// returns the value after the increment.
	Increment(ctx context.Context, tenant string) (int64, error)
	// ResetTime returns when the current quota period ends.
	ResetTime(now time.Time) time.Time
}

// Config controls quota enforcement.
type Config struct {
	Enabled bool  `yaml:"enabled"`
	Limit   int64 `yaml:"limit"`
}

// DefaultConfig returns quotas disabled.
func DefaultConfig() Config {
	return Config{Enabled: false, Limit: 10000}
}

// Result reports the quota state after a check.
type Result struct {
	Allowed   bool
	Used      int64
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Manager applies the configured limit against the store.
type Manager struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// NewManager creates a quota manager. store may be nil when disabled.
func NewManager(cfg Config, store Store) *Manager {
	return &Manager{cfg: cfg, store: store, now: time.Now}
}

// Check increments the tenant's usage and decides admission. Overage
// returns a quota_exceeded error alongside the populated result so
// callers can still set the quota headers.
func (m *Manager) Check(ctx context.Context, tenant string) (Result, error) {
	if !m.cfg.Enabled || m.store == nil {
		return Result{Allowed: true, Limit: m.cfg.Limit, Remaining: m.cfg.Limit}, nil
	}

	now := m.now().UTC()
	reset := m.store.ResetTime(now)

	used, err := m.store.Increment(ctx, tenant)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Msg("quota store unavailable, failing open")
		return Result{Allowed: true, Limit: m.cfg.Limit, Remaining: m.cfg.Limit, Reset: reset}, nil
	}

	res := Result{
		Used:      used,
		Limit:     m.cfg.Limit,
		Remaining: m.cfg.Limit - used,
		Reset:     reset,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if used > m.cfg.Limit {
		return res, apperr.New(apperr.CodeQuotaExceeded, "monthly quota exceeded").
			WithDetail("limit", m.cfg.Limit).
			WithDetail("reset", reset.Format(time.RFC3339))
	}
	res.Allowed = true
	return res, nil
}

// RetryAfter returns whole seconds until the quota resets, minimum 1.
func RetryAfter(reset, now time.Time) int {
	if now.IsZero() {
		now = time.Now()
	}
	secs := int(reset.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RedisStore keeps one counter per tenant per calendar month.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "distill:quota:"}
}

func (s *RedisStore) key(tenant string, now time.Time) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, tenant, now.UTC().Format("2006-01"))
}

// Increment INCRs the monthly key, setting its expiry past month end on
// first use.
func (s *RedisStore) Increment(ctx context.Context, tenant string) (int64, error) {
	now := time.Now().UTC()
	key := s.key(tenant, now)

	used, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if used == 1 {
		ttl := s.ResetTime(now).Sub(now) + 24*time.Hour
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to set quota key expiry")
		}
	}
	return used, nil
}

// ResetTime is midnight UTC on the first of the next month.
func (s *RedisStore) ResetTime(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
