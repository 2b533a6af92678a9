package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
)

// Redis is the remote tier. When enabled it is authoritative across
// processes; entries are stored as JSON envelopes under a key prefix.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig configures the remote tier connection.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// NewRedis creates the remote tier. The connection is pooled and
// retried by the client itself.
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "distill:cache:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &Redis{client: client, keyPrefix: cfg.KeyPrefix, ttl: cfg.TTL}
}

// NewRedisWithClient wraps an existing client. Test hook.
func NewRedisWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *Redis {
	if keyPrefix == "" {
		keyPrefix = "distill:cache:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Get fetches and decodes the entry for key.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, apperr.Wrap(apperr.CodeCacheUnavailable, "redis get", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Corrupt envelope: treat as miss and drop it.
		log.Warn().Str("key", key).Err(err).Msg("dropping corrupt cache entry")
		_ = r.client.Del(ctx, r.keyPrefix+key).Err()
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set encodes and stores entry under key with the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, data, r.ttl).Err(); err != nil {
		return apperr.Wrap(apperr.CodeCacheUnavailable, "redis set", err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return apperr.Wrap(apperr.CodeCacheUnavailable, "redis del", err)
	}
	return nil
}

// Clear removes every key under the prefix using SCAN.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return apperr.Wrap(apperr.CodeCacheUnavailable, "redis clear", err)
		}
	}
	if err := iter.Err(); err != nil {
		return apperr.Wrap(apperr.CodeCacheUnavailable, "redis scan", err)
	}
	return nil
}

// Has reports whether key exists.
func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.keyPrefix+key).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.CodeCacheUnavailable, "redis exists", err)
	}
	return n > 0, nil
}

// Ping probes the connection for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
