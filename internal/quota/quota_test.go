package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func redisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestCheck_UnderLimit(t *testing.T) {
	m := NewManager(Config{Enabled: true, Limit: 3}, redisStore(t))

	for i := int64(1); i <= 3; i++ {
		res, err := m.Check(context.Background(), "tenant-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Used)
		assert.Equal(t, int64(3)-i, res.Remaining)
	}
}

func TestCheck_OverLimit(t *testing.T) {
	m := NewManager(Config{Enabled: true, Limit: 1000}, redisStore(t))

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		_, err := m.Check(ctx, "tenant-b")
		require.NoError(t, err)
	}

	res, err := m.Check(ctx, "tenant-b")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeQuotaExceeded, apperr.CodeOf(err))
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)

	// Reset is the first of next month, UTC midnight.
	assert.Equal(t, 1, res.Reset.Day())
	assert.Equal(t, time.UTC, res.Reset.Location())
	assert.True(t, res.Reset.After(time.Now()))
	assert.Equal(t, 0, res.Reset.Hour())
}

func TestCheck_TenantsIsolated(t *testing.T) {
	m := NewManager(Config{Enabled: true, Limit: 1}, redisStore(t))

	ctx := context.Background()
	_, err := m.Check(ctx, "a")
	require.NoError(t, err)
	_, err = m.Check(ctx, "a")
	require.Error(t, err)

	res, err := m.Check(ctx, "b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheck_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false, Limit: 1}, nil)
	for i := 0; i < 5; i++ {
		res, err := m.Check(context.Background(), "any")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

type failingStore struct{}

func (failingStore) Increment(ctx context.Context, tenant string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (failingStore) ResetTime(now time.Time) time.Time { return now.Add(time.Hour) }

func TestCheck_StoreFailureFailsOpen(t *testing.T) {
	m := NewManager(Config{Enabled: true, Limit: 1}, failingStore{})
	for i := 0; i < 3; i++ {
		res, err := m.Check(context.Background(), "t")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	reset := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int(reset.Sub(now).Seconds()), RetryAfter(reset, now))
	assert.Equal(t, 1, RetryAfter(now.Add(-time.Hour), now))
}

func TestRedisStore_ResetTimeYearRollover(t *testing.T) {
	s := &RedisStore{}
	dec := time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), s.ResetTime(dec))
}
