package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginLimiter_AllTiersMustAdmit(t *testing.T) {
	cfg := OriginConfig{
		PerSecond: TierConfig{Capacity: 100},
		PerMinute: TierConfig{Capacity: 2},
	}
	l := NewOriginLimiter(cfg)

	assert.True(t, l.Allow("https://a.example"))
	assert.True(t, l.Allow("https://a.example"))
	// Minute tier exhausted even though the second tier has room.
	assert.False(t, l.Allow("https://a.example"))

	// Independent origin is unaffected.
	assert.True(t, l.Allow("https://b.example"))
}

func TestOriginLimiter_BurstOverride(t *testing.T) {
	cfg := OriginConfig{PerSecond: TierConfig{Capacity: 1, Burst: 3}}
	l := NewOriginLimiter(cfg)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("https://a.example"), "burst request %d", i)
	}
	assert.False(t, l.Allow("https://a.example"))
}

func TestOriginLimiter_WaitForClearance(t *testing.T) {
	cfg := OriginConfig{PerSecond: TierConfig{Capacity: 20, Burst: 1}}
	l := NewOriginLimiter(cfg)

	require.True(t, l.Allow("https://a.example"))

	start := time.Now()
	err := l.WaitForClearance(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestOriginLimiter_WaitRespectsContext(t *testing.T) {
	cfg := OriginConfig{PerHour: TierConfig{Capacity: 1, Burst: 1}}
	l := NewOriginLimiter(cfg)
	require.True(t, l.Allow("https://a.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WaitForClearance(ctx, "https://a.example")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlidingWindow_TierLimit(t *testing.T) {
	w := NewSlidingWindow(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	w.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		ok, _ := w.Allow("tenant-a", 5)
		require.True(t, ok, "request %d within limit", i)
	}

	ok, retry := w.Allow("tenant-a", 5)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, retry, time.Second, "Retry-After must be at least 1s")

	// Window slides: after 61s the oldest stamps expire.
	now = now.Add(61 * time.Second)
	ok, _ = w.Allow("tenant-a", 5)
	assert.True(t, ok)
}

func TestSlidingWindow_NeverExceedsLimitWithinWindow(t *testing.T) {
	w := NewSlidingWindow(time.Minute)
	base := time.Unix(1_700_000_000, 0)
	now := base
	w.SetClock(func() time.Time { return now })

	admitted := 0
	for i := 0; i < 200; i++ {
		now = base.Add(time.Duration(i) * 100 * time.Millisecond) // 20s span
		if ok, _ := w.Allow("t", 7); ok {
			admitted++
		}
	}
	assert.Equal(t, 7, admitted)
}

func TestSlidingWindow_TenantsIsolated(t *testing.T) {
	w := NewSlidingWindow(time.Minute)
	ok, _ := w.Allow("a", 1)
	require.True(t, ok)
	ok, _ = w.Allow("a", 1)
	require.False(t, ok)
	ok, _ = w.Allow("b", 1)
	assert.True(t, ok)
}

func TestGlobalLimiter_KeyedBuckets(t *testing.T) {
	g := NewGlobalLimiter(1, 2)

	assert.True(t, g.Allow("key1"))
	assert.True(t, g.Allow("key1"))
	assert.False(t, g.Allow("key1"))
	assert.True(t, g.Allow("key2"))
}

func TestGlobalLimiter_DisabledWhenZero(t *testing.T) {
	g := NewGlobalLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, g.Allow("k"))
	}
}
