// Package ratelimit provides the three admission layers of the service:
// per-origin multi-tier token buckets, per-tenant sliding windows, and a
// global token bucket keyed by credential or client address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TierConfig configures one bucket tier (per second, minute, or hour).
// Capacity 0 disables the tier.
type TierConfig struct {
	Capacity int `yaml:"capacity"`
	Burst    int `yaml:"burst"`
}

// OriginConfig configures the per-origin limiter tiers.
type OriginConfig struct {
	PerSecond TierConfig `yaml:"per_second"`
	PerMinute TierConfig `yaml:"per_minute"`
	PerHour   TierConfig `yaml:"per_hour"`
}

// DefaultOriginConfig matches polite-crawler defaults.
func DefaultOriginConfig() OriginConfig {
	return OriginConfig{
		PerSecond: TierConfig{Capacity: 2, Burst: 4},
		PerMinute: TierConfig{Capacity: 30},
		PerHour:   TierConfig{Capacity: 500},
	}
}

type originBuckets struct {
	tiers []*rate.Limiter
}

// OriginLimiter admits a request only when every configured tier for the
// origin has at least one token.
type OriginLimiter struct {
	mu      sync.RWMutex
	cfg     OriginConfig
	origins map[string]*originBuckets
}

// NewOriginLimiter creates a limiter with the given tier configuration.
func NewOriginLimiter(cfg OriginConfig) *OriginLimiter {
	return &OriginLimiter{
		cfg:     cfg,
		origins: make(map[string]*originBuckets),
	}
}

func newTier(c TierConfig, interval time.Duration) *rate.Limiter {
	if c.Capacity <= 0 {
		return nil
	}
	burst := c.Burst
	if burst <= 0 {
		burst = c.Capacity
	}
	return rate.NewLimiter(rate.Limit(float64(c.Capacity)/interval.Seconds()), burst)
}

func (l *OriginLimiter) buckets(origin string) *originBuckets {
	l.mu.RLock()
	b, ok := l.origins[origin]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok := l.origins[origin]; ok {
		return b
	}

	b = &originBuckets{}
	for _, t := range []*rate.Limiter{
		newTier(l.cfg.PerSecond, time.Second),
		newTier(l.cfg.PerMinute, time.Minute),
		newTier(l.cfg.PerHour, time.Hour),
	} {
		if t != nil {
			b.tiers = append(b.tiers, t)
		}
	}
	l.origins[origin] = b
	return b
}

// Allow consumes one token from every tier if all of them have capacity.
func (l *OriginLimiter) Allow(origin string) bool {
	b := l.buckets(origin)
	reservations := make([]*rate.Reservation, 0, len(b.tiers))
	for _, t := range b.tiers {
		r := t.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			for _, prev := range reservations {
				prev.Cancel()
			}
			return false
		}
		reservations = append(reservations, r)
	}
	return true
}

// WaitForClearance blocks until all tiers admit a request or the context
// is cancelled. It sleeps the minimum gap among throttled tiers and
// re-checks, so a freed-up tier is observed promptly.
func (l *OriginLimiter) WaitForClearance(ctx context.Context, origin string) error {
	b := l.buckets(origin)
	for {
		var minDelay time.Duration
		reservations := make([]*rate.Reservation, 0, len(b.tiers))
		admitted := true
		for _, t := range b.tiers {
			r := t.Reserve()
			if !r.OK() {
				r.Cancel()
				admitted = false
				minDelay = maxReservationDelay
				break
			}
			if d := r.Delay(); d > 0 {
				r.Cancel()
				admitted = false
				if minDelay == 0 || d < minDelay {
					minDelay = d
				}
				continue
			}
			reservations = append(reservations, r)
		}
		if admitted {
			return nil
		}
		for _, r := range reservations {
			r.Cancel()
		}

		timer := time.NewTimer(minDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

const maxReservationDelay = 5 * time.Second

// Reset drops all origin buckets.
func (l *OriginLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.origins = make(map[string]*originBuckets)
}
