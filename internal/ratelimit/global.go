package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// GlobalLimiter applies a service-wide token bucket per caller key.
// The key is the API-key hash when present, otherwise the client IP.
type GlobalLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewGlobalLimiter creates a keyed token-bucket limiter.
func NewGlobalLimiter(rps float64, burst int) *GlobalLimiter {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &GlobalLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (g *GlobalLimiter) limiter(key string) *rate.Limiter {
	g.mu.RLock()
	l, ok := g.limiters[key]
	g.mu.RUnlock()
	if ok {
		return l
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(g.rps), g.burst)
	g.limiters[key] = l
	return l
}

// Allow reports whether the caller identified by key may proceed.
func (g *GlobalLimiter) Allow(key string) bool {
	if g.rps <= 0 {
		return true
	}
	return g.limiter(key).Allow()
}

// Reset drops all per-key buckets.
func (g *GlobalLimiter) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiters = make(map[string]*rate.Limiter)
}
