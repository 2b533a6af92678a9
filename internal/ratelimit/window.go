package ratelimit

import (
	"math"
	"sync"
	"time"
)

// SlidingWindow enforces per-tenant burst limits over a fixed window.
// Timestamps are pruned on read; updates for one tenant are serialized.
type SlidingWindow struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	tenants map[string][]time.Time
}

// NewSlidingWindow creates a 60-second window limiter. The clock is
// injectable for tests.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		window:  window,
		now:     time.Now,
		tenants: make(map[string][]time.Time),
	}
}

// SetClock overrides the time source. Test hook.
func (w *SlidingWindow) SetClock(now func() time.Time) { w.now = now }

// Allow records a request for tenant if fewer than limit requests were
// admitted within the window. When denied it returns the Retry-After
// duration: the ceiling of the oldest timestamp's expiry.
func (w *SlidingWindow) Allow(tenant string, limit int) (bool, time.Duration) {
	if limit <= 0 {
		return true, 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	stamps := w.tenants[tenant]
	pruned := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= limit {
		w.tenants[tenant] = pruned
		oldest := pruned[0]
		retry := oldest.Add(w.window).Sub(now)
		secs := math.Ceil(retry.Seconds())
		if secs < 1 {
			secs = 1
		}
		return false, time.Duration(secs) * time.Second
	}

	w.tenants[tenant] = append(pruned, now)
	return true, 0
}

// Count returns the number of admitted requests currently in the window.
func (w *SlidingWindow) Count(tenant string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.window)
	n := 0
	for _, ts := range w.tenants[tenant] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset clears all tenant windows.
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tenants = make(map[string][]time.Time)
}
