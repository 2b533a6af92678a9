package marketplace

import (
	"context"
	"sync"
	"time"
)

// AdapterInfo is the static identity an adapter declares at registration.
type AdapterInfo struct {
	MarketplaceID string  `json:"marketplaceId"`
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	Channel       Channel `json:"channel"`
	Tier          int     `json:"tier"`
	// ConfidenceRange bounds the confidence this adapter can emit.
	ConfidenceMin      float64 `json:"confidenceMin"`
	ConfidenceMax      float64 `json:"confidenceMax"`
	RequiresUserAction bool    `json:"requiresUserAction"`
}

// AdapterConfig is the runtime-tunable part of an adapter. Updates take
// effect on the next request.
type AdapterConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	RateLimitPerMin  int           `json:"rateLimitPerMin" yaml:"rate_limit_per_min"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	UserConsented    bool          `json:"userConsented" yaml:"user_consented"`
	TermsCompliant   bool          `json:"termsCompliant" yaml:"terms_compliant"`
	DefaultFreshness Freshness     `json:"defaultFreshness" yaml:"default_freshness"`
}

// ExtractOptions are per-call extraction knobs.
type ExtractOptions struct {
	// IncludeImages keeps image URLs on the listing.
	IncludeImages bool
}

// Adapter extracts normalized listings for one marketplace.
type Adapter interface {
	Info() AdapterInfo
	CanHandle(url string) bool
	// Extract returns nil when the page holds no recognizable listing.
	Extract(ctx context.Context, content []byte, url string, opts ExtractOptions) (*Listing, error)
	IsAvailable() bool
	Validate(l *Listing) ValidationResult
}

// Health is a point-in-time view of an adapter's recent behavior.
type Health struct {
	Healthy       bool      `json:"healthy"`
	Successes     int64     `json:"successes"`
	Failures      int64     `json:"failures"`
	LastSuccess   time.Time `json:"lastSuccess,omitempty"`
	LastFailure   time.Time `json:"lastFailure,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	AvgConfidence float64   `json:"avgConfidence"`
}

// healthTracker accumulates per-adapter outcome counters.
type healthTracker struct {
	mu            sync.Mutex
	successes     int64
	failures      int64
	lastSuccess   time.Time
	lastFailure   time.Time
	lastError     string
	confidenceSum float64
}

func (h *healthTracker) recordSuccess(confidence float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes++
	h.confidenceSum += confidence
	h.lastSuccess = time.Now().UTC()
}

func (h *healthTracker) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastFailure = time.Now().UTC()
	if err != nil {
		h.lastError = err.Error()
	}
}

// snapshot reports health; an adapter is unhealthy after three straight
// failures with no success since.
func (h *healthTracker) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := Health{
		Successes:   h.successes,
		Failures:    h.failures,
		LastSuccess: h.lastSuccess,
		LastFailure: h.lastFailure,
		LastError:   h.lastError,
	}
	if h.successes > 0 {
		out.AvgConfidence = h.confidenceSum / float64(h.successes)
	}
	out.Healthy = h.failures < 3 || h.lastSuccess.After(h.lastFailure)
	return out
}
