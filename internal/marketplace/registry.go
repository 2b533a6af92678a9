package marketplace

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/circuit"
)

// Registry routes URLs to adapters and tracks per-adapter outcomes.
// Registration order decides routing: the first enabled adapter whose
// CanHandle accepts the URL wins.
type Registry struct {
	mu       sync.RWMutex
	entries  []*entry
	byID     map[string]*entry
	breakers *circuit.Manager
}

type entry struct {
	adapter Adapter
	config  AdapterConfig
	health  *healthTracker
}

// NewRegistry creates an empty registry. breakers may be nil.
func NewRegistry(breakers *circuit.Manager) *Registry {
	return &Registry{
		byID:     make(map[string]*entry),
		breakers: breakers,
	}
}

// Register adds an adapter with its initial config. Re-registering an
// existing marketplace ID replaces the adapter and resets its health.
func (r *Registry) Register(a Adapter, cfg AdapterConfig) {
	id := a.Info().MarketplaceID
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{adapter: a, config: cfg, health: &healthTracker{}}
	if old, ok := r.byID[id]; ok {
		for i, ex := range r.entries {
			if ex == old {
				r.entries[i] = e
				break
			}
		}
	} else {
		r.entries = append(r.entries, e)
	}
	r.byID[id] = e
	log.Info().Str("marketplace", id).Str("channel", string(a.Info().Channel)).
		Int("tier", a.Info().Tier).Msg("adapter registered")
}

// UpdateConfig replaces an adapter's runtime config; it applies to the
// next request.
func (r *Registry) UpdateConfig(marketplaceID string, cfg AdapterConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[marketplaceID]
	if !ok {
		return apperr.Newf(apperr.CodeValidationError, "unknown marketplace %q", marketplaceID)
	}
	e.config = cfg
	return nil
}

// Remove unregisters an adapter.
func (r *Registry) Remove(marketplaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[marketplaceID]
	if !ok {
		return
	}
	delete(r.byID, marketplaceID)
	for i, ex := range r.entries {
		if ex == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
}

// AdapterForURL returns the first enabled adapter that claims the URL,
// or nil.
func (r *Registry) AdapterForURL(url string) Adapter {
	if e := r.entryForURL(url); e != nil {
		return e.adapter
	}
	return nil
}

func (r *Registry) entryForURL(url string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.config.Enabled && e.adapter.CanHandle(url) && e.adapter.IsAvailable() {
			return e
		}
	}
	return nil
}

// Extract routes the URL, runs the adapter through its breaker, records
// the outcome, and validates the listing.
func (r *Registry) Extract(ctx context.Context, content []byte, url string, opts ExtractOptions) (*Listing, error) {
	e := r.entryForURL(url)
	if e == nil {
		return nil, ErrNoAdapter(url)
	}
	return r.extractVia(ctx, e, content, url, opts)
}

func (r *Registry) extractVia(ctx context.Context, e *entry, content []byte, url string, opts ExtractOptions) (*Listing, error) {
	info := e.adapter.Info()

	run := func() (any, error) { return e.adapter.Extract(ctx, content, url, opts) }

	var result any
	var err error
	if r.breakers != nil {
		result, err = r.breakers.Execute("adapter:"+info.MarketplaceID, run)
	} else {
		result, err = run()
	}
	if err != nil {
		e.health.recordFailure(err)
		return nil, err
	}

	listing, _ := result.(*Listing)
	if listing == nil {
		e.health.recordFailure(nil)
		return nil, apperr.Newf(apperr.CodeExtractionFailed, "adapter %q found no listing", info.MarketplaceID).
			WithDetail("url", url)
	}

	if v := e.adapter.Validate(listing); !v.Valid {
		e.health.recordFailure(apperr.New(apperr.CodeValidationError, "listing failed validation").
			WithDetail("errors", v.Errors))
		return nil, apperr.New(apperr.CodeExtractionFailed, "adapter produced an invalid listing").
			WithDetail("errors", v.Errors)
	}

	e.health.recordSuccess(listing.Confidence)
	return listing, nil
}

// ExtractWithProvenance extracts a listing and stamps channel, tier, and
// compliance metadata from the adapter's declaration and config.
func (r *Registry) ExtractWithProvenance(ctx context.Context, content []byte, url string, opts ExtractOptions) (*Listing, *Provenance, error) {
	e := r.entryForURL(url)
	if e == nil {
		return nil, nil, ErrNoAdapter(url)
	}

	listing, err := r.extractVia(ctx, e, content, url, opts)
	if err != nil {
		return nil, nil, err
	}

	info := e.adapter.Info()
	cfg := r.configOf(e)
	freshness := cfg.DefaultFreshness
	if freshness == "" {
		freshness = FreshnessSnapshot
	}
	prov := &Provenance{
		Channel:        info.Channel,
		Tier:           info.Tier,
		Confidence:     listing.Confidence,
		Freshness:      freshness,
		SourceID:       info.MarketplaceID,
		ExtractedAt:    time.Now().UTC(),
		UserConsented:  cfg.UserConsented,
		TermsCompliant: cfg.TermsCompliant,
	}
	return listing, prov, nil
}

func (r *Registry) configOf(e *entry) AdapterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.config
}

// Health returns the health snapshot for one adapter.
func (r *Registry) Health(marketplaceID string) (Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[marketplaceID]
	if !ok {
		return Health{}, false
	}
	return e.health.snapshot(), true
}

// Adapters lists the registered adapter identities in routing order.
func (r *Registry) Adapters() []AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AdapterInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.adapter.Info())
	}
	return out
}
