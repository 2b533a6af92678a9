package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/browser"
	"github.com/distillhq/distill/internal/cache"
	"github.com/distillhq/distill/internal/circuit"
	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/fetch"
	"github.com/distillhq/distill/internal/marketplace"
	"github.com/distillhq/distill/internal/metrics"
	"github.com/distillhq/distill/internal/ratelimit"
	"github.com/distillhq/distill/internal/robots"
	"github.com/distillhq/distill/internal/urlcheck"
)

// Options are the per-request knobs from the request envelope.
type Options struct {
	Render   bool              `json:"render"`
	MaxNodes int               `json:"maxNodes"`
	UseCache bool              `json:"useCache"`
	Policy   string            `json:"policy"`
	Headers  map[string]string `json:"headers"`
	Cookies  []Cookie          `json:"cookies"`
}

// Cookie is a request-scoped cookie forwarded to the renderer.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// DefaultOptions enables caching and caps node output.
func DefaultOptions() Options {
	return Options{MaxNodes: 100, UseCache: true}
}

// Sink receives stream events in order. Returning an error aborts the
// stream.
type Sink func(Event) error

// Config controls orchestrator-level behavior.
type Config struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the standard orchestration settings.
func DefaultConfig() Config {
	return Config{CacheTTL: time.Hour}
}

// Orchestrator wires validation, robots, rate limiting, cache, fetch,
// rendering, distillation, and provenance into one linear stream.
type Orchestrator struct {
	cfg       Config
	validator *urlcheck.Validator
	robots    *robots.Manager
	origins   *ratelimit.OriginLimiter
	store     cache.Store
	fetcher   *fetch.Fetcher
	browser   *browser.Pool
	breakers  *circuit.Manager
	distiller *distill.Distiller
	registry  *marketplace.Registry
	metrics   *metrics.Metrics
}

// Deps collects the orchestrator's collaborators. Browser, registry, and
// metrics are optional.
type Deps struct {
	Validator *urlcheck.Validator
	Robots    *robots.Manager
	Origins   *ratelimit.OriginLimiter
	Store     cache.Store
	Fetcher   *fetch.Fetcher
	Browser   *browser.Pool
	Breakers  *circuit.Manager
	Distiller *distill.Distiller
	Registry  *marketplace.Registry
	Metrics   *metrics.Metrics
}

// New creates the orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Orchestrator{
		cfg:       cfg,
		validator: deps.Validator,
		robots:    deps.Robots,
		origins:   deps.Origins,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		browser:   deps.Browser,
		breakers:  deps.Breakers,
		distiller: deps.Distiller,
		registry:  deps.Registry,
		metrics:   deps.Metrics,
	}
}

// cachedInvocation is the replayable stream stored per fingerprint.
type cachedInvocation struct {
	Metadata   MetadataPayload             `json:"metadata"`
	Nodes      []distill.Node              `json:"nodes"`
	Confidence distill.ConfidenceBreakdown `json:"confidence"`
	Provenance *marketplace.Provenance     `json:"provenance,omitempty"`
}

// Run executes one request and pushes every event to sink. On fatal
// errors the last event pushed is the error event; the error is also
// returned so callers can map an HTTP status before streaming begins.
func (o *Orchestrator) Run(ctx context.Context, rawURL string, opts Options, sink Sink) error {
	if opts.MaxNodes <= 0 || opts.MaxNodes > 100 {
		opts.MaxNodes = 100
	}

	err := o.run(ctx, rawURL, opts, sink)
	if err != nil {
		if serr := sink(ErrorEvent(err)); serr != nil {
			log.Warn().Err(serr).Msg("failed to write error event")
		}
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, rawURL string, opts Options, sink Sink) error {
	res, err := o.validator.Validate(ctx, rawURL)
	if err != nil {
		return err
	}
	normalized := res.Normalized
	origin := urlcheck.Origin(res.URL)

	if err := o.robots.CheckAndEnforce(ctx, normalized); err != nil {
		if apperr.CodeOf(err) == apperr.CodeRobotsBlocked {
			o.metrics.RecordRobotsBlock()
		}
		return err
	}

	if o.origins != nil {
		if err := o.origins.WaitForClearance(ctx, origin); err != nil {
			o.metrics.RecordRateLimitWait()
			return err
		}
	}

	key := fetch.Fingerprint(normalized, opts.Render, opts.Policy, opts.MaxNodes)

	var stale *cache.Entry
	if opts.UseCache && o.store != nil {
		entry, found, err := o.store.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("cache read failed, treating as miss")
		}
		o.metrics.RecordCacheOp("tiered", found)
		if found {
			if time.Since(entry.InsertedAt) < o.cfg.CacheTTL {
				return o.replay(entry, CacheHit, sink)
			}
			stale = entry
		}
	}

	// A stale entry with validators drives a conditional request.
	var cond *fetch.Conditional
	if stale != nil && (stale.ETag != "" || stale.LastModified != "") {
		cond = &fetch.Conditional{ETag: stale.ETag, LastModified: stale.LastModified}
	}

	doc, fallbackUsed, err := o.fetchDocument(ctx, normalized, origin, opts, cond)
	if err != nil {
		return err
	}
	o.metrics.RecordFetch(doc.Protocol, doc.StatusCode)

	if doc.Revalidated && stale != nil {
		stale.InsertedAt = time.Now().UTC()
		if err := o.store.Set(ctx, key, stale); err != nil {
			log.Warn().Err(err).Msg("failed to refresh revalidated entry")
		}
		return o.replay(stale, CacheRevalidated, sink)
	}

	inv, prov, err := o.distillDocument(ctx, doc, normalized, opts, fallbackUsed)
	if err != nil {
		return err
	}

	if opts.UseCache && o.store != nil && ctx.Err() == nil {
		o.persist(ctx, key, doc, inv, prov)
	}

	return o.emit(inv, sink)
}

// fetchDocument picks the HTTP or browser path. A failed render falls
// back to plain HTTP with fallbackUsed set.
func (o *Orchestrator) fetchDocument(ctx context.Context, target, origin string, opts Options, cond *fetch.Conditional) (*fetch.Document, bool, error) {
	if opts.Render && o.browser != nil && o.browser.Available() {
		doc, err := o.render(ctx, target, opts)
		if err == nil {
			return doc, false, nil
		}
		log.Warn().Err(err).Str("url", target).Msg("render failed, falling back to http")
		httpDoc, herr := o.httpFetch(ctx, target, origin, cond, opts.Headers)
		if herr != nil {
			// Surface the render failure; it is the path the caller asked for.
			return nil, false, err
		}
		return httpDoc, true, nil
	}

	doc, err := o.httpFetch(ctx, target, origin, cond, opts.Headers)
	return doc, false, err
}

func (o *Orchestrator) httpFetch(ctx context.Context, target, origin string, cond *fetch.Conditional, headers map[string]string) (*fetch.Document, error) {
	run := func() (any, error) { return o.fetcher.Fetch(ctx, target, cond, headers) }
	if o.breakers == nil {
		doc, err := run()
		if err != nil {
			return nil, err
		}
		return doc.(*fetch.Document), nil
	}
	result, err := o.breakers.Execute("fetch:"+origin, run)
	if err != nil {
		return nil, err
	}
	return result.(*fetch.Document), nil
}

func (o *Orchestrator) render(ctx context.Context, target string, opts Options) (*fetch.Document, error) {
	pageOpts := browser.PageOptions{
		Stealth: true,
		Headers: opts.Headers,
		Cookies: browserCookies(opts.Cookies, target),
	}
	run := func() (any, error) { return o.browser.Render(ctx, target, pageOpts) }
	if o.breakers == nil {
		doc, err := run()
		if err != nil {
			return nil, err
		}
		return doc.(*fetch.Document), nil
	}
	result, err := o.breakers.Execute("browser", run)
	if err != nil {
		return nil, err
	}
	return result.(*fetch.Document), nil
}

// browserCookies converts request-scoped cookies into the renderer's
// cookie parameters, scoping domainless cookies to the target URL.
func browserCookies(cookies []Cookie, target string) []*proto.NetworkCookieParam {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}
		if c.Domain == "" {
			p.URL = target
		}
		params = append(params, p)
	}
	return params
}

// distillDocument runs the adapter and extractor paths and assembles the
// replayable invocation.
func (o *Orchestrator) distillDocument(ctx context.Context, doc *fetch.Document, normalized string, opts Options, fallbackUsed bool) (*cachedInvocation, *marketplace.Provenance, error) {
	var preferred *distill.Candidate
	var prov *marketplace.Provenance

	if o.registry != nil {
		if adapter := o.registry.AdapterForURL(normalized); adapter != nil {
			listing, p, err := o.registry.ExtractWithProvenance(ctx, doc.HTML, normalized, marketplace.ExtractOptions{IncludeImages: true})
			if err != nil {
				log.Warn().Err(err).Str("url", normalized).Msg("adapter extraction failed, using generic extractors")
			} else {
				preferred = listingCandidate(listing)
				prov = p
			}
		}
	}

	result, err := o.distiller.DistillWith(ctx, doc.HTML, normalized, preferred)
	if err != nil {
		return nil, nil, err
	}
	o.metrics.RecordExtraction(string(result.Method), result.Confidence.Overall)

	nodes := result.Nodes
	if len(nodes) > opts.MaxNodes {
		nodes = nodes[:opts.MaxNodes]
	}

	inv := &cachedInvocation{
		Metadata: MetadataPayload{
			URL:              normalized,
			FinalURL:         doc.FinalURL,
			Title:            result.Title,
			SiteName:         result.SiteName,
			ExtractionMethod: string(result.Method),
			Confidence:       result.Confidence.Overall,
			FallbackUsed:     fallbackUsed,
			CacheStatus:      CacheMiss,
		},
		Nodes:      nodes,
		Confidence: result.Confidence,
	}
	if !opts.UseCache {
		inv.Metadata.CacheStatus = CacheBypass
	}
	if result.Method == distill.MethodAdapter {
		inv.Provenance = prov
	}
	return inv, prov, nil
}

// persist stores the invocation under the per-key write lock of the
// tiered store.
func (o *Orchestrator) persist(ctx context.Context, key string, doc *fetch.Document, inv *cachedInvocation, prov *marketplace.Provenance) {
	value, err := json.Marshal(inv)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode invocation for cache")
		return
	}
	entry := &cache.Entry{
		Value:        value,
		InsertedAt:   time.Now().UTC(),
		ETag:         doc.ETag,
		LastModified: doc.LastModified,
		ContentHash:  doc.ContentHash,
		Size:         int64(len(value)),
	}
	if err := o.store.Set(ctx, key, entry); err != nil {
		log.Warn().Err(err).Msg("cache write failed")
	}
}

// replay re-emits a stored stream with an updated cache status.
func (o *Orchestrator) replay(entry *cache.Entry, status CacheStatus, sink Sink) error {
	var inv cachedInvocation
	if err := json.Unmarshal(entry.Value, &inv); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "corrupt cached invocation", err)
	}
	inv.Metadata.CacheStatus = status
	return o.emit(&inv, sink)
}

// emit writes the canonical event order: metadata, nodes, confidence,
// optional provenance.
func (o *Orchestrator) emit(inv *cachedInvocation, sink Sink) error {
	if err := sink(Event{Type: EventMetadata, Payload: inv.Metadata}); err != nil {
		return err
	}
	for _, n := range inv.Nodes {
		if err := sink(nodeEvent(n)); err != nil {
			return err
		}
	}
	if err := sink(Event{Type: EventConfidence, Payload: inv.Confidence}); err != nil {
		return err
	}
	if inv.Provenance != nil {
		if err := sink(provenanceEvent(inv.Provenance)); err != nil {
			return err
		}
	}
	return nil
}

// listingCandidate converts a marketplace listing into an extraction
// candidate so the ensemble and scorer treat it uniformly.
func listingCandidate(l *marketplace.Listing) *distill.Candidate {
	var parts []string
	if l.Price != nil {
		parts = append(parts, fmt.Sprintf("Price: %.2f %s", l.Price.Amount, l.Price.Currency))
	}
	if l.Condition != "" && l.Condition != marketplace.ConditionUnknown {
		parts = append(parts, "Condition: "+string(l.Condition))
	}
	if l.Availability != "" {
		parts = append(parts, "Availability: "+string(l.Availability))
	}
	if l.Seller.Name != "" {
		parts = append(parts, "Seller: "+l.Seller.Name)
	}
	if l.ItemNumber != "" {
		parts = append(parts, "Item number: "+l.ItemNumber)
	}

	return &distill.Candidate{
		Method:         distill.MethodAdapter,
		Title:          l.Title,
		ContentText:    strings.Join(parts, "\n\n"),
		ParagraphCount: len(parts),
		Confidence:     l.Confidence,
		Metadata: distill.Metadata{
			SiteName: l.Marketplace,
			Excerpt:  l.Title,
		},
	}
}
