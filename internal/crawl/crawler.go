package crawl

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/metrics"
	"github.com/distillhq/distill/internal/robots"
	"github.com/distillhq/distill/internal/urlcheck"
)

// Page is the processed form of one crawled URL.
type Page struct {
	FinalURL   string
	HTML       []byte
	Title      string
	Method     string
	Nodes      []distill.Node
	Confidence float64
}

// Processor fetches and distills a single URL. The crawl pipeline
// adapter implements it; tests substitute fakes.
type Processor interface {
	Process(ctx context.Context, url string, render bool) (*Page, error)
}

// Manager owns crawl jobs and their workers.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	processor Processor
	validator *urlcheck.Validator
	robots    *robots.Manager
	metrics   *metrics.Metrics
}

// NewManager creates a crawl manager. robots and metrics are optional.
func NewManager(processor Processor, validator *urlcheck.Validator, robotsMgr *robots.Manager, m *metrics.Metrics) *Manager {
	return &Manager{
		jobs:      make(map[string]*Job),
		processor: processor,
		validator: validator,
		robots:    robotsMgr,
		metrics:   m,
	}
}

// Start validates the seed, registers the job, and runs it in the
// background.
func (m *Manager) Start(ctx context.Context, seed string, opts Options) (*Job, error) {
	res, err := m.validator.Validate(ctx, seed)
	if err != nil {
		return nil, err
	}

	opts = opts.normalized()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &Job{
		ID:        uuid.NewString(),
		Seed:      res.Normalized,
		Options:   opts,
		Status:    StatusQueued,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	m.metrics.RecordJobTransition("crawl", string(StatusQueued))

	go m.run(runCtx, job)
	return job, nil
}

// Get returns a job by ID.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Cancel stops a running job. In-flight pages drain; no new work starts.
func (m *Manager) Cancel(id string) error {
	job, ok := m.Get(id)
	if !ok {
		return apperr.Newf(apperr.CodeValidationError, "unknown crawl job %q", id)
	}
	switch job.currentStatus() {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return nil
	}
	job.cancel()
	return nil
}

// Remove deletes a finished job; running jobs are cancelled first.
func (m *Manager) Remove(id string) error {
	if err := m.Cancel(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	return nil
}

type frontierItem struct {
	url   string
	depth int
}

// run executes the crawl as breadth-first waves. Each wave processes up
// to the remaining page budget in parallel, bounded by the global and
// per-host semaphores, then enqueues the discovered links.
func (m *Manager) run(ctx context.Context, job *Job) {
	job.setStatus(StatusRunning)
	m.metrics.RecordJobTransition("crawl", string(StatusRunning))

	opts := job.Options
	seedOrigin := originOf(job.Seed)

	frontier := []frontierItem{{url: job.Seed, depth: 0}}
	seen := map[string]bool{job.Seed: true}

	global := make(chan struct{}, opts.GlobalConcurrency)
	perHost := newHostLimiter(opts.PerHostConcurrency)

	visited := 0
	for len(frontier) > 0 && visited < opts.MaxPages && ctx.Err() == nil {
		batch := frontier
		if budget := opts.MaxPages - visited; len(batch) > budget {
			batch = batch[:budget]
		}
		frontier = frontier[len(batch):]
		job.setQueued(len(frontier))

		type outcome struct {
			item  frontierItem
			page  *Page
			links []string
			err   error
		}
		outcomes := make([]outcome, len(batch))

		var wg sync.WaitGroup
		for i, item := range batch {
			wg.Add(1)
			go func(i int, item frontierItem) {
				defer wg.Done()

				select {
				case global <- struct{}{}:
				case <-ctx.Done():
					outcomes[i] = outcome{item: item, err: ctx.Err()}
					return
				}
				defer func() { <-global }()

				host := originOf(item.url)
				release := perHost.acquire(host)
				defer release()

				page, err := m.processPage(ctx, item.url, opts.RenderJS)
				o := outcome{item: item, page: page, err: err}
				if err == nil && item.depth < opts.MaxDepth {
					o.links = extractLinks(page, item.url)
				}
				outcomes[i] = o
			}(i, item)
		}
		wg.Wait()

		for _, o := range outcomes {
			if o.err != nil && ctx.Err() != nil {
				// Cancelled before processing; do not count the page.
				continue
			}
			visited++
			result := PageResult{
				URL:       o.item.url,
				Depth:     o.item.depth,
				FetchedAt: time.Now().UTC(),
			}
			if o.err != nil {
				result.Error = o.err.Error()
			} else {
				result.Title = o.page.Title
				result.Method = o.page.Method
				result.Nodes = o.page.Nodes
				result.Confidence = o.page.Confidence
			}
			job.addResult(result)

			if ctx.Err() != nil {
				// Drained in-flight work does not enqueue links.
				continue
			}
			for _, link := range o.links {
				if seen[link] {
					continue
				}
				if !opts.AllowCrossOrigin && originOf(link) != seedOrigin {
					continue
				}
				seen[link] = true
				frontier = append(frontier, frontierItem{url: link, depth: o.item.depth + 1})
			}
		}
	}

	job.setQueued(0)
	final := StatusCompleted
	if ctx.Err() != nil {
		final = StatusCancelled
	}
	job.setStatus(final)
	m.metrics.RecordJobTransition("crawl", string(final))
	log.Info().Str("job", job.ID).Str("status", string(final)).
		Int("visited", visited).Msg("crawl finished")
}

// processPage applies robots and runs the processor for one URL.
func (m *Manager) processPage(ctx context.Context, target string, render bool) (*Page, error) {
	if m.robots != nil {
		if err := m.robots.CheckAndEnforce(ctx, target); err != nil {
			return nil, err
		}
	}
	return m.processor.Process(ctx, target, render)
}

// extractLinks pulls, resolves, and normalizes anchor targets.
func extractLinks(page *Page, base string) []string {
	if page == nil || len(page.HTML) == 0 {
		return nil
	}
	baseURL, err := url.Parse(firstNonEmpty(page.FinalURL, base))
	if err != nil {
		return nil
	}

	root, err := html.Parse(bytes.NewReader(page.HTML))
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]bool{}
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if !strings.EqualFold(a.Key, "href") {
					continue
				}
				href := strings.TrimSpace(a.Val)
				if href == "" || strings.HasPrefix(href, "#") ||
					strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
					continue
				}
				ref, err := url.Parse(href)
				if err != nil {
					continue
				}
				resolved := baseURL.ResolveReference(ref)
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				resolved.Fragment = ""
				link := resolved.String()
				if !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return links
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// hostLimiter hands out per-origin slots.
type hostLimiter struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	size  int
}

func newHostLimiter(size int) *hostLimiter {
	return &hostLimiter{slots: make(map[string]chan struct{}), size: size}
}

func (h *hostLimiter) acquire(host string) (release func()) {
	h.mu.Lock()
	c, ok := h.slots[host]
	if !ok {
		c = make(chan struct{}, h.size)
		h.slots[host] = c
	}
	h.mu.Unlock()

	c <- struct{}{}
	return func() { <-c }
}
