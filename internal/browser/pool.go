// Package browser drives the shared headless-browser instance behind a
// counting semaphore. Each request gets a fresh incognito context and
// page; the context is closed on every exit path, panics included.
package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/fetch"
)

// Config controls the shared browser.
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	Bin               string        `yaml:"bin"`
	DebuggerURL       string        `yaml:"debugger_url"`
	MaxPages          int           `yaml:"max_pages"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	Proxy             string        `yaml:"proxy"`
}

// DefaultConfig returns headless defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxPages:          4,
		NavigationTimeout: 30 * time.Second,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
	}
}

// PageOptions are per-request rendering options.
type PageOptions struct {
	Stealth bool
	Headers map[string]string
	Cookies []*proto.NetworkCookieParam
	// WaitStable waits for network-idle style stability after load.
	WaitStable bool
}

// Pool owns the singleton browser. Page slots are handed out only
// through the semaphore; nothing else may open pages.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	started bool

	sem chan struct{}
}

// NewPool creates the pool without launching anything; startup is lazy.
func NewPool(cfg Config) *Pool {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 4
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Pool{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxPages),
	}
}

// Start launches or connects to the browser. Idempotent.
func (p *Pool) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		return apperr.New(apperr.CodeRendererUnavailable, "rendering is disabled")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if p.cfg.Bin != "" {
			l = l.Bin(p.cfg.Bin)
		}
		if p.cfg.Proxy != "" {
			l = l.Proxy(p.cfg.Proxy)
		}
		url, err := l.Launch()
		if err != nil {
			return apperr.Wrap(apperr.CodeRendererUnavailable, "launch browser", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return apperr.Wrap(apperr.CodeRendererUnavailable, "connect to browser", err)
	}

	p.browser = b
	p.started = true
	log.Info().Int("max_pages", p.cfg.MaxPages).Msg("browser pool started")
	return nil
}

// Shutdown closes the browser. Safe to call without Start.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false
	err := p.browser.Close()
	p.browser = nil
	return err
}

// Available reports whether rendering is enabled.
func (p *Pool) Available() bool { return p.cfg.Enabled }

// WithPage acquires a page slot, opens an isolated incognito context and
// page, runs handler, and guarantees the context is closed on every exit
// path including handler panics.
func (p *Pool) WithPage(ctx context.Context, opts PageOptions, handler func(page *rod.Page) error) (err error) {
	if !p.cfg.Enabled {
		return apperr.New(apperr.CodeRendererUnavailable, "rendering is disabled")
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Wrap(apperr.CodeTimeout, "waiting for page slot", ctx.Err())
	}
	defer func() { <-p.sem }()

	p.mu.Lock()
	b := p.browser
	p.mu.Unlock()
	if b == nil {
		return apperr.New(apperr.CodeRendererUnavailable, "browser not connected")
	}

	incognito, ierr := b.Incognito()
	if ierr != nil {
		return apperr.Wrap(apperr.CodeRendererCrashed, "incognito context", ierr)
	}
	// Disposing the browser context closes every page opened in it.
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.CodeRendererCrashed, "page handler panicked: %v", r)
		}
		if derr := (proto.TargetDisposeBrowserContext{
			BrowserContextID: incognito.BrowserContextID,
		}).Call(incognito); derr != nil {
			log.Warn().Err(derr).Msg("failed to dispose browser context")
		}
	}()

	var page *rod.Page
	if opts.Stealth {
		page, ierr = stealth.Page(incognito)
	} else {
		page, ierr = incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if ierr != nil {
		return apperr.Wrap(apperr.CodeRendererCrashed, "create page", ierr)
	}

	page = page.Context(ctx)

	if p.cfg.ViewportWidth > 0 && p.cfg.ViewportHeight > 0 {
		if verr := (proto.EmulationSetDeviceMetricsOverride{
			Width:             p.cfg.ViewportWidth,
			Height:            p.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); verr != nil {
			log.Warn().Err(verr).Msg("failed to set viewport")
		}
	}

	if len(opts.Cookies) > 0 {
		if cerr := page.SetCookies(opts.Cookies); cerr != nil {
			return apperr.Wrap(apperr.CodeRendererCrashed, "set cookies", cerr)
		}
	}
	if len(opts.Headers) > 0 {
		pairs := make([]string, 0, len(opts.Headers)*2)
		for k, v := range opts.Headers {
			pairs = append(pairs, k, v)
		}
		if _, herr := page.SetExtraHeaders(pairs); herr != nil {
			return apperr.Wrap(apperr.CodeRendererCrashed, "set headers", herr)
		}
	}

	return handler(page)
}

// Render navigates to target, waits for load, and returns the rendered
// document. It is the browser-path counterpart of fetch.Fetcher.Fetch.
func (p *Pool) Render(ctx context.Context, target string, opts PageOptions) (*fetch.Document, error) {
	var doc *fetch.Document

	err := p.WithPage(ctx, opts, func(page *rod.Page) error {
		page = page.Timeout(p.cfg.NavigationTimeout)
		if err := page.Navigate(target); err != nil {
			return apperr.Wrap(apperr.CodeNavigationFailed, "navigate", err)
		}
		if err := page.WaitLoad(); err != nil {
			return apperr.Wrap(apperr.CodeNavigationFailed, "wait for load", err)
		}
		if opts.WaitStable {
			_ = page.WaitDOMStable(300*time.Millisecond, 0.1)
		}

		html, err := page.HTML()
		if err != nil {
			return apperr.Wrap(apperr.CodeRendererCrashed, "read html", err)
		}

		finalURL := target
		if info, err := page.Info(); err == nil && info.URL != "" && !strings.HasPrefix(info.URL, "about:") {
			finalURL = info.URL
		}

		sum := sha256.Sum256([]byte(html))
		doc = &fetch.Document{
			URL:         target,
			FinalURL:    finalURL,
			HTML:        []byte(html),
			FetchedAt:   time.Now().UTC(),
			ContentType: "text/html",
			Protocol:    "browser",
			StatusCode:  200,
			ContentHash: hex.EncodeToString(sum[:]),
			Rendered:    true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SlotsInUse reports the number of currently held page slots.
func (p *Pool) SlotsInUse() int { return len(p.sem) }

// String describes the pool for logs.
func (p *Pool) String() string {
	return fmt.Sprintf("browser(enabled=%t, max_pages=%d)", p.cfg.Enabled, p.cfg.MaxPages)
}
