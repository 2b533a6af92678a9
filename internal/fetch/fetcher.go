// Package fetch implements the plain-HTTP path of the two-path fetcher:
// conditional GETs, a validating redirect walk, bounded retries with
// jittered backoff, and content sniffing.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/robots"
	"github.com/distillhq/distill/internal/urlcheck"
)

// Document is the fetched content handed to the distiller.
type Document struct {
	URL             string    `json:"url"`
	FinalURL        string    `json:"finalUrl"`
	HTML            []byte    `json:"html"`
	FetchedAt       time.Time `json:"fetchedAt"`
	ContentType     string    `json:"contentType"`
	DeclaredCharset string    `json:"declaredCharset,omitempty"`
	Protocol        string    `json:"protocol"`
	StatusCode      int       `json:"statusCode"`
	ETag            string    `json:"etag,omitempty"`
	LastModified    string    `json:"lastModified,omitempty"`
	ContentHash     string    `json:"contentHash,omitempty"`
	Revalidated     bool      `json:"revalidated,omitempty"`
	Rendered        bool      `json:"rendered,omitempty"`
}

// Conditional carries validators from a cached entry for a conditional GET.
type Conditional struct {
	ETag         string
	LastModified string
}

// Config controls the fetcher.
type Config struct {
	UserAgent      string        `yaml:"user_agent"`
	Accept         string        `yaml:"accept"`
	AcceptLanguage string        `yaml:"accept_language"`
	MaxRedirects   int           `yaml:"max_redirects"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns the standard fetcher configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "distillbot/1.0 (+https://github.com/distillhq/distill)",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.8",
		MaxRedirects:   5,
		MaxAttempts:    3,
		BackoffBase:    250 * time.Millisecond,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   4 << 20,
	}
}

// Fetcher issues validated GETs with per-host connection reuse.
type Fetcher struct {
	cfg       Config
	client    *http.Client
	validator *urlcheck.Validator
	robots    *robots.Manager
}

// NewFetcher wires the fetcher with its URL guard and robots manager.
func NewFetcher(cfg Config, validator *urlcheck.Validator, robotsMgr *robots.Manager) *Fetcher {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			// Redirects are walked manually so each hop can be re-validated.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		validator: validator,
		robots:    robotsMgr,
	}
}

// Fetch GETs target with optional conditional validators and extra
// headers. Each redirect hop is re-validated against the URL guard and
// robots policy. A 304 response yields a Document with Revalidated set
// and no body; the caller replays the cached value.
func (f *Fetcher) Fetch(ctx context.Context, target string, cond *Conditional, headers map[string]string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := f.backoff(ctx, attempt); err != nil {
				return nil, apperr.Wrap(apperr.CodeTimeout, "fetch cancelled during backoff", err)
			}
		}

		doc, err := f.fetchOnce(ctx, target, cond, headers)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		log.Debug().Str("url", target).Int("attempt", attempt+1).Err(err).Msg("retrying fetch")
	}
	return nil, lastErr
}

// fetchOnce performs a single validated redirect walk.
func (f *Fetcher) fetchOnce(ctx context.Context, target string, cond *Conditional, headers map[string]string) (*Document, error) {
	current := target
	seen := map[string]bool{}

	for hop := 0; ; hop++ {
		if hop > f.cfg.MaxRedirects {
			return nil, apperr.Newf(apperr.CodeRedirectLoop, "more than %d redirects from %s", f.cfg.MaxRedirects, target)
		}
		if seen[current] {
			return nil, apperr.Newf(apperr.CodeRedirectLoop, "redirect cycle at %s", current)
		}
		seen[current] = true

		res, err := f.validator.Validate(ctx, current)
		if err != nil {
			return nil, err
		}
		if f.robots != nil {
			if err := f.robots.CheckAndEnforce(ctx, res.Normalized); err != nil {
				return nil, err
			}
		}

		resp, err := f.do(ctx, res.Normalized, cond, headers)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, apperr.Newf(apperr.CodeUpstreamStatus, "redirect without location from %s", current)
			}
			next, err := res.URL.Parse(loc)
			if err != nil {
				return nil, apperr.Wrap(apperr.CodeInvalidURL, "bad redirect target", err)
			}
			if next.Scheme != "http" && next.Scheme != "https" {
				return nil, apperr.Newf(apperr.CodeInvalidURL, "redirect to disallowed scheme %q", next.Scheme)
			}
			// Downgrading https -> http is not followed.
			if res.URL.Scheme == "https" && next.Scheme == "http" {
				return nil, apperr.New(apperr.CodeInvalidURL, "redirect downgrades to http")
			}
			current = next.String()
			continue
		}

		return f.readBody(res.URL, resp)
	}
}

func (f *Fetcher) do(ctx context.Context, target string, cond *Conditional, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidURL, "build request", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", f.cfg.Accept)
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	if cond != nil {
		if cond.ETag != "" {
			req.Header.Set("If-None-Match", cond.ETag)
		}
		if cond.LastModified != "" {
			req.Header.Set("If-Modified-Since", cond.LastModified)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.CodeTimeout, "fetch timed out", err)
		}
		return nil, apperr.Wrap(apperr.CodeNetworkError, "fetch failed", err)
	}
	return resp, nil
}

func (f *Fetcher) readBody(u *url.URL, resp *http.Response) (*Document, error) {
	defer resp.Body.Close()

	doc := &Document{
		URL:          u.String(),
		FinalURL:     u.String(),
		FetchedAt:    time.Now().UTC(),
		Protocol:     resp.Proto,
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusNotModified {
		doc.Revalidated = true
		return doc, nil
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.Newf(apperr.CodeUpstreamStatus, "upstream returned %d for %s", resp.StatusCode, u).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetworkError, "read body", err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err == nil {
		doc.ContentType = mediaType
		doc.DeclaredCharset = strings.ToLower(params["charset"])
	} else {
		doc.ContentType = ct
	}

	sum := sha256.Sum256(body)
	doc.HTML = body
	doc.ContentHash = hex.EncodeToString(sum[:])
	return doc, nil
}

// backoff sleeps for an exponentially growing interval with jitter.
func (f *Fetcher) backoff(ctx context.Context, attempt int) error {
	base := f.cfg.BackoffBase
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base << (attempt - 1)
	d += time.Duration(rand.Int63n(int64(base)))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether a fetch error is worth another idempotent
// attempt: connection resets and upstream 5xx, never policy errors.
func retryable(err error) bool {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Code == apperr.CodeUpstreamStatus {
			if s, ok := ae.Details["status"].(int); ok {
				return s >= 500
			}
			return false
		}
		if ae.Code != apperr.CodeNetworkError {
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return true
}

// Fingerprint derives the stable cache key for one pipeline invocation.
func Fingerprint(normalizedURL string, render bool, policy string, maxNodes int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|render=%t|policy=%s|nodes=%d", normalizedURL, render, policy, maxNodes)))
	return hex.EncodeToString(h[:16])
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
