// Package robots caches and evaluates per-origin robots.txt policies.
// Fetch failures fall back to allow-all: an unreachable robots.txt never
// blocks a crawl, only an explicit Disallow does.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
)

const maxRobotsBody = 512 << 10 // 512 KiB, matching common crawler limits

// Policy is the parsed robots.txt for one origin.
type Policy struct {
	FetchedAt  time.Time
	Groups     []Group
	CrawlDelay time.Duration
	Sitemaps   []string
	allowAll   bool
}

// Group is a set of rules bound to one or more user-agent tokens.
type Group struct {
	Agents     []string
	Rules      []Rule
	CrawlDelay time.Duration
	hasDelay   bool
}

// Rule is a single Allow or Disallow line.
type Rule struct {
	Path  string
	Allow bool
}

// Config controls the robots manager.
type Config struct {
	UserAgent string        `yaml:"user_agent"`
	TTL       time.Duration `yaml:"ttl"`
	// Respect toggles enforcement. When false every lookup allows.
	Respect bool          `yaml:"respect"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the standard robots configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "distillbot/1.0 (+https://github.com/distillhq/distill)",
		TTL:       24 * time.Hour,
		Respect:   true,
		Timeout:   10 * time.Second,
	}
}

// Manager maps origins to cached robots policies.
type Manager struct {
	cfg    Config
	client *http.Client

	mu      sync.RWMutex
	origins map[string]*Policy
}

// NewManager creates a robots manager with its own HTTP client.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		origins: make(map[string]*Policy),
	}
}

// IsAllowed reports whether the manager's user-agent may fetch rawURL.
func (m *Manager) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	if !m.cfg.Respect {
		return true, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, apperr.Wrap(apperr.CodeInvalidURL, "robots lookup on unparseable url", err)
	}
	policy, err := m.policyFor(ctx, u)
	if err != nil {
		return true, nil // fetch failure is permissive
	}
	return policy.allows(m.cfg.UserAgent, pathOf(u)), nil
}

// CrawlDelay returns the crawl-delay applying to rawURL, zero when none
// is declared.
func (m *Manager) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	if !m.cfg.Respect {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	policy, err := m.policyFor(ctx, u)
	if err != nil {
		return 0
	}
	if g := policy.groupFor(m.cfg.UserAgent); g != nil && g.hasDelay {
		return g.CrawlDelay
	}
	return policy.CrawlDelay
}

// CheckAndEnforce returns a robots_blocked error when rawURL is
// disallowed for the configured user-agent.
func (m *Manager) CheckAndEnforce(ctx context.Context, rawURL string) error {
	allowed, err := m.IsAllowed(ctx, rawURL)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.Newf(apperr.CodeRobotsBlocked, "robots.txt disallows %s", rawURL).
			WithDetail("url", rawURL)
	}
	return nil
}

// Clear drops cached policies. With no arguments the whole cache is
// cleared; otherwise only the named origins.
func (m *Manager) Clear(origins ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(origins) == 0 {
		m.origins = make(map[string]*Policy)
		return
	}
	for _, o := range origins {
		delete(m.origins, o)
	}
}

// Sitemaps returns the sitemap URLs declared by an origin's robots.txt.
func (m *Manager) Sitemaps(ctx context.Context, origin string) []string {
	u, err := url.Parse(origin)
	if err != nil {
		return nil
	}
	policy, err := m.policyFor(ctx, u)
	if err != nil {
		return nil
	}
	return policy.Sitemaps
}

func (m *Manager) policyFor(ctx context.Context, u *url.URL) (*Policy, error) {
	origin := u.Scheme + "://" + u.Host

	m.mu.RLock()
	policy, ok := m.origins[origin]
	m.mu.RUnlock()
	if ok && time.Since(policy.FetchedAt) < m.cfg.TTL {
		return policy, nil
	}

	policy = m.fetch(ctx, origin)

	m.mu.Lock()
	m.origins[origin] = policy
	m.mu.Unlock()
	return policy, nil
}

// fetch retrieves and parses /robots.txt. Any HTTP 404/5xx or network
// error yields an allow-all policy.
func (m *Manager) fetch(ctx context.Context, origin string) *Policy {
	permissive := &Policy{FetchedAt: time.Now(), allowAll: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return permissive
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		log.Warn().Str("origin", origin).Err(err).Msg("robots fetch failed, allowing all")
		return permissive
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400:
		if resp.StatusCode != http.StatusNotFound {
			log.Warn().Str("origin", origin).Int("status", resp.StatusCode).
				Msg("robots fetch errored, allowing all")
		}
		return permissive
	default:
		return permissive
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return permissive
	}

	policy := Parse(string(body))
	policy.FetchedAt = time.Now()
	return policy
}

// allows evaluates the longest-match rule: the rule with the longest
// matching path prefix wins; Allow beats Disallow at equal length.
func (p *Policy) allows(userAgent, path string) bool {
	if p.allowAll {
		return true
	}
	g := p.groupFor(userAgent)
	if g == nil {
		return true
	}

	bestLen := -1
	allowed := true
	for _, r := range g.Rules {
		if r.Path == "" {
			continue // "Disallow:" with empty path means allow all
		}
		if !matchRule(r.Path, path) {
			continue
		}
		l := len(r.Path)
		if l > bestLen || (l == bestLen && r.Allow && !allowed) {
			bestLen = l
			allowed = r.Allow
		}
	}
	return allowed
}

// groupFor selects the group whose agent token is the longest substring
// of userAgent, with "*" as the fallback.
func (p *Policy) groupFor(userAgent string) *Group {
	ua := strings.ToLower(userAgent)
	var star *Group
	var best *Group
	bestLen := 0
	for i := range p.Groups {
		g := &p.Groups[i]
		for _, agent := range g.Agents {
			if agent == "*" {
				if star == nil {
					star = g
				}
				continue
			}
			if strings.Contains(ua, agent) && len(agent) > bestLen {
				best = g
				bestLen = len(agent)
			}
		}
	}
	if best != nil {
		return best
	}
	return star
}

// matchRule matches a robots path pattern, supporting '*' wildcards and
// the '$' end anchor.
func matchRule(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}
	parts := strings.Split(pattern, "*")

	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			if !strings.HasPrefix(path, part) {
				return false
			}
			pos = len(part)
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	if anchored {
		if len(parts) > 0 && parts[len(parts)-1] != "" {
			return pos == len(path)
		}
		return true
	}
	return true
}

func pathOf(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p = p + "?" + u.RawQuery
	}
	return p
}

// String renders a compact summary for logs.
func (p *Policy) String() string {
	if p.allowAll {
		return "allow-all"
	}
	return fmt.Sprintf("groups=%d sitemaps=%d", len(p.Groups), len(p.Sitemaps))
}
