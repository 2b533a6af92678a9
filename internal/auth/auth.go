// Package auth authenticates API keys and attaches tenant identity to
// request contexts. Keys are compared by constant-time digest so neither
// timing nor logs reveal key material.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
)

// Tenant is the authenticated caller identity.
type Tenant struct {
	ID            string
	Tier          string
	Authenticated bool
}

// KeyConfig declares one accepted API key. Key holds either the plain
// key or, when Hashed is set, its hex SHA-256 digest.
type KeyConfig struct {
	Key    string `yaml:"key"`
	Hashed bool   `yaml:"hashed"`
	Tier   string `yaml:"tier"`
}

// Config controls authentication.
type Config struct {
	Enabled     bool        `yaml:"enabled"`
	Keys        []KeyConfig `yaml:"keys"`
	DefaultTier string      `yaml:"default_tier"`
	// DevBypass skips auth entirely; it is ignored in production.
	DevBypass  bool `yaml:"dev_bypass"`
	Production bool `yaml:"production"`
}

// DefaultConfig returns auth disabled with the free tier as default.
func DefaultConfig() Config {
	return Config{Enabled: false, DefaultTier: "free"}
}

// Authenticator validates presented credentials against the key set.
type Authenticator struct {
	cfg     Config
	digests []keyDigest
}

type keyDigest struct {
	digest string
	tier   string
}

// New precomputes the digest set.
func New(cfg Config) *Authenticator {
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = "free"
	}
	a := &Authenticator{cfg: cfg}
	for _, k := range cfg.Keys {
		d := k.Key
		if !k.Hashed {
			d = Digest(k.Key)
		}
		tier := k.Tier
		if tier == "" {
			tier = cfg.DefaultTier
		}
		a.digests = append(a.digests, keyDigest{digest: strings.ToLower(d), tier: tier})
	}
	if cfg.DevBypass && cfg.Production {
		log.Warn().Msg("dev auth bypass requested in production; ignoring")
	}
	return a
}

// Digest returns the hex SHA-256 of a key.
func Digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate extracts the credential from the request and resolves the
// tenant. Missing credentials are unauthorized; unknown ones forbidden.
func (a *Authenticator) Authenticate(r *http.Request) (*Tenant, error) {
	if !a.cfg.Enabled {
		return &Tenant{ID: "default", Tier: a.cfg.DefaultTier, Authenticated: false}, nil
	}
	if a.cfg.DevBypass && !a.cfg.Production {
		return &Tenant{ID: "dev", Tier: a.cfg.DefaultTier, Authenticated: true}, nil
	}

	key := credentialFrom(r)
	if key == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "missing API credential")
	}

	presented := Digest(key)
	for _, kd := range a.digests {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(kd.digest)) == 1 {
			return &Tenant{ID: presented, Tier: kd.tier, Authenticated: true}, nil
		}
	}
	return nil, apperr.New(apperr.CodeForbidden, "invalid API credential")
}

// credentialFrom prefers the Authorization bearer token over X-API-Key.
func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

type contextKey struct{}

// WithTenant attaches the tenant to a context.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// TenantFrom reads the tenant from a context, defaulting to the
// anonymous tenant when absent.
func TenantFrom(ctx context.Context) *Tenant {
	if t, ok := ctx.Value(contextKey{}).(*Tenant); ok && t != nil {
		return t
	}
	return &Tenant{ID: "default", Tier: "free"}
}
