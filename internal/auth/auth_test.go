package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func enabledAuth(keys ...KeyConfig) *Authenticator {
	return New(Config{Enabled: true, Keys: keys, DefaultTier: "free"})
}

func TestAuthenticate_BearerToken(t *testing.T) {
	a := enabledAuth(KeyConfig{Key: "secret-key", Tier: "pro"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer secret-key")

	tenant, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.True(t, tenant.Authenticated)
	assert.Equal(t, "pro", tenant.Tier)
	assert.Equal(t, Digest("secret-key"), tenant.ID)
}

func TestAuthenticate_APIKeyHeader(t *testing.T) {
	a := enabledAuth(KeyConfig{Key: "secret-key"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "secret-key")

	tenant, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "free", tenant.Tier)
}

func TestAuthenticate_BearerPreferredOverHeader(t *testing.T) {
	a := enabledAuth(KeyConfig{Key: "bearer-key", Tier: "pro"}, KeyConfig{Key: "header-key", Tier: "free"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer bearer-key")
	r.Header.Set("X-API-Key", "header-key")

	tenant, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "pro", tenant.Tier)
}

func TestAuthenticate_PrehashedKey(t *testing.T) {
	a := enabledAuth(KeyConfig{Key: Digest("stored-hashed"), Hashed: true, Tier: "enterprise"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "stored-hashed")

	tenant, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", tenant.Tier)
}

func TestAuthenticate_MissingIsUnauthorized(t *testing.T) {
	a := enabledAuth(KeyConfig{Key: "k"})
	_, err := a.Authenticate(httptest.NewRequest("GET", "/", nil))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestAuthenticate_InvalidIsForbidden(t *testing.T) {
	a := enabledAuth(KeyConfig{Key: "k"})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "wrong")
	_, err := a.Authenticate(r)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestAuthenticate_DisabledAttachesDefaultTenant(t *testing.T) {
	a := New(Config{Enabled: false, DefaultTier: "free"})
	tenant, err := a.Authenticate(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, "default", tenant.ID)
	assert.False(t, tenant.Authenticated)
}

func TestAuthenticate_DevBypassOnlyOutsideProduction(t *testing.T) {
	dev := New(Config{Enabled: true, DevBypass: true, Production: false, DefaultTier: "free"})
	tenant, err := dev.Authenticate(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.True(t, tenant.Authenticated)

	prod := New(Config{Enabled: true, DevBypass: true, Production: true, DefaultTier: "free"})
	_, err = prod.Authenticate(httptest.NewRequest("GET", "/", nil))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestTenantContextRoundtrip(t *testing.T) {
	tenant := &Tenant{ID: "abc", Tier: "pro", Authenticated: true}
	ctx := WithTenant(context.Background(), tenant)
	assert.Same(t, tenant, TenantFrom(ctx))

	anon := TenantFrom(context.Background())
	assert.Equal(t, "default", anon.ID)
	assert.False(t, anon.Authenticated)
}
