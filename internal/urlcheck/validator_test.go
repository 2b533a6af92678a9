package urlcheck

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func testValidator() *Validator {
	return &Validator{
		Resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			return []net.IP{net.IPv4(93, 184, 216, 34)}, nil
		},
	}
}

func TestValidate_RejectsSchemes(t *testing.T) {
	v := testValidator()
	for _, raw := range []string{"ftp://example.com/x", "file:///etc/passwd", "javascript:alert(1)", "example.com/no-scheme", ""} {
		_, err := v.Validate(context.Background(), raw)
		require.Error(t, err, "raw=%q", raw)
		assert.Equal(t, apperr.CodeInvalidURL, apperr.CodeOf(err))
	}
}

func TestValidate_RejectsPrivateRanges(t *testing.T) {
	v := testValidator()
	cases := []string{
		"http://127.0.0.1/",
		"http://10.0.0.8/admin",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://localhost:8080/",
		"http://[::1]/",
	}
	for _, raw := range cases {
		_, err := v.Validate(context.Background(), raw)
		require.Error(t, err, "raw=%q", raw)
		assert.Equal(t, apperr.CodeInvalidURL, apperr.CodeOf(err))
	}
}

func TestValidate_RejectsHostResolvingPrivate(t *testing.T) {
	v := &Validator{
		Resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			return []net.IP{net.IPv4(10, 1, 2, 3)}, nil
		},
	}
	_, err := v.Validate(context.Background(), "http://internal.example.com/")
	require.Error(t, err)
}

func TestValidate_Normalization(t *testing.T) {
	v := testValidator()
	cases := []struct {
		raw  string
		want string
	}{
		{"HTTP://Example.COM:80/a/../b", "http://example.com/b"},
		{"https://example.com:443/x/./y/", "https://example.com/x/y/"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com:8443/p", "https://example.com:8443/p"},
	}
	for _, tc := range cases {
		res, err := v.Validate(context.Background(), tc.raw)
		require.NoError(t, err, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, res.Normalized)
	}
}

func TestValidate_QueryOrderingOptIn(t *testing.T) {
	v := testValidator()
	res, err := v.Validate(context.Background(), "https://example.com/p?b=2&a=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/p?b=2&a=1", res.Normalized, "ordering must not apply by default")

	v.OrderQuery = true
	res, err = v.Validate(context.Background(), "https://example.com/p?b=2&a=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/p?a=1&b=2", res.Normalized)
}

func TestValidate_ReportsFamily(t *testing.T) {
	v := testValidator()
	res, err := v.Validate(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv4, res.Family)

	res, err = v.Validate(context.Background(), "https://[2606:2800:220:1::1]/")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, res.Family)
}
