package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidURL, http.StatusBadRequest},
		{CodeValidationError, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeRobotsBlocked, http.StatusForbidden},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeQuotaExceeded, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeNetworkError, http.StatusBadGateway},
		{CodeRedirectLoop, http.StatusBadGateway},
		{CodeRendererUnavailable, http.StatusServiceUnavailable},
		{CodeCircuitOpen, http.StatusServiceUnavailable},
		{CodeCacheUnavailable, http.StatusServiceUnavailable},
		{CodeNoCandidates, http.StatusUnprocessableEntity},
		{CodeExtractionFailed, http.StatusUnprocessableEntity},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, New(tc.code, "boom").HTTPStatus())
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeNetworkError, "fetch origin", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "network_error")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeRateLimited, CodeOf(New(CodeRateLimited, "slow down")))
	assert.Equal(t, CodeRateLimited, CodeOf(fmt.Errorf("outer: %w", New(CodeRateLimited, "slow down"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestFrom(t *testing.T) {
	tagged := New(CodeRobotsBlocked, "disallowed")
	assert.Same(t, tagged, From(tagged))

	plain := errors.New("boom")
	converted := From(plain)
	require.NotNil(t, converted)
	assert.Equal(t, CodeInternal, converted.Code)
	assert.ErrorIs(t, converted, plain)
}

func TestWithDetail(t *testing.T) {
	err := New(CodeValidationError, "invalid configuration").
		WithDetail("problems", []string{"server.addr is required"})
	assert.Equal(t, []string{"server.addr is required"}, err.Details["problems"])
}
