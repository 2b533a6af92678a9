package fetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/urlcheck"
)

// openValidator admits loopback addresses so httptest servers work.
func openValidator() *urlcheck.Validator {
	return &urlcheck.Validator{
		SkipResolve:   true,
		AllowLoopback: true,
		Resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			return nil, nil
		},
	}
}

func testFetcher() *Fetcher {
	return NewFetcher(DefaultConfig(), openValidator(), nil)
}

func TestFetch_Basic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"E1"`)
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	doc, err := testFetcher().Fetch(context.Background(), srv.URL+"/page", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "text/html", doc.ContentType)
	assert.Equal(t, "utf-8", doc.DeclaredCharset)
	assert.Equal(t, `"E1"`, doc.ETag)
	assert.NotEmpty(t, doc.ContentHash)
	assert.NotEmpty(t, doc.Protocol)
	assert.Contains(t, string(doc.HTML), "hello")
}

func TestFetch_ConditionalNotModified(t *testing.T) {
	var sawINM atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawINM.Store(r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	doc, err := testFetcher().Fetch(context.Background(), srv.URL, &Conditional{ETag: `"E"`}, nil)
	require.NoError(t, err)
	assert.True(t, doc.Revalidated)
	assert.Empty(t, doc.HTML)
	assert.Equal(t, `"E"`, sawINM.Load())
}

func TestFetch_FollowsRedirectsWithLimit(t *testing.T) {
	var srv *httptest.Server
	hops := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			w.Write([]byte("done"))
			return
		}
		hops++
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer srv.Close()

	doc, err := testFetcher().Fetch(context.Background(), srv.URL+"/start", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, doc.FinalURL, "/final")
	assert.Equal(t, 1, hops)
}

func TestFetch_RedirectLoop(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL+"/a", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeRedirectLoop, apperr.CodeOf(err))
}

func TestFetch_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BackoffBase = 1 // keep the test fast
	f := NewFetcher(cfg, openValidator(), nil)

	doc, err := f.Fetch(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, string(doc.HTML), "recovered")
}

func TestFetch_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamStatus, apperr.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("https://example.com/", true, "default", 50)
	b := Fingerprint("https://example.com/", true, "default", 50)
	c := Fingerprint("https://example.com/", false, "default", 50)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
