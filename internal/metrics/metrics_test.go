package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeEndpoint(t *testing.T) {
	m := New()
	m.RecordFetch("http", 200)
	m.RecordFetch("browser", 502)
	m.RecordCacheOp("memory", true)
	m.RecordCacheOp("redis", false)
	m.RecordRobotsBlock()
	m.RecordRateLimitWait()
	m.RecordExtraction("readability", 0.82)
	m.RecordJobTransition("crawl", "completed")
	m.ObserveRequest("/v1/content/fetch", 200, 120*time.Millisecond)
	m.StreamOpened()
	m.StreamClosed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `distill_fetches_total{protocol="http",status="2xx"} 1`)
	assert.Contains(t, body, `distill_cache_ops_total{outcome="hit",tier="memory"} 1`)
	assert.Contains(t, body, "distill_robots_blocked_total 1")
	assert.Contains(t, body, `distill_extractions_total{method="readability"} 1`)
	assert.Contains(t, body, "distill_active_streams 0")
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.RecordFetch("http", 200)
	m.RecordCacheOp("memory", false)
	m.RecordRobotsBlock()
	m.RecordRateLimitWait()
	m.RecordExtraction("x", 0.5)
	m.RecordJobTransition("backfill", "failed")
	m.ObserveRequest("/", 500, time.Second)
	m.StreamOpened()
	m.StreamClosed()
}
