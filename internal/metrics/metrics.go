// Package metrics collects the service counters and histograms on a
// private Prometheus registry and serves the text-format scrape endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns all instruments. A nil *Metrics is safe: every record
// method no-ops, so tests can pass nil freely.
type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal         *prometheus.CounterVec
	cacheOpsTotal        *prometheus.CounterVec
	robotsBlockedTotal   prometheus.Counter
	rateLimitWaitsTotal  prometheus.Counter
	extractionsTotal     *prometheus.CounterVec
	extractionConfidence prometheus.Histogram
	jobTransitionsTotal  *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	activeStreams        prometheus.Gauge
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distill_fetches_total",
		Help: "Outbound document fetches by protocol and status class.",
	}, []string{"protocol", "status"})

	m.cacheOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distill_cache_ops_total",
		Help: "Cache lookups by tier and outcome.",
	}, []string{"tier", "outcome"})

	m.robotsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distill_robots_blocked_total",
		Help: "Requests denied by robots policy.",
	})

	m.rateLimitWaitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distill_rate_limit_waits_total",
		Help: "Requests that waited or were rejected for rate limiting.",
	})

	m.extractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distill_extractions_total",
		Help: "Completed extractions by winning method.",
	}, []string{"method"})

	m.extractionConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "distill_extraction_confidence",
		Help:    "Overall confidence of completed extractions.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	m.jobTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distill_job_transitions_total",
		Help: "Crawl and backfill job state transitions.",
	}, []string{"job", "state"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distill_request_duration_seconds",
		Help:    "API request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	m.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "distill_active_streams",
		Help: "NDJSON streams currently open.",
	})

	m.registry.MustRegister(
		m.fetchesTotal, m.cacheOpsTotal, m.robotsBlockedTotal,
		m.rateLimitWaitsTotal, m.extractionsTotal, m.extractionConfidence,
		m.jobTransitionsTotal, m.requestDuration, m.activeStreams,
	)
	return m
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordFetch(protocol string, status int) {
	if m == nil {
		return
	}
	class := strconv.Itoa(status/100) + "xx"
	m.fetchesTotal.WithLabelValues(protocol, class).Inc()
}

func (m *Metrics) RecordCacheOp(tier string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheOpsTotal.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) RecordRobotsBlock() {
	if m == nil {
		return
	}
	m.robotsBlockedTotal.Inc()
}

func (m *Metrics) RecordRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaitsTotal.Inc()
}

func (m *Metrics) RecordExtraction(method string, confidence float64) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(method).Inc()
	m.extractionConfidence.Observe(confidence)
}

func (m *Metrics) RecordJobTransition(job, state string) {
	if m == nil {
		return
	}
	m.jobTransitionsTotal.WithLabelValues(job, state).Inc()
}

func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}
