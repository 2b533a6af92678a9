// Package httpapi exposes the request surface: streaming content fetch,
// batch fetch, crawl control, health, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/auth"
	"github.com/distillhq/distill/internal/crawl"
	"github.com/distillhq/distill/internal/health"
	"github.com/distillhq/distill/internal/metrics"
	"github.com/distillhq/distill/internal/pipeline"
	"github.com/distillhq/distill/internal/quota"
	"github.com/distillhq/distill/internal/ratelimit"
)

// Config controls the HTTP surface.
type Config struct {
	Addr            string         `yaml:"addr"`
	BodyLimit       int64          `yaml:"body_limit"`
	WindowSeconds   int            `yaml:"window_seconds"`
	TierLimits      map[string]int `yaml:"tier_limits"`
	BatchMaxSources int            `yaml:"batch_max_sources"`
	BatchParallel   int            `yaml:"batch_parallel"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the standard surface settings.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		BodyLimit:       1 << 20,
		WindowSeconds:   60,
		TierLimits:      map[string]int{"free": 60, "pro": 300, "enterprise": 1200},
		BatchMaxSources: 20,
		BatchParallel:   4,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = d.BodyLimit
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = d.WindowSeconds
	}
	if len(c.TierLimits) == 0 {
		c.TierLimits = d.TierLimits
	}
	if c.BatchMaxSources <= 0 {
		c.BatchMaxSources = d.BatchMaxSources
	}
	if c.BatchParallel <= 0 {
		c.BatchParallel = d.BatchParallel
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// Deps collects the server's collaborators. Quota, limiters, health, and
// metrics are optional.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Crawls       *crawl.Manager
	Auth         *auth.Authenticator
	Quota        *quota.Manager
	Window       *ratelimit.SlidingWindow
	Global       *ratelimit.GlobalLimiter
	Health       *health.Checker
	Metrics      *metrics.Metrics
}

// Server is the HTTP request surface.
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
}

// NewServer builds the router and middleware chain.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{cfg: cfg.normalized(), deps: deps}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.requestID, s.logging, s.authenticate, s.quotaCheck, s.rateLimit)
	api.HandleFunc("/content/fetch", s.handleFetch).Methods(http.MethodPost)
	api.HandleFunc("/content/batch-fetch", s.handleBatchFetch).Methods(http.MethodPost)
	api.HandleFunc("/crawl", s.handleCrawlStart).Methods(http.MethodPost)
	api.HandleFunc("/crawl/{id}", s.handleCrawlStatus).Methods(http.MethodGet)
	api.HandleFunc("/crawl/{id}/results", s.handleCrawlResults).Methods(http.MethodGet)
	api.HandleFunc("/crawl/{id}", s.handleCrawlCancel).Methods(http.MethodDelete)
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// writeError renders the taxonomy error with its mapped status.
func writeError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	payload := pipeline.ErrorPayload{Code: ae.Code, Message: ae.Message, Details: ae.Details}
	if encErr := json.NewEncoder(w).Encode(payload); encErr != nil {
		log.Warn().Err(encErr).Msg("failed to encode error response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// statusForCode maps an error code to its HTTP status.
func statusForCode(code apperr.Code) int {
	return (&apperr.Error{Code: code}).HTTPStatus()
}
