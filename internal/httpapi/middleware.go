package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/apperr"
	"github.com/distillhq/distill/internal/auth"
	"github.com/distillhq/distill/internal/quota"
)

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets streaming handlers see through the wrapper.
func (w *statusWriter) Flush() {
	if fl, ok := w.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

// requestID echoes X-Request-Id, generating one when absent.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		s.deps.Metrics.ObserveRequest(route, sw.status, elapsed)
		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", route).
			Int("status", sw.status).
			Dur("elapsed", elapsed).
			Str("tenant", auth.TenantFrom(r.Context()).ID).
			Msg("request")
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithTenant(r.Context(), tenant)))
	})
}

// quotaCheck stamps the X-Quota-* headers on every response and rejects
// overage with 429 and the seconds-to-reset Retry-After.
func (s *Server) quotaCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Quota == nil {
			next.ServeHTTP(w, r)
			return
		}
		tenant := auth.TenantFrom(r.Context())
		res, err := s.deps.Quota.Check(r.Context(), tenant.ID)

		w.Header().Set("X-Quota-Limit", strconv.FormatInt(res.Limit, 10))
		w.Header().Set("X-Quota-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Reset.IsZero() {
			w.Header().Set("X-Quota-Reset", res.Reset.UTC().Format(time.RFC3339))
		}
		if err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(quota.RetryAfter(res.Reset, time.Now())))
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the service-wide token bucket, then the per-tenant
// sliding window for the tenant's tier.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := auth.TenantFrom(r.Context())

		if s.deps.Global != nil {
			key := tenant.ID
			if !tenant.Authenticated {
				key = clientIP(r)
			}
			if !s.deps.Global.Allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, rateLimitedError("service is at capacity"))
				return
			}
		}

		if s.deps.Window != nil {
			limit := s.cfg.TierLimits[tenant.Tier]
			if limit <= 0 {
				limit = s.cfg.TierLimits["free"]
			}
			allowed, retry := s.deps.Window.Allow(tenant.ID, limit)
			reset := time.Now().Add(time.Duration(s.cfg.WindowSeconds) * time.Second)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !allowed {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				writeError(w, rateLimitedError(fmt.Sprintf("tier %q allows %d requests per %ds", tenant.Tier, limit, s.cfg.WindowSeconds)))
				return
			}
			remaining := limit - s.deps.Window.Count(tenant.ID)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rateLimitedError(msg string) error {
	return apperr.New(apperr.CodeRateLimited, msg)
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
