// Package api exposes the HTTP interface for the posting store.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/applied"
	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
	"github.com/JakeFAU/realtime-job-postings/internal/lease"
	"github.com/JakeFAU/realtime-job-postings/internal/logging"
	"github.com/JakeFAU/realtime-job-postings/internal/metrics"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/rebuild"
	"github.com/JakeFAU/realtime-job-postings/internal/statscache"
)

const requestTimeout = 60 * time.Second

// Invoker runs store invocations. *ingest.Pipeline satisfies it.
type Invoker interface {
	Run(ctx context.Context) (ingest.Result, error)
	Ingest(ctx context.Context, raws []posting.RawPosting) (ingest.Result, error)
	Rebuild(ctx context.Context, months []string) (rebuild.Report, error)
	ClearMonth(ctx context.Context, month string) (statscache.ClearMonthResult, error)
}

// RunLister reads back the invocation ledger.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]ingest.Run, error)
}

// Deps are the collaborators behind the HTTP handlers. Runs may be nil.
type Deps struct {
	Pipeline Invoker
	Store    *objectstore.Adapter
	Applied  *applied.Store
	Runs     RunLister
	Clock    posting.Clock
}

// Options tune the router.
type Options struct {
	APIKey       string
	CacheControl string
}

// Server wires HTTP handlers to the ingest pipeline and stores.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. An empty
// APIKey disables authentication.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	s := &Server{deps: deps, opts: opts, logger: logging.OrNop(logger).Named("api")}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/ingest", s.runIngest)
		r.Post("/ingest/postings", s.ingestPostings)
		r.Post("/rebuild", s.rebuild)
		r.Route("/stats", func(r chi.Router) {
			r.Get("/current", s.currentStats)
			r.Get("/all", s.allStats)
			r.Get("/archive/{month}", s.archivedMonth)
			r.Delete("/archive/{month}", s.clearMonth)
		})
		r.Route("/applied", func(r chi.Router) {
			r.Post("/", s.addApplication)
			r.Get("/", s.listApplications)
			r.Delete("/", s.clearApplications)
			r.Get("/stats", s.appliedStats)
		})
		r.Get("/runs", s.listRuns)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Store == nil || !s.deps.Store.IsAvailable() {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": s.deps.Store.Name()})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// statusFor maps a store error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, objectstore.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, statscache.ErrMonthNotFound):
		return http.StatusNotFound
	case errors.Is(err, statscache.ErrInvalidMonth),
		errors.Is(err, applied.ErrInvalidMonth),
		errors.Is(err, posting.ErrMalformedRecord):
		return http.StatusBadRequest
	case errors.Is(err, lease.ErrHeld), errors.Is(err, objectstore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}
