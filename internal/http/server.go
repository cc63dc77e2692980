// Package http exposes the import pipeline and stored months as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
	"budget/internal/services"
	"budget/internal/storage"
)

// DefaultMaxUploadBytes bounds an upload body when Options leaves it unset.
const DefaultMaxUploadBytes = 10 << 20

// Uploads stages files and categorizes staged months. *services.UploadService implements it.
type Uploads interface {
	Stage(ctx context.Context, data []byte) (services.UploadSummary, error)
	Categorize(ctx context.Context, uploadID string, req services.ImportRequest) (services.ImportReport, error)
	Discard(uploadID string)
}

// Months reads and maintains stored months. *services.ImportService implements it.
type Months interface {
	Months(ctx context.Context) ([]storage.MonthRecord, error)
	Month(ctx context.Context, key core.MonthKey) (storage.MonthRecord, []core.CategorizedTransaction, error)
	DeleteMonth(ctx context.Context, key core.MonthKey) error
	Rescore(ctx context.Context, key core.MonthKey) (core.MonthStats, error)
	CorrectTransaction(ctx context.Context, id int64, category, subcategory string) (services.Correction, error)
}

// RescoreQueue hands rescoring to the worker. *amqp.Client implements it.
type RescoreQueue interface {
	PublishRescoreRequest(ctx context.Context, month, reason string) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds optional server collaborators.
type Options struct {
	MaxUploadBytes int64
	RateLimit      ratelimit.Config
	Logger         *slog.Logger
	// RescoreQueue enables ?async=true on the rescore endpoint.
	RescoreQueue RescoreQueue
	// Ready is pinged by /readyz.
	Ready Pinger
}

type Server struct {
	http.Server
	uploads        Uploads
	months         Months
	queue          RescoreQueue
	ready          Pinger
	maxUploadBytes int64
	logger         *slog.Logger
	rateLimiter    *ratelimit.Limiter
	tracer         *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, uploads Uploads, months Months, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}

	ips := security.NewClientIPResolver()
	s := &Server{
		uploads:        uploads,
		months:         months,
		queue:          opts.RescoreQueue,
		ready:          opts.Ready,
		maxUploadBytes: maxBytes,
		logger:         applog.WithComponent(logger, applog.ComponentHTTP),
		rateLimiter:    ratelimit.NewLimiter(opts.RateLimit),
		tracer:         trace.NewMiddleware(logger, ips.ExtractClientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/uploads", s.handleUpload)
	mux.HandleFunc("DELETE /api/uploads/{id}", s.handleDiscardUpload)
	mux.HandleFunc("POST /api/uploads/{id}/categorize", s.handleCategorize)

	mux.HandleFunc("GET /api/months", s.handleListMonths)
	mux.HandleFunc("GET /api/months/{month}", s.handleGetMonth)
	mux.HandleFunc("DELETE /api/months/{month}", s.handleDeleteMonth)
	mux.HandleFunc("POST /api/months/{month}/rescore", s.handleRescore)

	mux.HandleFunc("PATCH /api/transactions/{id}", s.handleCorrect)

	limit := s.rateLimiter.Middleware(ips.ExtractClientIP, s.onRateLimited,
		http.MethodPost, http.MethodPatch, http.MethodDelete)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(headers.Middleware(limit(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops background routines and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics returns request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, errorView{Error: "rate limit exceeded, try again later"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
