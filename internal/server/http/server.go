// Package httpserver provides the HTTP API of the Unpaywall client: record
// lookups, links, batch tables, search and cache administration.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/unpaywall-client/internal/cache"
	"github.com/helixir/unpaywall-client/internal/lookup"
	"github.com/helixir/unpaywall-client/internal/observability"
	"github.com/helixir/unpaywall-client/internal/table"
)

// Lookup is the part of the lookup client served over HTTP.
// *lookup.Client implements it.
type Lookup interface {
	JSON(ctx context.Context, doi string, opts lookup.Options) (map[string]any, error)
	DocLink(ctx context.Context, doi string, opts lookup.Options) (string, error)
	PDFLink(ctx context.Context, doi string, opts lookup.Options) (string, error)
	AllLinks(ctx context.Context, doi string, opts lookup.Options) ([]string, error)
	Records(ctx context.Context, dois any, opts lookup.Options) (*table.Table, error)
	Query(ctx context.Context, text string, isOA *bool, opts lookup.Options) (*table.Table, error)
}

var _ Lookup = (*lookup.Client)(nil)

// CacheAdmin is the part of the response cache exposed for administration.
// *cache.ResponseCache implements it.
type CacheAdmin interface {
	Delete(ctx context.Context, doi string) error
	Reset(ctx context.Context) error
	PruneExpired(ctx context.Context) (int, error)
	Entries() []cache.Entry
	TimedOut(doi string) (bool, error)
	Len() int
	Location() string
}

var _ CacheAdmin = (*cache.ResponseCache)(nil)

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	lookup     Lookup
	cache      CacheAdmin
	validate   *validator.Validate
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	ping       func(ctx context.Context) error
	logger     zerolog.Logger
	cfg        Config
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MetricsPath serves the gatherer when both are set.
	MetricsPath string
}

// Option configures a Server.
type Option func(*Server)

// WithCacheAdmin enables the /cache routes.
func WithCacheAdmin(c CacheAdmin) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithMetrics records request metrics and serves g at Config.MetricsPath.
func WithMetrics(m *observability.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithHealthCheck makes /healthz check the cache store with ping and answer
// 503 when it fails.
func WithHealthCheck(ping func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.ping = ping
	}
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, l Lookup, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		lookup:   l,
		validate: validator.New(),
		logger:   observability.WithComponent(logger, "http-server"),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware(s.metrics))

	r.Get("/healthz", s.healthHandler)
	if s.gatherer != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Get("/v2/search", s.search)
		r.Get("/v2/*", s.getRecord)
		r.Get("/links/*", s.getLinks)
		r.Post("/records", s.postRecords)

		r.Route("/cache", func(r chi.Router) {
			r.Use(s.requireCache)
			r.Get("/", s.listCache)
			r.Delete("/", s.resetCache)
			r.Post("/prune", s.pruneCache)
			r.Delete("/*", s.deleteCacheEntry)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ShutdownTimeout returns the configured grace period for Shutdown.
func (s *Server) ShutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.ShutdownTimeout
}

// healthHandler reports liveness and, when configured, store reachability.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.cache != nil {
		resp.Cache = s.cache.Location()
		resp.CacheEntries = s.cache.Len()
	}

	status := http.StatusOK
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			observability.LoggerFromContext(r.Context(), s.logger).Warn().Err(err).Msg("cache store unreachable")
			resp.Status = "unavailable"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// requireCache answers 404 when no cache administration is configured.
func (s *Server) requireCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cache == nil {
			writeError(w, http.StatusNotFound, "the response cache is disabled for this backend")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}
