// Package web provides the HTTP API for HCPCS code validation.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/cdmmerge/internal/cache"
	"github.com/JonMunkholm/cdmmerge/internal/config"
	"github.com/JonMunkholm/cdmmerge/internal/core"
	"github.com/JonMunkholm/cdmmerge/internal/logging"
	"github.com/JonMunkholm/cdmmerge/internal/provider"
	"github.com/JonMunkholm/cdmmerge/internal/stream"
	mw "github.com/JonMunkholm/cdmmerge/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Validator runs validation. *core.Orchestrator implements it.
type Validator interface {
	ValidateCodes(ctx context.Context, codes []string) (*core.Response, error)
	StreamCodes(ctx context.Context, codes []string) *stream.Stream[core.Response]
}

// CacheAdmin is the cache maintenance surface. *cache.Cache implements it.
type CacheAdmin interface {
	Stats(ctx context.Context) cache.Stats
	Clear(ctx context.Context)
	ClearStale(ctx context.Context) int
}

// ProviderAdmin is the provider pool surface. *provider.Pool implements it.
type ProviderAdmin interface {
	Status() []provider.ProviderStatus
	ResetQuotas()
}

// Deps are the components a Server fronts.
type Deps struct {
	Validator Validator
	Cache     CacheAdmin
	Providers ProviderAdmin
	Limiter   *core.RunLimiter
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP server for the validation service.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)

	// Security hardening
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute).Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		// Validation runs
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(mw.NewRateLimiter(s.cfg.Rate.ValidateLimit).Middleware)
			}
			r.Post("/validate", s.handleValidate)
			r.Post("/validate/stream", s.handleValidateStream)
			r.Post("/validate/upload", s.handleValidateUpload)
		})
		r.Get("/runs", s.handleRunStatus)

		// Cache maintenance
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/clear", s.handleCacheClear)
		r.Post("/cache/sweep", s.handleCacheSweep)

		// Providers
		r.Get("/providers", s.handleProviders)
		r.Post("/providers/reset", s.handleProvidersReset)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight runs to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	// Streams whose client left keep running until write-back.
	if s.deps.Limiter != nil {
		return s.deps.Limiter.WaitForDrain(ctx)
	}
	return nil
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
