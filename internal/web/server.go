// Package web serves the import API: file and remote-list imports, previews,
// run progress, saved field mappings, health and metrics.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/runs"
	"github.com/JonMunkholm/tabimport/internal/store/postgres"
	"github.com/JonMunkholm/tabimport/internal/web/middleware"
)

// RunHistory lists finished runs.
type RunHistory interface {
	ListRuns(ctx context.Context, kind core.Kind, limit int) ([]postgres.RunEntry, error)
}

// Deps are the services behind the API. Mappings, History, Metrics and Ping
// are optional.
type Deps struct {
	Runs     *runs.Manager
	Mappings core.MappingStore
	History  RunHistory
	Metrics  http.Handler
	Ping     func(context.Context) error
}

// Server is the HTTP server of the import API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *chi.Mux
	server *http.Server

	stop context.CancelFunc
}

// NewServer builds the router. Call Start to listen.
func NewServer(cfg *config.Config, deps Deps) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		stop:   stop,
	}
	s.setupMiddleware(ctx)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(ctx context.Context) {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := middleware.NewRateLimiter(ctx, s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.Middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Get("/kinds", s.handleListKinds)

		// Imports
		r.Post("/import/{kind}", s.handleImport)
		r.Post("/import/{kind}/remote", s.handleImportRemote)
		r.Post("/preview/{kind}", s.handlePreview)

		// Runs
		r.Get("/runs/{runID}", s.handleRunProgress)
		r.Get("/runs/{runID}/events", s.handleRunEvents)
		r.Get("/runs/{runID}/result", s.handleRunResult)
		r.Post("/runs/{runID}/cancel", s.handleCancelRun)
		r.Get("/history/{kind}", s.handleHistory)

		// Field mappings
		r.Get("/mappings/{kind}", s.handleGetMappings)
		r.Put("/mappings/{kind}", s.handlePutMapping)
		r.Post("/mappings/{kind}/auto", s.handleAutoMap)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Warn("json encode failed", "error", err)
	}
}
