// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/api are allowed to import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/mangatrack/internal/feed"
	"github.com/taibuivan/mangatrack/internal/library"
	"github.com/taibuivan/mangatrack/internal/platform/config"
	"github.com/taibuivan/mangatrack/internal/platform/constants"
	"github.com/taibuivan/mangatrack/internal/platform/middleware"
	"github.com/taibuivan/mangatrack/internal/progress"
	"github.com/taibuivan/mangatrack/internal/series"
	"github.com/taibuivan/mangatrack/internal/users/account"
	"github.com/taibuivan/mangatrack/internal/users/auth"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
//
// # Usage
//
// New domains add a field here — no other change to server.go is required.
type Handlers struct {
	// Health serves the liveness probe and the platform status report.
	Health *HealthHandler

	// Auth handles the session lifecycle (register, login, refresh).
	Auth *auth.Handler

	// Account handles profile visibility and device sessions.
	Account *account.Handler

	// Library handles the user's tracked series collection.
	Library *library.Handler

	// Progress applies read-progress mutations and XP awards.
	Progress *progress.Handler

	// Feed serves the chapter-discovery feed.
	Feed *feed.Handler

	// Series handles the catalog: chapters, sources, search, discovery.
	Series *series.Handler
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(context context.Context, cfg *config.Config, log *slog.Logger, verifier middleware.TokenVerifier, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.RateLimit(context))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.Authenticate(verifier))
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.CSRF())
	r.Use(middleware.JSONBody(constants.MaxJSONBodyBytes))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated liveness probe for container orchestration.
	r.Get("/health", h.Health.Liveness)

	// # Application API
	// Endpoint families carry their own per-minute budgets on top of the
	// umbrella authenticated limit; 429 responses include Retry-After.
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Throttle(constants.RateLimitAuthenticatedPerMin, constants.RateLimitWindow))

		api.With(middleware.Throttle(constants.RateLimitPublicPerMin, constants.RateLimitWindow)).
			Get("/health", h.Health.Status)

		api.Route("/auth", func(r chi.Router) {
			r.Use(middleware.Throttle(constants.RateLimitAuthPerMin, constants.RateLimitWindow))
			r.Mount("/", h.Auth.Routes())
		})
		api.Mount("/users", h.Account.Routes())
		api.Mount("/feed", h.Feed.Routes())

		// The progress route lives inside the library subtree but is its
		// own handler, so the engine package stays transport-free.
		api.Route("/library", func(lib chi.Router) {
			lib.Patch("/{id}/progress", h.Progress.Update)
			lib.Mount("/", h.Library.Routes())
		})

		api.Mount("/series", h.Series.Routes())
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
