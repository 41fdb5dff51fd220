// Package server provides the HTTP server and routing for the finance
// tracker. Every data route resolves the active identity's engine through
// the auth machine; there is no way to reach a store the machine has not
// opened.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Skryensya/logdr.io-sub000/internal/auth"
	"github.com/Skryensya/logdr.io-sub000/internal/auth/gate"
	"github.com/Skryensya/logdr.io-sub000/internal/config"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
	"github.com/Skryensya/logdr.io-sub000/internal/ledger"
)

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	Config   *config.Config
	Machine  *auth.Machine
	Secrets  *gate.SecretGate
	Platform *gate.PlatformGate
	Stores   *ledger.Registry
	Bus      *events.Bus
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	cfg      *config.Config
	machine  *auth.Machine
	secrets  *gate.SecretGate
	platform *gate.PlatformGate
	stores   *ledger.Registry
	bus      *events.Bus

	systemHandlers *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		cfg:      cfg.Config,
		machine:  cfg.Machine,
		secrets:  cfg.Secrets,
		platform: cfg.Platform,
		stores:   cfg.Stores,
		bus:      cfg.Bus,
	}
	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.Stores, cfg.Machine)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		eventsStreamHandler := NewEventsStreamHandler(s.bus, s.log)
		r.Get("/events/stream", eventsStreamHandler.ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", s.handleAuthStatus)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Post("/unlock/secret", s.handleUnlockSecret)
			r.Post("/unlock/platform/begin", s.handleBeginPlatformUnlock)
			r.Post("/unlock/platform/complete", s.handleCompletePlatformUnlock)
			r.Delete("/data", s.handleDestroyData)

			// Gate enrollment requires an unlocked state.
			r.Route("/gate", func(r chi.Router) {
				r.Use(s.requireUnlocked)
				r.Post("/secret", s.handleSetupSecret)
				r.Put("/secret", s.handleChangeSecret)
				r.Delete("/secret", s.handleRemoveSecret)
				r.Get("/credentials", s.handleListCredentials)
				r.Post("/credentials", s.handleRegisterCredential)
				r.Delete("/credentials/{credentialID}", s.handleRemoveCredential)
			})
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Post("/integrity", s.systemHandlers.HandleIntegrityCheck)
		})

		// Everything below operates on the active identity's store.
		r.Group(func(r chi.Router) {
			r.Use(s.requireUnlocked)

			r.Get("/user", s.handleGetUser)
			r.Patch("/user", s.handleUpdateUser)
			r.Get("/settings", s.handleGetSettings)
			r.Patch("/settings", s.handleUpdateSettings)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", s.handleListAccounts)
				r.Post("/", s.handleCreateAccount)
				r.Get("/{accountID}", s.handleGetAccount)
				r.Patch("/{accountID}", s.handleUpdateAccount)
				r.Get("/{accountID}/balance", s.handleAccountBalance)
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", s.handleListCategories)
				r.Post("/", s.handleCreateCategory)
				r.Get("/{categoryID}", s.handleGetCategory)
				r.Patch("/{categoryID}", s.handleUpdateCategory)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", s.handleListTransactions)
				r.Post("/", s.handleCreateTransaction)
				r.Get("/{transactionID}", s.handleGetTransaction)
				r.Post("/{transactionID}/reverse", s.handleReverseTransaction)
			})

			r.Route("/lines", func(r chi.Router) {
				r.Post("/{lineID}/correct", s.handleCorrectLine)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/monthly/{yearMonth}", s.handleMonthlyReport)
				r.Get("/categories/{yearMonth}", s.handleCategoryBreakdown)
			})

			r.Get("/export", s.handleExport)
			r.Post("/views/rebuild", s.handleRebuildViews)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
