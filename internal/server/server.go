// Package server is the composition root: it opens storage, builds the
// services and mounts every route.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → sqlite.DB (migrated, server_config seeded)
//	  → events.Bus (+ log subscriber)
//	  → UserService, ServerInfoService, AuthService
//	  → AuthHandler, UserHandler, AdminHandler
//	  → chi router
//
// Keeping the wiring here leaves main.go with nothing but "load config,
// build server, start".
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/tenant-accounts/internal/auth"
	"github.com/sakif/tenant-accounts/internal/config"
	"github.com/sakif/tenant-accounts/internal/events"
	"github.com/sakif/tenant-accounts/internal/handler"
	"github.com/sakif/tenant-accounts/internal/middleware"
	"github.com/sakif/tenant-accounts/internal/model"
	sqliteRepo "github.com/sakif/tenant-accounts/internal/repository/sqlite"
	"github.com/sakif/tenant-accounts/internal/service"
)

const eventQueueSize = 1000

// Server owns the HTTP router and the resources behind it. The database and
// the event bus are closed when Start returns, or by Close.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	bus    *events.Bus
}

// New opens the database, seeds server settings and wires all routes.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if !cfg.AuthEnabled() {
		return nil, errors.New("server: JWT_SECRET is required")
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("server: creating token service: %w", err)
	}

	db, err := sqliteRepo.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}
	if err := db.EnsureServerInfo(ctx, model.ServerInfo{
		Name:             cfg.ServerName,
		GuestModeEnabled: cfg.GuestModeEnabled,
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("server: seeding server info: %w", err)
	}

	bus := events.NewBus(logger, eventQueueSize)
	bus.Subscribe(events.LogSubscriber(logger))

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		bus:    bus,
	}

	passwords := auth.NewPasswordService(cfg.BcryptCost, cfg.PasswordMinLength)
	s.setupRoutes(tokens, passwords)
	return s, nil
}

// setupRoutes mounts every route.
//
// ROUTE STRUCTURE:
//
//	POST   /auth/register               → create account, start session
//	POST   /auth/login                  → start session
//	POST   /auth/logout                 → clear session cookie
//	GET    /auth/github/login           → redirect to GitHub (if configured)
//	GET    /auth/github/callback        → find or create account from GitHub
//	GET    /api/me                      → own profile and role
//	PUT    /api/me                      → edit own profile
//	PUT    /api/me/password             → change own password
//	GET    /api/users/search            → restricted search
//	GET    /api/admin/users             → list users + total
//	POST   /api/admin/users             → create user with role
//	GET    /api/admin/users/{id}        → one user + role
//	PUT    /api/admin/users/{id}/role   → change role
//	DELETE /api/admin/users/{id}        → delete user and cascade
//	GET    /api/admin/server-info       → server settings
//	PUT    /api/admin/server-info       → edit server settings
//
// MIDDLEWARE ORDER:
// RequestID first so the logger sees it; Recoverer inside the logger so a
// panic is logged as the 500 it becomes.
func (s *Server) setupRoutes(tokens *auth.TokenService, passwords *auth.PasswordService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	users := service.NewUserService(s.db, passwords, s.bus, s.logger)
	settings := service.NewServerInfoService(s.db, s.logger)
	authn := service.NewAuthService(users, tokens, s.logger)

	var github handler.IdentityProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
	} else {
		s.logger.Warn("GitHub credentials not set, GitHub sign-in is disabled")
	}

	authHandler := handler.NewAuthHandler(authn, github, tokens.TTL(), s.logger)
	userHandler := handler.NewUserHandler(users, s.logger)
	adminHandler := handler.NewAdminHandler(users, settings, s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/me", userHandler.HandleMe)
		r.Put("/me", userHandler.HandleUpdateMe)
		r.Put("/me/password", userHandler.HandleChangePassword)
		r.Get("/users/search", userHandler.HandleSearch)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(users, model.RoleAdmin))

			r.Get("/users", adminHandler.HandleList)
			r.Post("/users", adminHandler.HandleCreate)
			r.Get("/users/{id}", adminHandler.HandleGet)
			r.Put("/users/{id}/role", adminHandler.HandleChangeRole)
			r.Delete("/users/{id}", adminHandler.HandleDelete)
			r.Get("/server-info", adminHandler.HandleGetServerInfo)
			r.Put("/server-info", adminHandler.HandleUpdateServerInfo)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close drains pending events and closes the database.
func (s *Server) Close() error {
	s.bus.Close()
	return s.db.Close()
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully: stop
// accepting connections, let in-flight requests finish (30s), deliver queued
// events, close the database.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
