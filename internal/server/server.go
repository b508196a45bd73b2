package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/m3ugate/m3ugate/internal/handler"
	"github.com/m3ugate/m3ugate/internal/metrics"
	"github.com/m3ugate/m3ugate/internal/server/middleware"
	"github.com/m3ugate/m3ugate/internal/service"
	"github.com/m3ugate/m3ugate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	PlaylistPath    string
	RateLimit       int  // playlist and session requests per minute per IP; 0 disables
	TrustProxy      bool // honour X-Forwarded-For / X-Real-IP
	PublicURL       string
	SessionTTL      time.Duration
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            3001,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		PlaylistPath:    "exported.m3u",
		RateLimit:       120,
		TrustProxy:      true,
		SessionTTL:      24 * time.Hour,
		Version:         "dev",
	}
}

// Deps are the services the router dispatches to.
type Deps struct {
	Store     *store.Store
	Directory *service.Directory
	Journal   *service.Journal
	Gateway   *service.Gateway
	Auth      *service.AuthService
	// MCP, when set, is mounted at /mcp behind admin authentication.
	MCP http.Handler
}

// Server is the top-level HTTP server for m3ugate. It owns the Chi router
// and the store, which it closes on shutdown.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	// --- Probes and documents (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.PublicURL, s.cfg.Version).ServeSpec)

	// --- Gateway ---
	playlist := handler.NewPlaylistHandler(s.deps.Gateway, s.cfg.PlaylistPath, s.logger)
	r.With(middleware.RateLimit(s.cfg.RateLimit)).Get("/playlist.m3u", playlist.ServePlaylist)

	// --- Admin API ---
	admin := handler.NewAdminHandler(s.deps.Directory, s.deps.Journal, s.deps.Auth, s.cfg.PublicURL, s.cfg.SessionTTL)
	r.Route("/admin", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))

		// Session exchange authenticates with the key in the body.
		r.With(middleware.RateLimit(s.cfg.RateLimit)).Post("/session", admin.CreateSession)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(s.deps.Auth))

			r.Get("/users", admin.ListUsers)
			r.Post("/users", admin.CreateUser)
			r.Get("/users/{username}", admin.GetUser)
			r.Put("/users/{username}", admin.UpdateUser)
			r.Delete("/users/{username}", admin.DeleteUser)
			r.Put("/users/{username}/status", admin.SetStatus)
			r.Post("/users/{username}/renew", admin.RenewUser)
			r.Post("/users/{username}/regenerate", admin.RegenerateToken)
			r.Post("/users/{username}/reset-devices", admin.ResetDevices)
			r.Get("/users/{username}/devices", admin.ListDevices)

			r.Get("/logs", admin.ListLogs)
		})
	})

	// --- MCP over streamable HTTP ---
	if s.deps.MCP != nil {
		r.With(middleware.AdminAuth(s.deps.Auth)).Handle("/mcp", s.deps.MCP)
	}

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store answers a
// ping, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status, httpStatus := "ok", http.StatusOK
	check := "ok"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		status, httpStatus = "unavailable", http.StatusServiceUnavailable
		check = "error: " + err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": map[string]string{"store": check},
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then drains in-flight requests and closes the store.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "playlist", s.cfg.PlaylistPath)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.deps.Store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
