// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contraverify/internal/auth"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/middleware/logging"
	"github.com/pendergraft/contraverify/internal/middleware/ratelimit"
	"github.com/pendergraft/contraverify/internal/middleware/realip"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/transport"
)

// unlimitedPaths bypass rate limiting.
var unlimitedPaths = []string{"/health", "/healthz", "/readyz", "/metrics"}

// Server is the HTTP server
type Server struct {
	cfg     *config.Config
	store   storage.Store
	logger  *slog.Logger
	router  *chi.Mux
	limiter *ratelimit.RateLimiter

	verificationSvc transport.Service
	history         domain.History
}

// New creates a new server. Every run of verifier is recorded in store.
func New(cfg *config.Config, store storage.Store, verifier domain.Verifier, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		router:  chi.NewRouter(),
		history: domain.NewHistory(store),
	}

	svc := domain.LoggingMiddleware(logger)(verifier)
	svc = domain.InstrumentingMiddleware(metrics.VerificationRun)(svc)
	s.verificationSvc = domain.RecordingMiddleware(s.history, logger)(svc)

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			Enabled:        true,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			BurstSize:      cfg.RateLimit.BurstSize,
			CleanupMinutes: cfg.RateLimit.CleanupMinutes,
		})
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// realip first so every later middleware sees the client address
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))
	s.router.Use(maxBodySize(s.cfg.Security.MaxBodySizeMB))
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware(unlimitedPaths...))
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Handle("/metrics", metrics.Handler())

	verificationHandler := transport.NewHandler(s.verificationSvc, s.history)

	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	s.router.Route("/api/v1/verifications", func(r chi.Router) {
		verificationHandler.RegisterReadRoutes(r)

		// starting a run calls out to explorers, so it needs a key
		r.Group(func(r chi.Router) {
			requireAuth(r)
			verificationHandler.RegisterWriteRoutes(r)
		})
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeout) * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady also checks that the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.ListReports(ctx, storage.ReportFilter{}, storage.PaginationParams{Limit: 1}); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
