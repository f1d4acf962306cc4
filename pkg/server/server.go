// Package server exposes the guard and its admin operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/telemetry"
)

// RunIDHeader threads a caller's run id into the audit log.
const RunIDHeader = "X-RUN-ID"

// Server is the SpendGuard HTTP API.
type Server struct {
	cfg     *config.Config
	guard   *guard.Guard
	logger  *slog.Logger
	router  chi.Router
	limiter *rateLimiter
}

// New creates a Server wired to g.
func New(cfg *config.Config, g *guard.Guard, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		guard:  g,
		logger: logger.With("component", "server"),
	}
	if cfg.Server.RateLimitRPS > 0 {
		burst := cfg.Server.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.Server.RateLimitRPS) + 1
		}
		s.limiter = newRateLimiter(cfg.Server.RateLimitRPS, burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPMiddleware(s.cfg.Telemetry.ServiceName))
	r.Use(s.logRequests)
	r.Use(s.limitBody)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/api/spendguard/execute", s.handleExecute)
		r.Post("/api/provider/{name}/send", s.handleProviderSend)
	})

	r.Get("/api/budget", s.handleBudgetStatus)
	r.Get("/api/policy", s.handlePolicyGet)
	r.Get("/api/logs", s.handleLogs)

	r.Group(func(r chi.Router) {
		r.Use(adminAuth(s.cfg.Server.AdminSecret))
		r.Post("/api/budget", s.handleBudgetUpdate)
		r.Patch("/api/policy", s.handlePolicyUpdate)
		r.Delete("/api/logs", s.handleLogsClear)
		r.Delete("/api/spendguard/nonces", s.handleNoncesClear)
		r.Delete("/api/spendguard/clear", s.handleClearAll)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("spendguard listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"spendguard_error","code":%d}}`, message, code)
}
