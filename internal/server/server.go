package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Health reports liveness facts for the /healthz endpoint.
type Health interface {
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	// Paused reports whether the global kill switch is active.
	Paused() bool
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

// New builds the ingress router with the standard middleware chain.
// Handlers are mounted on Router by the caller before Start.
func New(port int, timeout time.Duration, logger *slog.Logger, health Health) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "agentguard")
	})

	r.Get("/healthz", healthHandler(health))

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

func healthHandler(health Health) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		body := map[string]any{"status": status}
		if health != nil {
			if err := health.Ping(r.Context()); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
				body["storage"] = err.Error()
			}
			body["paused"] = health.Paused()
		}
		body["status"] = status
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
