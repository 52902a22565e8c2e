// Package server exposes the job triggers over HTTP and runs the requested
// jobs in a background worker.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fclairamb/yachtsync/internal/version"
)

const (
	// HTTP server timeouts.
	readHeaderTimeout = 10 * time.Second // Timeout for reading request headers
	shutdownTimeout   = 30 * time.Second // Timeout for graceful shutdown
	requestTimeout    = 30 * time.Second
)

// Config configures the server.
type Config struct {
	Port        int
	Secret      string
	ResumeDelay time.Duration
	LockTTL     time.Duration
}

// Server is the HTTP trigger surface plus its worker.
type Server struct {
	config     Config
	handler    *Handler
	worker     *Worker
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server. Metrics of gatherer are served on /metrics.
func NewServer(cfg Config, engine Engine, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	worker := NewWorker(engine, WithResumeDelay(cfg.ResumeDelay), WithWorkerLogger(logger))
	handler := NewHandler(engine, worker, cfg.Secret, cfg.LockTTL, logger)

	return &Server{
		config:  cfg,
		handler: handler,
		worker:  worker,
		logger:  logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(handler, gatherer, logger),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// NewRouter wires the routes.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		loggingMiddleware(logger),
	)

	r.Get("/health", h.HandleHealth)
	r.Get("/api/version", h.HandleVersion)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/logs", h.HandleLogs)
		r.Get("/history", h.HandleHistory)
		r.Get("/jobs/{job}/status", h.HandleStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSignature)
			r.Post("/jobs/{job}/start", h.HandleStart)
			r.Post("/jobs/{job}/stop", h.HandleStop)
		})
	})

	return r
}

// Start serves HTTP and runs the worker until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting server",
		"port", s.config.Port,
		"signed", s.config.Secret != "",
		"resume_delay", s.config.ResumeDelay,
		"version", version.Version,
		"commit", version.Commit,
		"build_time", version.GitTime)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.worker.Start(gctx)
	})

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Addr returns the server's address. Useful for testing.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// loggingMiddleware logs all HTTP requests.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(wrapped, req)

			logger.InfoContext(req.Context(), "http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", wrapped.Status(),
				"request_id", middleware.GetReqID(req.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}
