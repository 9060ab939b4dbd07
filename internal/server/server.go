// Package server exposes the gateway over an OpenAI-compatible HTTP API.
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

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/CloudCompile/cloudgptapi-sub000/auth"
)

const defaultMaxBodyBytes = 32 << 20

// Server wires identity resolution, quota and routing behind HTTP handlers.
type Server struct {
	router   *cloudgpt.Router
	limiter  *cloudgpt.Limiter
	resolver *auth.Resolver
	logger   *slog.Logger
	maxBody  int64
	now      func() time.Time
	handler  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithClock overrides the clock used for rate-limit headers.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server.
func New(router *cloudgpt.Router, limiter *cloudgpt.Limiter, resolver *auth.Resolver, opts ...Option) *Server {
	s := &Server{
		router:   router,
		limiter:  limiter,
		resolver: resolver,
		maxBody:  defaultMaxBodyBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "server")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/chat/completions", s.handleChat)
		v1.Post("/images/generations", s.handleImages)
		v1.Post("/video/generations", s.handleVideo)
		v1.Post("/embeddings", s.handleEmbeddings)
		v1.Get("/models", s.handleModels)
		v1.Get("/models/{id}", s.handleModel)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ge := cloudgpt.InvalidRequest("not_found", "", "no route for "+r.Method+" "+r.URL.Path)
		ge.Status = http.StatusNotFound
		s.writeError(w, r, ge)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ge := cloudgpt.InvalidRequest("method_not_allowed", "", r.Method+" is not allowed on "+r.URL.Path)
		ge.Status = http.StatusMethodNotAllowed
		s.writeError(w, r, ge)
	})

	s.handler = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams may legitimately run for minutes.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("cloudgpt: serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cloudgpt: shutdown: %w", err)
	}
	return <-errCh
}
