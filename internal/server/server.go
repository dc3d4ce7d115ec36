// Package server exposes the document store over a small REST
// boundary consumed by the CLI and UI collaborators.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/convindex/convindex/internal/store"
)

// Options configures the HTTP server.
type Options struct {
	Host string
	Port int

	// DefaultMaxResults applies when a query omits max_results.
	DefaultMaxResults int
}

// Server wires the HTTP boundary around a document store.
type Server struct {
	store *store.DocumentStore
	opts  Options
	log   *slog.Logger
	http  *http.Server
}

// New creates a server over the given store.
func New(st *store.DocumentStore, opts Options) *Server {
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 5
	}
	s := &Server{
		store: st,
		opts:  opts,
		log:   slog.Default().With(slog.String("component", "server")),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the router. Exposed separately so tests can drive the
// routes without a listening socket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/status", s.handleStatus)
	r.Post("/query", s.handleQuery)
	r.Post("/insert", s.handleInsert)
	r.Post("/delete", s.handleDelete)
	r.Post("/clear", s.handleClear)

	return r
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
