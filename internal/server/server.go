package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/storage"
	"github.com/desertthunder/stemx/internal/tasks"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is a group of endpoints that registers its own routes.
type Handler interface {
	Register(r Router)
}

// Router defines HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler lets a handler group register its routes
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// JobLister reads persisted job history.
type JobLister interface {
	List(ctx context.Context, limit int) ([]*models.JobRecord, error)
}

// Options configure a [Server].
type Options struct {
	Runner *jobs.Runner
	Engine *tasks.MediaEngine
	// History, when set, backs GET /jobs/history.
	History JobLister
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	Logger  *log.Logger
	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration
}

// Server exposes the job runner and the library over HTTP.
type Server struct {
	runner   *jobs.Runner
	engine   *tasks.MediaEngine
	store    *storage.Synchronizer
	history  JobLister
	metrics  http.Handler
	logger   *log.Logger
	upgrader websocket.Upgrader
	shutdown time.Duration
}

// New creates a new Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		runner:   opts.Runner,
		engine:   opts.Engine,
		store:    opts.Engine.Store(),
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		shutdown: opts.ShutdownTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the router with every endpoint and the default middleware stack.
func (s *Server) Routes() http.Handler {
	r := NewBasicRouter()
	r.Use(Recoverer(s.logger), RequestLogger(s.logger), CORS)

	r.Handler(&JobHandler{server: s})
	r.Handler(&LibraryHandler{server: s})
	if s.metrics != nil {
		r.Handle(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully. Running jobs are not waited for.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
