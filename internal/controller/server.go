// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"sceneplane/internal/controller/handlers"
	"sceneplane/internal/controller/middleware"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Store is what the controller routes need from persistence.
type Store interface {
	handlers.Store
	middleware.UserResolver
}

// Options carries the controller's optional collaborators.
type Options struct {
	// SystemSecret guards POST /users; empty disables registration over HTTP.
	SystemSecret string
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, s Store, jobs handlers.JobService, opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(s, jobs, opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// NewHandler builds the routed API handler.
func NewHandler(s Store, jobs handlers.JobService, opts Options) http.Handler {
	h := handlers.New(s, jobs, opts.Logger)
	authMW := middleware.AuthMiddleware(s)
	rateMW := middleware.NewRateLimiter().Middleware()
	internalMW := middleware.RequireInternalAuth(opts.SystemSecret)

	authed := func(f http.HandlerFunc) http.Handler {
		return authMW(rateMW(f))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	// Public authenticated apis
	mux.Handle("POST /jobs", authed(h.SubmitJob))
	mux.Handle("GET /jobs/outstanding", authed(h.ListOutstandingJobs))
	mux.Handle("GET /jobs/{id}", authed(h.GetJob))

	// Operator endpoints
	mux.Handle("POST /users", internalMW(http.HandlerFunc(h.RegisterUser)))

	return otelhttp.NewHandler(middleware.RequestID(mux), "controller")
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
