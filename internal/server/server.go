// Package server exposes the exporter's HTTP surface: the Prometheus scrape
// endpoint, the two endpoints of the browser authorization flow and a
// liveness probe.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrko/mb-exporter/internal/exporter"
	"github.com/chrko/mb-exporter/internal/tokensource"
)

// Server routes scrape and authorization traffic to the exporter's
// components.
type Server struct {
	manager    *tokensource.Manager
	authorizer *tokensource.Authorizer
	collector  *exporter.Collector
	metrics    http.Handler
	version    string
	started    time.Time

	handler http.Handler
	server  *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New wires the HTTP routes to the token manager, the authorization flow
// and the metrics collector.
func New(manager *tokensource.Manager, authorizer *tokensource.Authorizer, collector *exporter.Collector, version string) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("missing token manager")
	}
	if authorizer == nil {
		return nil, fmt.Errorf("missing authorizer")
	}
	if collector == nil {
		return nil, fmt.Errorf("missing collector")
	}

	s := &Server{
		manager:    manager,
		authorizer: authorizer,
		collector:  collector,
		version:    version,
		started:    time.Now(),
	}

	// Serve whatever gathers cleanly: a single failing collector must not
	// take the scrape endpoint down with it.
	s.metrics = promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /oauth.auth", s.handleAuth)
	mux.HandleFunc("GET /oauth.redirect", s.handleRedirect)
	mux.HandleFunc("GET /livez", s.handleLivez)

	s.handler = applyMiddlewares(mux,
		Logging(slog.Default()),
		Recovery,
	)

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:     s,
		ReadTimeout: 30 * time.Second,
		// A scrape may ride through a token refresh plus a retried
		// container fetch before the response starts.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
