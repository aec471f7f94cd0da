package api

import (
	"context"
	"fmt"
	"net/http"

	"querybroker/internal/broker/query"
	"querybroker/pkg/config"
	"querybroker/pkg/metrics"
)

// Server wraps the HTTP server and mux for the broker's external query
// interface.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// NewServer builds the broker's JSON HTTP server, registering the query
// entry point and a liveness probe.
func NewServer(cfg config.HTTPConfig, compiler query.Compiler, engine *query.Engine, m *metrics.Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HealthHandler())
	mux.Handle("POST /query", QueryHandler(compiler, engine))

	handler := Chain(m, mux)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{httpServer: srv, handler: handler}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
