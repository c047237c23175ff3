package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/cps-immigrant-etl/internal/pipeline"
)

// SnapshotSource provides the datasets served by the query API. It doubles
// as the readiness checker: the service is ready once a snapshot exists.
type SnapshotSource interface {
	sharedobs.ReadinessChecker
	Current() *pipeline.Snapshot
}

// Server exposes health, readiness, metrics, and the read-only query API.
type Server struct {
	httpServer *http.Server
	snapshots  SnapshotSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and the
// /api/v1 query routes.
func NewServer(addr string, snapshots SnapshotSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		snapshots: snapshots,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(snapshots))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/dataset", s.withSnapshot(s.handleDataset))
	mux.HandleFunc("GET /api/v1/summary", s.withSnapshot(s.handleSummary))
	mux.HandleFunc("GET /api/v1/top-countries", s.withSnapshot(s.handleTopCountries))
	mux.HandleFunc("GET /api/v1/countries", s.withSnapshot(s.handleCountries))
	mux.HandleFunc("GET /api/v1/years", s.withSnapshot(s.handleYears))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
