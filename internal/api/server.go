// Package api provides the HTTP surface of the loadout daemon: health,
// Prometheus metrics, stored scan reports and the mass run schedules.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/loadout/internal/api/middleware"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/report"
	"github.com/anstrom/loadout/internal/scheduler"
	"github.com/anstrom/loadout/internal/store"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	healthCheckTimeout     = 5 * time.Second
)

// Config holds API server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DefaultConfig returns default API server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:9464",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Pinger checks the database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Store is the read side of the store the API serves from.
type Store interface {
	report.Reader
	ListScansByTarget(ctx context.Context, fragment string) ([]store.Scan, error)
	ListMassFindings(ctx context.Context, massID int64) ([]store.FindingDetail, error)
}

// Schedules exposes the scheduler to the API.
type Schedules interface {
	GetJobs() []scheduler.ScheduledJob
	Trigger(massType string) error
}

// Metrics is the Prometheus side of the server.
type Metrics interface {
	middleware.HTTPRecorder
	GetRegistry() *prometheus.Registry
}

// Deps are the collaborators the handlers use. Nil fields disable the
// endpoints that need them.
type Deps struct {
	Database  Pinger
	Store     Store
	Schedules Schedules
	Metrics   Metrics
}

// Server represents the API server.
type Server struct {
	httpServer      *http.Server
	router          *mux.Router
	deps            Deps
	logger          *logging.Logger
	shutdownTimeout time.Duration
	startTime       time.Time
}

// New creates a new API server instance.
func New(cfg Config, deps Deps, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		router:          mux.NewRouter(),
		deps:            deps,
		logger:          logger.WithComponent("api"),
		shutdownTimeout: cfg.ShutdownTimeout,
		startTime:       time.Now(),
	}
	s.setupRoutes()
	s.setupMiddleware()

	var handler http.Handler = s.router
	if len(cfg.CORSOrigins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(handler)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handlers.ProxyHeaders(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server", "address", listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetAddress returns the configured listen address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.GetRegistry(),
			promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	api.HandleFunc("/scans", s.listScansHandler).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id:[0-9]+}", s.getScanHandler).Methods(http.MethodGet)
	api.HandleFunc("/mass/{id:[0-9]+}/findings", s.massFindingsHandler).Methods(http.MethodGet)

	api.HandleFunc("/schedules", s.listSchedulesHandler).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{type}/trigger", s.triggerScheduleHandler).Methods(http.MethodPost)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	if s.deps.Metrics != nil {
		s.router.Use(middleware.Metrics(s.deps.Metrics))
	}
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}
