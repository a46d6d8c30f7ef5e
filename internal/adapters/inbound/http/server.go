// Package http serves health probes and the operator control API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/p2pwatch/internal/ports/inbound"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// HistoryLimit is used by /api/history and /api/archive when no limit is given.
	HistoryLimit int

	// Archive, when set, backs /api/archive.
	Archive outbound.AttemptArchive
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		HistoryLimit: 10,
	}
}

// Server exposes the watcher over HTTP.
//
// Endpoints:
//   - /health/ready  - 200 once state is loaded and the poll loop runs
//   - /health/live   - 200 while the poll loop keeps completing iterations
//   - /health        - combined status for monitoring
//   - /api/...       - operator control, see registerAPI
//
// Once shuttingDown is set every health endpoint returns 503 so a load
// balancer drains the task before it exits.
type Server struct {
	server       *http.Server
	controller   inbound.Controller
	checker      inbound.HealthChecker
	archive      outbound.AttemptArchive
	shuttingDown *atomic.Bool
	historyLimit int
	logger       *slog.Logger
}

// NewServer creates the HTTP server. It does not start listening.
func NewServer(config ServerConfig, controller inbound.Controller, checker inbound.HealthChecker, shuttingDown *atomic.Bool) (*Server, error) {
	if controller == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}
	if checker == nil {
		return nil, fmt.Errorf("health checker cannot be nil")
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	defaults := ServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}

	s := &Server{
		controller:   controller,
		checker:      checker,
		archive:      config.Archive,
		shuttingDown: shuttingDown,
		historyLimit: config.HistoryLimit,
		logger:       config.Logger.With("component", "http-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.registerAPI(mux)

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsReady() {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsHealthy() {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := s.checker.IsReady()
	healthy := s.checker.IsHealthy()
	status := "ok"
	statusCode := http.StatusOK
	if !ready || !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}
