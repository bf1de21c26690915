// Package api exposes the HTTP surface: on-demand scans, history and
// comparison reads, monitor CRUD and alert acknowledgement.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

// defaultOwner is the logical owner applied when a request names none.
// Ownership is pluggable; without authentication every caller shares it.
const defaultOwner = "default"

// Runner executes one scan. Satisfied by the scan orchestrator.
type Runner interface {
	Scan(ctx context.Context, target string) (*models.ScanRecord, error)
}

// Config holds API settings.
type Config struct {
	ListenAddr string
	MonitorCap int
}

// Server is the HTTP API server.
type Server struct {
	store  *store.Store
	runner Runner
	cfg    Config
	mux    *http.ServeMux
	http   *http.Server
}

// New creates a Server and registers its routes.
func New(s *store.Store, runner Runner, cfg Config) *Server {
	if cfg.MonitorCap <= 0 {
		cfg.MonitorCap = 5
	}
	srv := &Server{
		store:  s,
		runner: runner,
		cfg:    cfg,
		mux:    http.NewServeMux(),
	}
	srv.routes()
	srv.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // scans may run to the full pipeline bound
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/scan", s.handleScan)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/history/", s.handleHistoryByID)
	s.mux.HandleFunc("/compare/", s.handleCompare)
	s.mux.HandleFunc("/monitors", s.handleMonitors)
	s.mux.HandleFunc("/monitors/", s.handleMonitorByID)
	s.mux.HandleFunc("/alerts", s.handleAlerts)
	s.mux.HandleFunc("/alerts/", s.handleAlertAction)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("API server listening")
	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
