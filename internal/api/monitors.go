package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/monitoring"
	"github.com/onionwatch/onionwatch/internal/store"
)

type createMonitorRequest struct {
	URL      string `json:"url"`
	Interval int    `json:"interval"`
	Owner    string `json:"owner,omitempty"`
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		monitors, err := s.store.ListMonitors(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		if monitors == nil {
			monitors = []models.Monitor{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"monitors": monitors})

	case http.MethodPost:
		s.createMonitor(w, r)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createMonitor(w http.ResponseWriter, r *http.Request) {
	var req createMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validTarget(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid URL")
		return
	}
	if req.Interval < monitoring.MinIntervalMinutes || req.Interval > monitoring.MaxIntervalMinutes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("interval must be between %d and %d minutes",
			monitoring.MinIntervalMinutes, monitoring.MaxIntervalMinutes))
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = defaultOwner
	}

	m := monitoring.NewMonitor(req.URL, owner, req.Interval)
	err := s.store.CreateMonitor(r.Context(), m, s.cfg.MonitorCap)
	if errors.Is(err, store.ErrMonitorCapReached) {
		writeError(w, http.StatusConflict, fmt.Sprintf("monitor cap of %d reached", s.cfg.MonitorCap))
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	log.Info().Str("monitorId", m.ID).Str("url", m.URL).Int("interval", m.IntervalMinutes).Msg("Monitor created")
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMonitorByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/monitors/")

	if rest == "all" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		n, err := s.store.DeleteAllMonitors(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		log.Info().Int("deleted", n).Msg("All monitors deleted")
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		m, err := s.store.GetMonitor(r.Context(), id)
		s.writeMonitor(w, m, err)

	case action == "" && r.Method == http.MethodDelete:
		err := s.store.DeleteMonitor(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		log.Info().Str("monitorId", id).Msg("Monitor deleted")
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	case action == "pause" && r.Method == http.MethodPost:
		m, err := s.store.SetMonitorPaused(r.Context(), id, true)
		s.writeMonitor(w, m, err)

	case action == "resume" && r.Method == http.MethodPost:
		m, err := s.store.SetMonitorPaused(r.Context(), id, false)
		s.writeMonitor(w, m, err)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) writeMonitor(w http.ResponseWriter, m *models.Monitor, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
