package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var status models.AlertStatus
	switch raw := r.URL.Query().Get("status"); raw {
	case "":
		// all alerts
	case string(models.AlertNew):
		status = models.AlertNew
	case string(models.AlertAcknowledged):
		status = models.AlertAcknowledged
	default:
		writeError(w, http.StatusBadRequest, "invalid alert status filter")
		return
	}

	limit := queryInt(r, "limit", 100)
	alerts, err := s.store.ListAlerts(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/alerts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "acknowledge" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	alert, err := s.store.AcknowledgeAlert(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
