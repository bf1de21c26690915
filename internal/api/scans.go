package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

type scanRequest struct {
	URL string `json:"url"`
}

// historyEntry is the trimmed per-record shape of the history listing.
type historyEntry struct {
	ID              string           `json:"id"`
	URL             string           `json:"url"`
	Fingerprint     string           `json:"fingerprint"`
	Timestamp       time.Time        `json:"timestamp"`
	URLStatus       models.URLStatus `json:"urlStatus"`
	StatusCode      *int             `json:"statusCode,omitempty"`
	Title           string           `json:"title,omitempty"`
	ThreatScore     int              `json:"threatScore"`
	RiskLevel       models.RiskLevel `json:"riskLevel"`
	Category        string           `json:"category"`
	EmailCount      int              `json:"emailCount"`
	CryptoCount     int              `json:"cryptoCount"`
	MalwareDetected bool             `json:"malwareDetected"`
	ContentChanged  bool             `json:"contentChanged"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validTarget(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid URL")
		return
	}

	rec, err := s.runner.Scan(r.Context(), req.URL)
	if err != nil {
		log.Error().Err(err).Str("url", req.URL).Msg("On-demand scan failed")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	recs, err := s.store.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	entries := make([]historyEntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, summarizeRecord(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

func (s *Server) handleHistoryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/history/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	rec, err := s.store.ScanByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/compare/")
	fingerprint, err := url.PathUnescape(raw)
	if err != nil || fingerprint == "" {
		writeError(w, http.StatusNotFound, "insufficient scan history for comparison")
		return
	}
	fingerprint = repairScheme(fingerprint)
	if !strings.Contains(fingerprint, "://") {
		// Bare host form; fingerprints always carry a scheme.
		fingerprint = "http://" + fingerprint
	}

	cmp, err := s.store.Compare(r.Context(), models.Fingerprint(fingerprint))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "insufficient scan history for comparison")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func summarizeRecord(rec *models.ScanRecord) historyEntry {
	return historyEntry{
		ID:              rec.ID,
		URL:             rec.URL,
		Fingerprint:     rec.Fingerprint,
		Timestamp:       rec.Timestamp,
		URLStatus:       rec.URLStatus,
		StatusCode:      rec.StatusCode,
		Title:           rec.Title,
		ThreatScore:     rec.ThreatScore,
		RiskLevel:       rec.RiskLevel,
		Category:        rec.Category,
		EmailCount:      len(rec.Emails),
		CryptoCount:     len(rec.CryptoAddresses),
		MalwareDetected: rec.MalwareDetected(),
		ContentChanged:  rec.ContentChanged,
	}
}

// repairScheme restores the double slash that path cleaning collapses out
// of an embedded URL ("http:/a.onion" back to "http://a.onion").
func repairScheme(fp string) string {
	for _, scheme := range []string{"http", "https"} {
		prefix := scheme + ":/"
		if strings.HasPrefix(fp, prefix) && !strings.HasPrefix(fp, scheme+"://") {
			return scheme + "://" + strings.TrimPrefix(fp, prefix)
		}
	}
	return fp
}

func validTarget(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func queryInt(r *http.Request, key string, fallback int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
