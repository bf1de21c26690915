package scan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/onionwatch/onionwatch/internal/alerting"
	"github.com/onionwatch/onionwatch/internal/analysis"
	"github.com/onionwatch/onionwatch/internal/correlate"
	"github.com/onionwatch/onionwatch/internal/download"
	"github.com/onionwatch/onionwatch/internal/fetch"
	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

type stubFetcher struct {
	results map[string]fetch.Result
}

func (s *stubFetcher) Fetch(ctx context.Context, target string) fetch.Result {
	return s.results[target]
}

type noDownloads struct{}

func (noDownloads) FetchFiles(context.Context, string, []models.FileLink) []download.File {
	return nil
}

type noFileAnalysis struct{}

func (noFileAnalysis) AnalyzeFiles(context.Context, []download.File) []models.FileAnalysis {
	return nil
}

type malwareFileAnalysis struct{}

func (malwareFileAnalysis) AnalyzeFiles(context.Context, []download.File) []models.FileAnalysis {
	return []models.FileAnalysis{{
		FileURL:  "http://a.onion/payload.exe",
		FileName: "payload.exe",
		FileHash: "feedface",
		Malware: models.MalwareResult{Success: true, Detected: true, Threats: []models.MalwareThreat{
			{Name: "Unix.Trojan.Mirai-123", Type: "signature"},
		}},
	}}
}

func onlineResult(text string) fetch.Result {
	code := 200
	return fetch.Result{
		Status:     models.StatusOnline,
		StatusCode: &code,
		Body:       []byte(text),
		Text:       text,
		HasText:    true,
	}
}

func newTestOrchestrator(t *testing.T, fetcher Fetcher, files FileAnalyzer) (*Orchestrator, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	analyzer := analysis.New(nil)
	o := New(fetcher, analyzer, noDownloads{}, files, s,
		correlate.New(s), alerting.New(s, nil))
	return o, s
}

func alertCount(t *testing.T, s *store.Store, alertType models.AlertType) int {
	t.Helper()
	alerts, err := s.ListAlerts(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	n := 0
	for _, a := range alerts {
		if a.Type == alertType {
			n++
		}
	}
	return n
}

func TestContentChangeSequence(t *testing.T) {
	fetcher := &stubFetcher{results: map[string]fetch.Result{}}
	o, s := newTestOrchestrator(t, fetcher, noFileAnalysis{})
	ctx := context.Background()
	target := "http://a.onion"

	fetcher.results[target] = onlineResult("<html><body>first revision</body></html>")
	rec1, err := o.Scan(ctx, target)
	if err != nil {
		t.Fatalf("scan 1: %v", err)
	}
	if rec1.ContentChanged {
		t.Error("first record must not be content_changed")
	}

	time.Sleep(5 * time.Millisecond)
	fetcher.results[target] = onlineResult("<html><body>second revision</body></html>")
	rec2, err := o.Scan(ctx, target)
	if err != nil {
		t.Fatalf("scan 2: %v", err)
	}
	if !rec2.ContentChanged {
		t.Error("changed text must set content_changed")
	}
	if got := alertCount(t, s, models.AlertContentChange); got != 1 {
		t.Errorf("content_change alerts = %d, want 1", got)
	}

	// Unchanged content does not re-alert.
	time.Sleep(5 * time.Millisecond)
	rec3, err := o.Scan(ctx, target)
	if err != nil {
		t.Fatalf("scan 3: %v", err)
	}
	if rec3.ContentChanged {
		t.Error("identical text must not set content_changed")
	}
	if got := alertCount(t, s, models.AlertContentChange); got != 1 {
		t.Errorf("content_change alerts after stable rescan = %d, want 1", got)
	}
}

func TestNonOnlineScanStillPersists(t *testing.T) {
	fetcher := &stubFetcher{results: map[string]fetch.Result{}}
	o, s := newTestOrchestrator(t, fetcher, noFileAnalysis{})
	ctx := context.Background()
	target := "http://down.onion"

	fetcher.results[target] = onlineResult("<html><body>up for now</body></html>")
	if _, err := o.Scan(ctx, target); err != nil {
		t.Fatalf("scan 1: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	fetcher.results[target] = fetch.Result{Status: models.StatusOffline}
	rec, err := o.Scan(ctx, target)
	if err != nil {
		t.Fatalf("scan 2: %v", err)
	}
	if rec.URLStatus != models.StatusOffline || rec.ThreatScore != 0 || rec.Category != analysis.CategoryUnknown {
		t.Errorf("offline record = %+v", rec)
	}

	latest, err := s.LatestScan(ctx, rec.Fingerprint)
	if err != nil || latest.ID != rec.ID {
		t.Fatalf("offline record not persisted: %v", err)
	}
	if got := alertCount(t, s, models.AlertStatusChange); got != 1 {
		t.Errorf("status_change alerts = %d, want 1", got)
	}
}

func TestMalwareFindingsMergeIntoScore(t *testing.T) {
	fetcher := &stubFetcher{results: map[string]fetch.Result{}}
	o, s := newTestOrchestrator(t, fetcher, malwareFileAnalysis{})
	ctx := context.Background()
	target := "http://a.onion"

	fetcher.results[target] = onlineResult("<html><body>nothing suspicious here</body></html>")
	rec, err := o.Scan(ctx, target)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rec.ThreatScore != 25 {
		t.Errorf("threat score = %d, want malware bonus 25", rec.ThreatScore)
	}
	if !rec.Indicators.MalwareDetected {
		t.Error("malware indicator not set")
	}
	if got := alertCount(t, s, models.AlertMalwareDetected); got != 1 {
		t.Errorf("malware_detected alerts = %d, want 1", got)
	}
}

func TestIOCReuseAcrossTargets(t *testing.T) {
	page := "<html><body>Contact admin@shop.test for access</body></html>"
	fetcher := &stubFetcher{results: map[string]fetch.Result{
		"http://a.onion": onlineResult(page),
		"http://b.onion": onlineResult(page),
	}}
	o, s := newTestOrchestrator(t, fetcher, noFileAnalysis{})
	ctx := context.Background()

	if _, err := o.Scan(ctx, "http://a.onion"); err != nil {
		t.Fatalf("scan a: %v", err)
	}
	if got := alertCount(t, s, models.AlertIOCReuse); got != 0 {
		t.Fatalf("first sighting raised %d reuse alerts", got)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := o.Scan(ctx, "http://b.onion"); err != nil {
		t.Fatalf("scan b: %v", err)
	}
	if got := alertCount(t, s, models.AlertIOCReuse); got != 1 {
		t.Errorf("reuse alerts = %d, want 1", got)
	}
}

func TestScanRecordIDsAreUnique(t *testing.T) {
	fetcher := &stubFetcher{results: map[string]fetch.Result{
		"http://a.onion": onlineResult("<html><body>page</body></html>"),
	}}
	o, _ := newTestOrchestrator(t, fetcher, noFileAnalysis{})
	ctx := context.Background()

	seen := map[string]struct{}{}
	for i := 0; i < 5; i++ {
		rec, err := o.Scan(ctx, "http://a.onion")
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if _, dup := seen[rec.ID]; dup {
			t.Fatalf("duplicate scan id %s", rec.ID)
		}
		seen[rec.ID] = struct{}{}
		time.Sleep(2 * time.Millisecond)
	}
}
