package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onionwatch/onionwatch/internal/models"
)

type directClients struct{}

func (directClients) Client(string) *http.Client { return http.DefaultClient }

func TestFetchFilesDownloadsWithinCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("PK\x03\x04 payload"))
	}))
	defer srv.Close()

	d := New(directClients{}, Config{Timeout: 5 * time.Second, MaxBytes: 1024, MaxPerScan: 2})
	links := []models.FileLink{
		{URL: srv.URL + "/a.zip", Extension: ".zip"},
		{URL: srv.URL + "/b.zip", Extension: ".zip"},
		{URL: srv.URL + "/c.zip", Extension: ".zip"},
	}

	files := d.FetchFiles(context.Background(), "", links)
	if len(files) != 2 {
		t.Fatalf("expected cap of 2 downloads, got %d", len(files))
	}
	if files[0].Name != "a.zip" || files[0].ContentType != "application/zip" {
		t.Fatalf("unexpected file: %+v", files[0])
	}
}

func TestDownloadSizeBoundary(t *testing.T) {
	payload := make([]byte, 512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/over" {
			w.Write(append(payload, 'x'))
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	d := New(directClients{}, Config{Timeout: 5 * time.Second, MaxBytes: 512, MaxPerScan: 10})

	// Exactly at the cap is accepted.
	files := d.FetchFiles(context.Background(), "", []models.FileLink{{URL: srv.URL + "/exact"}})
	if len(files) != 1 || files[0].Size != 512 {
		t.Fatalf("file at cap should download: %+v", files)
	}

	// One byte over is rejected.
	files = d.FetchFiles(context.Background(), "", []models.FileLink{{URL: srv.URL + "/over"}})
	if len(files) != 0 {
		t.Fatalf("file over cap should be rejected, got %d files", len(files))
	}
}

func TestFetchFilesResolvesRelativeLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/doc.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	d := New(directClients{}, Config{Timeout: 5 * time.Second, MaxBytes: 1024, MaxPerScan: 10})
	files := d.FetchFiles(context.Background(), srv.URL+"/page.html", []models.FileLink{{URL: "/files/doc.pdf", Extension: ".pdf"}})
	if len(files) != 1 {
		t.Fatalf("relative link not resolved")
	}
}

func TestFailedDownloadsAreSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := New(directClients{}, Config{Timeout: 2 * time.Second, MaxBytes: 1024, MaxPerScan: 10})
	files := d.FetchFiles(context.Background(), "", []models.FileLink{{URL: srv.URL + "/gone.zip"}})
	if len(files) != 0 {
		t.Fatalf("404 download should be skipped")
	}
}

func TestSafeFileName(t *testing.T) {
	cases := map[string]string{
		"http://x.onion/files/report.pdf":   "report.pdf",
		"http://x.onion/a/b/../weird%20.7z": "weird.7z",
	}
	for in, want := range cases {
		if got := SafeFileName(in); got != want {
			t.Errorf("SafeFileName(%q) = %q, want %q", in, got, want)
		}
	}

	// No usable path segment falls back to a stable hash.
	a := SafeFileName("http://x.onion/")
	b := SafeFileName("http://x.onion/")
	if a != b || len(a) != 12 {
		t.Errorf("hash fallback unstable: %q vs %q", a, b)
	}
}
