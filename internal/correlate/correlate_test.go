package correlate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func scanWith(fingerprint string, emails, crypto []string) *models.ScanRecord {
	return &models.ScanRecord{
		ID:              "scan-" + fingerprint,
		URL:             "http://" + fingerprint,
		Fingerprint:     fingerprint,
		Timestamp:       time.Now().UTC(),
		URLStatus:       models.StatusOnline,
		Emails:          emails,
		CryptoAddresses: crypto,
	}
}

func TestReuseSignalAcrossTwoTargets(t *testing.T) {
	c := New(openTestStore(t))
	ctx := context.Background()

	// First sighting raises nothing.
	signals, err := c.Record(ctx, scanWith("a.onion", []string{"admin@shop.test"}, nil))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("first sighting raised %d signals", len(signals))
	}

	// Same IOC on a second target raises exactly one HIGH signal.
	signals, err = c.Record(ctx, scanWith("b.onion", []string{"admin@shop.test"}, nil))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("second target raised %d signals, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Type != models.IOCEmail || sig.ReuseCount != 2 || sig.Severity != models.SeverityHigh {
		t.Errorf("signal = %+v", sig)
	}

	// Rescanning an already-linked target does not re-raise.
	signals, err = c.Record(ctx, scanWith("b.onion", []string{"admin@shop.test"}, nil))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("known target re-raised %d signals", len(signals))
	}
}

func TestFileHashSignalIsMedium(t *testing.T) {
	c := New(openTestStore(t))
	ctx := context.Background()

	rec := scanWith("a.onion", nil, nil)
	rec.FileAnalyses = []models.FileAnalysis{{FileHash: "deadbeef"}}
	if _, err := c.Record(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec2 := scanWith("b.onion", nil, nil)
	rec2.FileAnalyses = []models.FileAnalysis{{FileHash: "deadbeef"}}
	signals, err := c.Record(ctx, rec2)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(signals) != 1 || signals[0].Severity != models.SeverityMedium {
		t.Fatalf("signals = %+v", signals)
	}
}

func TestIOCsFromScanTypes(t *testing.T) {
	rec := scanWith("a.onion", []string{"x@y.test"}, []string{"1BoatSLRHtKNngkdXEeobR76b53LETtpyT"})
	rec.FileAnalyses = []models.FileAnalysis{{FileHash: "abc"}, {FileHash: ""}}

	iocs := IOCsFromScan(rec)
	if len(iocs) != 3 {
		t.Fatalf("iocs = %d, want 3 (empty hash skipped)", len(iocs))
	}
	types := map[models.IOCType]int{}
	for _, ioc := range iocs {
		types[ioc.Type]++
		if ioc.Target != "a.onion" {
			t.Errorf("target = %s", ioc.Target)
		}
	}
	if types[models.IOCEmail] != 1 || types[models.IOCCrypto] != 1 || types[models.IOCFileHash] != 1 {
		t.Errorf("type counts = %v", types)
	}
}
