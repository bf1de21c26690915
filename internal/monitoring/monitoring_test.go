package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	err    error
	onScan func(target string)
}

func (f *fakeRunner) Scan(ctx context.Context, target string) (*models.ScanRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.mu.Unlock()
	if f.onScan != nil {
		f.onScan(target)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ScanRecord{
		ID:          "scan-1",
		URL:         target,
		Fingerprint: models.Fingerprint(target),
		Timestamp:   time.Now().UTC(),
		URLStatus:   models.StatusOnline,
		ThreatScore: 42,
		RiskLevel:   models.RiskMedium,
		Category:    "Unknown",
		Emails:      []string{"a@x.test"},
	}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dueMonitor(t *testing.T, s *store.Store, id string) *models.Monitor {
	t.Helper()
	m := NewMonitor("http://"+id+".onion", "default", 30)
	m.ID = id
	m.NextScan = time.Now().UTC().Add(-time.Hour)
	if err := s.CreateMonitor(context.Background(), m, 10); err != nil {
		t.Fatalf("create monitor: %v", err)
	}
	return m
}

func TestNewMonitorSchedulesImmediately(t *testing.T) {
	m := NewMonitor("http://a.onion", "default", 60)
	if m.ID == "" {
		t.Error("monitor id not assigned")
	}
	if m.NextScan.After(time.Now().UTC()) {
		t.Error("first scan should be due immediately")
	}
	if m.LastScan != nil || m.ScanCount != 0 {
		t.Errorf("fresh monitor carries scan state: %+v", m)
	}
}

func TestDispatchRunsDueMonitors(t *testing.T) {
	s := openTestStore(t)
	runner := &fakeRunner{}
	sched := New(s, runner, Config{})
	dueMonitor(t, s, "m-1")

	sched.dispatchDue(context.Background())
	sched.wg.Wait()

	if runner.callCount() != 1 {
		t.Fatalf("scan calls = %d, want 1", runner.callCount())
	}

	m, err := s.GetMonitor(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("reload monitor: %v", err)
	}
	if m.ScanCount != 1 || m.LastScan == nil || m.LastScanSummary == nil {
		t.Errorf("bookkeeping not written: %+v", m)
	}
	if m.LastScanSummary.ThreatScore != 42 || m.LastScanSummary.EmailCount != 1 {
		t.Errorf("summary = %+v", m.LastScanSummary)
	}

	// Catch-up policy: overdue by an hour still reschedules from now.
	wantAfter := time.Now().UTC().Add(29 * time.Minute)
	if m.NextScan.Before(wantAfter) {
		t.Errorf("next_scan = %s, want roughly now + interval", m.NextScan)
	}
}

func TestInFlightMonitorNotRedispatched(t *testing.T) {
	s := openTestStore(t)
	runner := &fakeRunner{}
	sched := New(s, runner, Config{})
	dueMonitor(t, s, "m-1")

	if !sched.claim("m-1") {
		t.Fatal("claim failed")
	}
	sched.dispatchDue(context.Background())
	sched.wg.Wait()
	if runner.callCount() != 0 {
		t.Fatalf("in-flight monitor was dispatched %d times", runner.callCount())
	}

	sched.release("m-1")
	sched.dispatchDue(context.Background())
	sched.wg.Wait()
	if runner.callCount() != 1 {
		t.Fatalf("released monitor not dispatched: calls = %d", runner.callCount())
	}
}

func TestPausedMonitorNotDispatched(t *testing.T) {
	s := openTestStore(t)
	runner := &fakeRunner{}
	sched := New(s, runner, Config{})
	dueMonitor(t, s, "m-1")
	if _, err := s.SetMonitorPaused(context.Background(), "m-1", true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	sched.dispatchDue(context.Background())
	sched.wg.Wait()
	if runner.callCount() != 0 {
		t.Fatalf("paused monitor dispatched %d times", runner.callCount())
	}
}

func TestScanFailureRecordsErrorSummary(t *testing.T) {
	s := openTestStore(t)
	runner := &fakeRunner{err: errors.New("store write failed")}
	sched := New(s, runner, Config{})
	dueMonitor(t, s, "m-1")

	sched.dispatchDue(context.Background())
	sched.wg.Wait()

	m, err := s.GetMonitor(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("reload monitor: %v", err)
	}
	if m.LastScanSummary == nil || m.LastScanSummary.Status != models.StatusError {
		t.Errorf("summary = %+v, want ERROR status", m.LastScanSummary)
	}
	if m.ScanCount != 1 {
		t.Errorf("failed scan not counted: %d", m.ScanCount)
	}
}

func TestDeletionDuringScanDiscardsBookkeeping(t *testing.T) {
	s := openTestStore(t)
	runner := &fakeRunner{}
	runner.onScan = func(string) {
		s.DeleteMonitor(context.Background(), "m-1")
	}
	sched := New(s, runner, Config{})
	dueMonitor(t, s, "m-1")

	sched.dispatchDue(context.Background())
	sched.wg.Wait()

	if _, err := s.GetMonitor(context.Background(), "m-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted monitor resurrected: %v", err)
	}
	if runner.callCount() != 1 {
		t.Errorf("scan should still have run once, got %d", runner.callCount())
	}
}

func TestRunDrainsWorkersOnCancel(t *testing.T) {
	s := openTestStore(t)
	started := make(chan struct{})
	finish := make(chan struct{})
	runner := &fakeRunner{}
	runner.onScan = func(string) {
		close(started)
		<-finish
	}
	sched := New(s, runner, Config{})
	dueMonitor(t, s, "m-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before in-flight worker finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not drain after worker completion")
	}
}
