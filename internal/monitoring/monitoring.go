// Package monitoring runs the periodic rescan loop over registered
// monitors: a single tick loop collects due monitors and dispatches them to
// a bounded worker pool, with at most one scan in flight per monitor.
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/onionwatch/onionwatch/internal/metricsrv"
	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

// Monitor interval bounds, in minutes.
const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 1440
)

// minTick is the floor for the scheduler wake interval.
const minTick = 30 * time.Second

// Runner executes one scan. Satisfied by the scan orchestrator.
type Runner interface {
	Scan(ctx context.Context, target string) (*models.ScanRecord, error)
}

// Config holds scheduler settings.
type Config struct {
	Tick     time.Duration
	PoolSize int
}

// Scheduler drives periodic monitor rescans.
type Scheduler struct {
	store  *store.Store
	runner Runner
	tick   time.Duration
	pool   *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]bool

	wg sync.WaitGroup
}

// New creates a Scheduler.
func New(s *store.Store, runner Runner, cfg Config) *Scheduler {
	if cfg.Tick < minTick {
		cfg.Tick = minTick
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		tick:     cfg.Tick,
		pool:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		inFlight: make(map[string]bool),
	}
}

// NewMonitor builds a monitor row scheduled for an immediate first scan.
func NewMonitor(target, owner string, intervalMinutes int) *models.Monitor {
	now := time.Now().UTC()
	return &models.Monitor{
		ID:              uuid.New().String(),
		URL:             target,
		Owner:           owner,
		IntervalMinutes: intervalMinutes,
		CreatedAt:       now,
		NextScan:        now,
	}
}

// Run executes the tick loop until ctx is cancelled, then drains in-flight
// workers before returning.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("tick", s.tick).Msg("Monitor scheduler started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.dispatchDue(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Monitor scheduler draining")
			s.wg.Wait()
			log.Info().Msg("Monitor scheduler stopped")
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue hands every due monitor to a worker, skipping monitors that
// are already in flight.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueMonitors(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Unable to collect due monitors")
		return
	}

	for _, m := range due {
		if !s.claim(m.ID) {
			continue
		}
		metricsrv.SchedulerDispatches.Inc()
		s.wg.Add(1)
		go func(m models.Monitor) {
			defer s.wg.Done()
			defer s.release(m.ID)
			s.runMonitor(ctx, m)
		}(m)
	}
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// runMonitor executes one dispatched scan and writes the monitor bookkeeping
// back. A scan failure is captured as an ERROR summary; a monitor deleted
// while in flight keeps its scan record but the bookkeeping is discarded.
func (s *Scheduler) runMonitor(ctx context.Context, m models.Monitor) {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.pool.Release(1)

	metricsrv.WorkersInFlight.Inc()
	defer metricsrv.WorkersInFlight.Dec()

	started := time.Now().UTC()
	rec, err := s.runner.Scan(ctx, m.URL)

	summary := models.ScanSummary{Status: models.StatusError}
	if err != nil {
		log.Error().Err(err).Str("monitorId", m.ID).Str("url", m.URL).Msg("Monitor scan failed")
	} else {
		summary = summarize(rec)
	}

	// Reload the row: pause or deletion may have happened mid-scan.
	current, err := s.store.GetMonitor(ctx, m.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("monitorId", m.ID).Msg("Monitor deleted while in flight")
			return
		}
		log.Error().Err(err).Str("monitorId", m.ID).Msg("Unable to reload monitor")
		return
	}

	current.LastScan = &started
	// Overdue monitors run once and rejoin the cadence from now; missed
	// ticks are not replayed.
	current.NextScan = started.Add(time.Duration(current.IntervalMinutes) * time.Minute)
	current.ScanCount++
	current.LastScanSummary = &summary

	if err := s.store.UpdateMonitor(ctx, current); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("monitorId", m.ID).Msg("Unable to update monitor after scan")
	}
}

func summarize(rec *models.ScanRecord) models.ScanSummary {
	return models.ScanSummary{
		Status:          rec.URLStatus,
		ThreatScore:     rec.ThreatScore,
		RiskLevel:       rec.RiskLevel,
		Category:        rec.Category,
		EmailCount:      len(rec.Emails),
		CryptoCount:     len(rec.CryptoAddresses),
		MalwareDetected: rec.MalwareDetected(),
	}
}
