// Package scan drives the full pipeline for one target: fetch, parse,
// analyse, download and inspect files, persist, correlate IOCs and raise
// alerts. A scan always produces a record; only store failures surface as
// errors.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/onionwatch/onionwatch/internal/alerting"
	"github.com/onionwatch/onionwatch/internal/analysis"
	"github.com/onionwatch/onionwatch/internal/correlate"
	"github.com/onionwatch/onionwatch/internal/download"
	"github.com/onionwatch/onionwatch/internal/fetch"
	"github.com/onionwatch/onionwatch/internal/metricsrv"
	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/parse"
	"github.com/onionwatch/onionwatch/internal/store"
)

// contentPreviewLimit bounds the stored preview text.
const contentPreviewLimit = 500

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, target string) fetch.Result
}

// Downloader retrieves file-link candidates.
type Downloader interface {
	FetchFiles(ctx context.Context, baseURL string, links []models.FileLink) []download.File
}

// FileAnalyzer inspects downloaded files.
type FileAnalyzer interface {
	AnalyzeFiles(ctx context.Context, files []download.File) []models.FileAnalysis
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	fetcher    Fetcher
	analyzer   *analysis.Analyzer
	downloader Downloader
	files      FileAnalyzer
	store      *store.Store
	correlator *correlate.Correlator
	alerts     *alerting.Engine
}

// New creates an Orchestrator.
func New(f Fetcher, a *analysis.Analyzer, d Downloader, fa FileAnalyzer, s *store.Store, c *correlate.Correlator, e *alerting.Engine) *Orchestrator {
	return &Orchestrator{
		fetcher:    f,
		analyzer:   a,
		downloader: d,
		files:      fa,
		store:      s,
		correlator: c,
		alerts:     e,
	}
}

// Scan runs the pipeline once for a target. The returned record is always
// persisted; an error means the store write failed.
func (o *Orchestrator) Scan(ctx context.Context, rawURL string) (*models.ScanRecord, error) {
	start := time.Now()
	now := start.UTC()

	rec := &models.ScanRecord{
		ID:          ulid.Make().String(),
		URL:         rawURL,
		Fingerprint: models.Fingerprint(rawURL),
		Timestamp:   now,
		Category:    analysis.CategoryUnknown,
		RiskLevel:   models.RiskLow,
	}

	res := o.fetcher.Fetch(ctx, rawURL)
	rec.URLStatus = res.Status
	rec.StatusCode = res.StatusCode
	responseTime := res.ResponseTime
	rec.ResponseTime = &responseTime

	if res.Status == models.StatusOnline && res.HasText {
		o.analyzeContent(ctx, rec, res.Text)
	}

	prev, err := o.store.PriorOnlineScan(ctx, rec.Fingerprint, now)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load prior scan: %w", err)
		}
		prev = nil
	}
	if rec.URLStatus == models.StatusOnline && prev != nil {
		rec.ContentChanged = prev.ContentHash != rec.ContentHash
	}

	if err := o.store.PutScan(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist scan: %w", err)
	}

	signals, err := o.correlator.Record(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("url", rawURL).Msg("IOC correlation incomplete")
	}

	alerts := o.alerts.Process(ctx, rec, prev, signals)
	for _, a := range alerts {
		metricsrv.AlertsTotal.WithLabelValues(string(a.Type)).Inc()
	}

	metricsrv.ScansTotal.WithLabelValues(string(rec.URLStatus)).Inc()
	metricsrv.ScanDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Str("scanId", rec.ID).
		Str("url", rawURL).
		Str("status", string(rec.URLStatus)).
		Int("threatScore", rec.ThreatScore).
		Str("category", rec.Category).
		Int("alerts", len(alerts)).
		Msg("Scan completed")
	return rec, nil
}

// analyzeContent fills the content-derived fields of the record. Content
// analysis and file retrieval run concurrently; malware findings are merged
// into the score afterwards.
func (o *Orchestrator) analyzeContent(ctx context.Context, rec *models.ScanRecord, text string) {
	parsed := parse.Parse(text, rec.URL, o.analyzer.Dictionary())
	rec.Title = parsed.Title
	rec.ContentPreview = preview(parsed.Text)
	rec.Keywords = parsed.Keywords
	rec.Links = parsed.Links
	rec.FileLinks = parsed.FileLinks
	rec.PGPDetected = parsed.PGPDetected

	in := analysis.Input{
		Text:        parsed.Text,
		PGPDetected: parsed.PGPDetected,
	}

	var result analysis.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result = o.analyzer.Analyze(in)
		return nil
	})
	g.Go(func() error {
		files := o.downloader.FetchFiles(gctx, rec.URL, parsed.FileLinks)
		rec.FileAnalyses = o.files.AnalyzeFiles(gctx, files)
		return nil
	})
	g.Wait()

	if rec.MalwareDetected() {
		in.MalwareDetected = true
		result = o.analyzer.Analyze(in)
	}

	rec.Emails = result.Emails
	rec.CryptoAddresses = result.CryptoAddresses
	rec.ContentHash = result.ContentHash
	rec.ThreatScore = result.ThreatScore
	rec.RiskLevel = result.RiskLevel
	rec.Category = result.Category
	rec.Confidence = result.Confidence
	rec.Indicators = result.Indicators
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= contentPreviewLimit {
		return text
	}
	return string(runes[:contentPreviewLimit])
}
