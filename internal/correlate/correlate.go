// Package correlate indexes extracted IOCs across targets and raises reuse
// signals when an indicator shows up on a new target it was not previously
// associated with.
package correlate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/models"
	"github.com/onionwatch/onionwatch/internal/store"
)

// ReuseSignal is raised when an IOC's reuse set grows to span two or more
// distinct targets.
type ReuseSignal struct {
	Type       models.IOCType
	Value      string
	Targets    []string
	ReuseCount int
	Severity   models.AlertSeverity
}

// Correlator records IOC observations through the store.
type Correlator struct {
	store *store.Store
}

// New creates a Correlator.
func New(s *store.Store) *Correlator {
	return &Correlator{store: s}
}

// Record upserts every IOC carried by the scan and returns the reuse
// signals it produced. Emails and crypto addresses come from the page
// content; file hashes come from the file analyses.
func (c *Correlator) Record(ctx context.Context, rec *models.ScanRecord) ([]ReuseSignal, error) {
	var signals []ReuseSignal
	for _, ioc := range IOCsFromScan(rec) {
		reuse, err := c.store.UpsertIOC(ctx, ioc)
		if err != nil {
			return signals, fmt.Errorf("upsert ioc %s %q: %w", ioc.Type, ioc.Value, err)
		}
		if len(reuse.Targets) < 2 || !reuse.NewTarget {
			continue
		}
		sig := ReuseSignal{
			Type:       reuse.Type,
			Value:      reuse.Value,
			Targets:    reuse.Targets,
			ReuseCount: len(reuse.Targets),
			Severity:   severityFor(reuse.Type),
		}
		log.Info().
			Str("iocType", string(sig.Type)).
			Str("value", sig.Value).
			Int("targets", sig.ReuseCount).
			Msg("IOC reuse detected")
		signals = append(signals, sig)
	}
	return signals, nil
}

// IOCsFromScan lists the indicators a scan carries, typed and timestamped.
func IOCsFromScan(rec *models.ScanRecord) []models.IOCRecord {
	var iocs []models.IOCRecord
	add := func(t models.IOCType, value string) {
		iocs = append(iocs, models.IOCRecord{
			Type:      t,
			Value:     value,
			Target:    rec.Fingerprint,
			Timestamp: rec.Timestamp,
		})
	}
	for _, email := range rec.Emails {
		add(models.IOCEmail, email)
	}
	for _, addr := range rec.CryptoAddresses {
		add(models.IOCCrypto, addr)
	}
	for _, fa := range rec.FileAnalyses {
		if fa.FileHash != "" {
			add(models.IOCFileHash, fa.FileHash)
		}
	}
	return iocs
}

// severityFor grades a reuse signal by indicator type. Shared contact and
// payment details are strong links; shared files are weaker.
func severityFor(t models.IOCType) models.AlertSeverity {
	if t == models.IOCFileHash {
		return models.SeverityMedium
	}
	return models.SeverityHigh
}
