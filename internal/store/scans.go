package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onionwatch/onionwatch/internal/models"
)

// statusHistoryLimit bounds the per-target status history document.
const statusHistoryLimit = 500

// PutScan appends a scan record and updates the target's status history.
// Both writes happen in one transaction.
func (s *Store) PutScan(ctx context.Context, rec *models.ScanRecord) error {
	doc, err := marshalDoc(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, fingerprint, url, timestamp, url_status, threat_score, content_hash, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Fingerprint, rec.URL, rec.Timestamp.UnixNano(),
		string(rec.URLStatus), rec.ThreatScore, rec.ContentHash, doc)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	if err := s.appendStatusHistory(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) appendStatusHistory(ctx context.Context, tx *sql.Tx, rec *models.ScanRecord) error {
	summary := models.TargetSummary{Fingerprint: rec.Fingerprint, URL: rec.URL}

	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT doc FROM target_summaries WHERE fingerprint = ?`, rec.Fingerprint).Scan(&raw)
	switch {
	case err == nil:
		if err := unmarshalDoc(raw, &summary); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		// first observation of this target
	default:
		return fmt.Errorf("load target summary: %w", err)
	}

	summary.URL = rec.URL
	summary.UpdatedAt = rec.Timestamp
	summary.StatusHistory = append(summary.StatusHistory, models.StatusObservation{
		Timestamp:    rec.Timestamp,
		URLStatus:    rec.URLStatus,
		StatusCode:   rec.StatusCode,
		ResponseTime: rec.ResponseTime,
	})
	if len(summary.StatusHistory) > statusHistoryLimit {
		summary.StatusHistory = summary.StatusHistory[len(summary.StatusHistory)-statusHistoryLimit:]
	}

	doc, err := marshalDoc(&summary)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO target_summaries (fingerprint, url, updated_at, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET url = excluded.url,
			updated_at = excluded.updated_at, doc = excluded.doc`,
		summary.Fingerprint, summary.URL, summary.UpdatedAt.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("upsert target summary: %w", err)
	}
	return nil
}

// TargetSummary loads the rollup document for a fingerprint.
func (s *Store) TargetSummary(ctx context.Context, fingerprint string) (*models.TargetSummary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM target_summaries WHERE fingerprint = ?`, fingerprint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load target summary: %w", err)
	}
	var summary models.TargetSummary
	if err := unmarshalDoc(raw, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ScanByID loads one scan record.
func (s *Store) ScanByID(ctx context.Context, id string) (*models.ScanRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM scans WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scan: %w", err)
	}
	var rec models.ScanRecord
	if err := unmarshalDoc(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestScan returns the most recent scan of a target, or ErrNotFound.
func (s *Store) LatestScan(ctx context.Context, fingerprint string) (*models.ScanRecord, error) {
	recs, err := s.ScansFor(ctx, fingerprint, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// ScansFor returns the most recent scans of a target, newest first.
func (s *Store) ScansFor(ctx context.Context, fingerprint string, limit int) ([]models.ScanRecord, error) {
	return s.queryScans(ctx, `
		SELECT doc FROM scans WHERE fingerprint = ?
		ORDER BY timestamp DESC LIMIT ?`, fingerprint, limit)
}

// OnlineScansFor returns the most recent ONLINE scans of a target, newest
// first.
func (s *Store) OnlineScansFor(ctx context.Context, fingerprint string, limit int) ([]models.ScanRecord, error) {
	return s.queryScans(ctx, `
		SELECT doc FROM scans WHERE fingerprint = ? AND url_status = ?
		ORDER BY timestamp DESC LIMIT ?`, fingerprint, string(models.StatusOnline), limit)
}

// PriorOnlineScan returns the most recent ONLINE scan of a target strictly
// before the given instant, or ErrNotFound.
func (s *Store) PriorOnlineScan(ctx context.Context, fingerprint string, before time.Time) (*models.ScanRecord, error) {
	recs, err := s.queryScans(ctx, `
		SELECT doc FROM scans WHERE fingerprint = ? AND url_status = ? AND timestamp < ?
		ORDER BY timestamp DESC LIMIT 1`,
		fingerprint, string(models.StatusOnline), before.UnixNano())
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// History returns the global reverse-chronological scan sequence.
func (s *Store) History(ctx context.Context, limit, offset int) ([]models.ScanRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryScans(ctx, `
		SELECT doc FROM scans ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
}

func (s *Store) queryScans(ctx context.Context, query string, args ...interface{}) ([]models.ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var recs []models.ScanRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var rec models.ScanRecord
		if err := unmarshalDoc(raw, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
