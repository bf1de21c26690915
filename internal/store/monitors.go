package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onionwatch/onionwatch/internal/models"
)

// CreateMonitor registers a monitor, rejecting with ErrMonitorCapReached
// when the owner already holds cap monitors.
func (s *Store) CreateMonitor(ctx context.Context, m *models.Monitor, cap int) error {
	doc, err := marshalDoc(m)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monitors WHERE owner = ?`, m.Owner).Scan(&count); err != nil {
		return fmt.Errorf("count monitors: %w", err)
	}
	if count >= cap {
		return ErrMonitorCapReached
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitors (id, url, owner, paused, next_scan, doc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.URL, m.Owner, boolToInt(m.Paused), m.NextScan.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("insert monitor: %w", err)
	}
	return tx.Commit()
}

// GetMonitor loads one monitor, or ErrNotFound.
func (s *Store) GetMonitor(ctx context.Context, id string) (*models.Monitor, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM monitors WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load monitor: %w", err)
	}
	var m models.Monitor
	if err := unmarshalDoc(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMonitors returns all monitors ordered by creation id.
func (s *Store) ListMonitors(ctx context.Context) ([]models.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM monitors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query monitors: %w", err)
	}
	defer rows.Close()

	var monitors []models.Monitor
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m models.Monitor
		if err := unmarshalDoc(raw, &m); err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// DueMonitors returns unpaused monitors whose next_scan is at or before now.
func (s *Store) DueMonitors(ctx context.Context, now time.Time) ([]models.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM monitors WHERE paused = 0 AND next_scan <= ?
		ORDER BY next_scan`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query due monitors: %w", err)
	}
	defer rows.Close()

	var monitors []models.Monitor
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m models.Monitor
		if err := unmarshalDoc(raw, &m); err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// UpdateMonitor rewrites a monitor document, or ErrNotFound.
func (s *Store) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	doc, err := marshalDoc(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitors SET url = ?, owner = ?, paused = ?, next_scan = ?, doc = ?
		WHERE id = ?`,
		m.URL, m.Owner, boolToInt(m.Paused), m.NextScan.UnixNano(), doc, m.ID)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMonitorPaused flips the paused flag and returns the updated monitor.
func (s *Store) SetMonitorPaused(ctx context.Context, id string, paused bool) (*models.Monitor, error) {
	m, err := s.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Paused = paused
	if err := s.UpdateMonitor(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMonitor removes one monitor, or ErrNotFound.
func (s *Store) DeleteMonitor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllMonitors removes every monitor and returns how many were removed.
func (s *Store) DeleteAllMonitors(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitors`)
	if err != nil {
		return 0, fmt.Errorf("delete monitors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
