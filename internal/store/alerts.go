package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onionwatch/onionwatch/internal/models"
)

// PutAlert appends an alert record.
func (s *Store) PutAlert(ctx context.Context, a *models.Alert) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, target, alert_type, status, timestamp, doc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Target, string(a.Type), string(a.Status), a.Timestamp.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetAlert loads one alert, or ErrNotFound.
func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM alerts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	var a models.Alert
	if err := unmarshalDoc(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns alerts newest first, optionally filtered by status.
// An empty status returns everything.
func (s *Store) ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT doc FROM alerts ORDER BY timestamp DESC LIMIT ?`
	args := []interface{}{limit}
	if status != "" {
		query = `SELECT doc FROM alerts WHERE status = ? ORDER BY timestamp DESC LIMIT ?`
		args = []interface{}{string(status), limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.Alert
		if err := unmarshalDoc(raw, &a); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging an already
// acknowledged alert is a no-op; the alert is returned either way.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == models.AlertAcknowledged {
		return a, nil
	}

	a.Status = models.AlertAcknowledged
	doc, err := marshalDoc(a)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, doc = ? WHERE id = ?`,
		string(a.Status), doc, id)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	return a, nil
}
