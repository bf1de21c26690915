package store

import (
	"context"
	"fmt"

	"github.com/onionwatch/onionwatch/internal/models"
)

// IOCReuse describes the state of an indicator's reuse set after an upsert.
type IOCReuse struct {
	Type      models.IOCType
	Value     string
	Targets   []string // distinct targets observed, including this one
	NewTarget bool     // whether this upsert added a previously-unseen target
}

// UpsertIOC appends an IOC observation and reports the resulting reuse set.
// Rows are append-only; reuse is measured over distinct targets. The reuse
// query and the insert run in one transaction.
func (s *Store) UpsertIOC(ctx context.Context, rec models.IOCRecord) (IOCReuse, error) {
	reuse := IOCReuse{Type: rec.Type, Value: rec.Value}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return reuse, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT target FROM iocs WHERE ioc_type = ? AND ioc_value = ?`,
		string(rec.Type), rec.Value)
	if err != nil {
		return reuse, fmt.Errorf("query ioc targets: %w", err)
	}
	defer rows.Close()

	known := false
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return reuse, fmt.Errorf("scan ioc target: %w", err)
		}
		if target == rec.Target {
			known = true
		}
		reuse.Targets = append(reuse.Targets, target)
	}
	if err := rows.Err(); err != nil {
		return reuse, err
	}
	rows.Close()

	if !known {
		reuse.Targets = append(reuse.Targets, rec.Target)
		reuse.NewTarget = true
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO iocs (ioc_type, ioc_value, target, timestamp)
		VALUES (?, ?, ?, ?)`,
		string(rec.Type), rec.Value, rec.Target, rec.Timestamp.UnixNano())
	if err != nil {
		return reuse, fmt.Errorf("insert ioc: %w", err)
	}
	return reuse, tx.Commit()
}

// IOCTargets returns the distinct targets an indicator has been seen on.
func (s *Store) IOCTargets(ctx context.Context, iocType models.IOCType, value string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT target FROM iocs WHERE ioc_type = ? AND ioc_value = ?
		ORDER BY target`, string(iocType), value)
	if err != nil {
		return nil, fmt.Errorf("query ioc targets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}
