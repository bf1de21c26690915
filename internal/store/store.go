// Package store persists scan records, the IOC index, the monitor registry
// and the alert log in SQLite. Records are stored as JSON documents with
// extracted columns for the query paths that need indexes.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMonitorCapReached is returned when an owner is at their monitor cap.
	ErrMonitorCapReached = errors.New("monitor cap reached")
)

// Config holds store settings.
type Config struct {
	Path string // database file path, or ":memory:" for tests
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database, creating the schema if needed.
func Open(cfg Config) (*Store, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	// WAL mode for concurrent readers alongside the single writer.
	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Info().Str("path", cfg.Path).Msg("Store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			url TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			url_status TEXT NOT NULL,
			threat_score INTEGER NOT NULL,
			content_hash TEXT,
			doc TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scans_fingerprint_time
		ON scans(fingerprint, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_scans_time
		ON scans(timestamp DESC);

		CREATE TABLE IF NOT EXISTS target_summaries (
			fingerprint TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			doc TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS iocs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ioc_type TEXT NOT NULL,
			ioc_value TEXT NOT NULL,
			target TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_iocs_value
		ON iocs(ioc_type, ioc_value);

		CREATE TABLE IF NOT EXISTS monitors (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			owner TEXT NOT NULL,
			paused INTEGER NOT NULL DEFAULT 0,
			next_scan INTEGER NOT NULL,
			doc TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_monitors_owner ON monitors(owner);
		CREATE INDEX IF NOT EXISTS idx_monitors_due ON monitors(paused, next_scan);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			doc TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalDoc(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(raw), nil
}

func unmarshalDoc(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}
