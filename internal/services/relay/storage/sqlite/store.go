// Package sqlite provides SQLite-backed persistence for relay records.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/emirkarahan/sensorbridge/internal/platform/storage/sqlitemigrate"
	"github.com/emirkarahan/sensorbridge/internal/sensor"
	"github.com/emirkarahan/sensorbridge/internal/services/relay/storage"
	"github.com/emirkarahan/sensorbridge/internal/services/relay/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides SQLite-backed persistence for relay records.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.Apply(s.sqlDB, migrations.FS)
}

// AppendCapture indexes a capture record.
func (s *Store) AppendCapture(ctx context.Context, rec storage.CaptureRecord) error {
	if strings.TrimSpace(rec.CorrelationID) == "" {
		return fmt.Errorf("correlation id is required")
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO captures (correlation_id, session_id, image_file, meta_file, vector_x, vector_y, vector_z, captured_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID,
		rec.SessionID,
		rec.ImageFile,
		rec.MetaFile,
		rec.Vector.X,
		rec.Vector.Y,
		rec.Vector.Z,
		toMillis(rec.CapturedAt),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// GetCapture retrieves a capture by its correlation ID.
func (s *Store) GetCapture(ctx context.Context, correlationID string) (storage.CaptureRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT correlation_id, session_id, image_file, meta_file, vector_x, vector_y, vector_z, captured_at
FROM captures WHERE correlation_id = ?`, correlationID)
	return scanCaptureRow(row.Scan)
}

// ListCaptures returns up to limit captures for a session, newest first.
func (s *Store) ListCaptures(ctx context.Context, sessionID string, limit int) ([]storage.CaptureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT correlation_id, session_id, image_file, meta_file, vector_x, vector_y, vector_z, captured_at
FROM captures WHERE session_id = ?
ORDER BY captured_at DESC, correlation_id DESC
LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var records []storage.CaptureRecord
	for rows.Next() {
		rec, err := scanCaptureRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return records, nil
}

func scanCaptureRow(scan func(...any) error) (storage.CaptureRecord, error) {
	var (
		rec        storage.CaptureRecord
		vector     sensor.Vector
		capturedAt int64
	)
	err := scan(
		&rec.CorrelationID,
		&rec.SessionID,
		&rec.ImageFile,
		&rec.MetaFile,
		&vector.X,
		&vector.Y,
		&vector.Z,
		&capturedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.CaptureRecord{}, storage.ErrNotFound
		}
		return storage.CaptureRecord{}, fmt.Errorf("scan capture: %w", err)
	}
	rec.Vector = vector
	rec.CapturedAt = fromMillis(capturedAt)
	return rec, nil
}

// AppendTelemetryEvent persists one telemetry record.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if strings.TrimSpace(evt.EventName) == "" {
		return fmt.Errorf("event name is required")
	}

	attributes := "{}"
	if len(evt.Attributes) > 0 {
		encoded, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		attributes = string(encoded)
	}

	timestamp := evt.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO telemetry_events (timestamp, event_name, severity, session_id, correlation_id, attributes)
VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(timestamp),
		evt.EventName,
		evt.Severity,
		evt.SessionID,
		evt.CorrelationID,
		attributes,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}
