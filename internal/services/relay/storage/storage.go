// Package storage defines persistence contracts for relay service state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/emirkarahan/sensorbridge/internal/sensor"
)

var (
	// ErrNotFound indicates a requested capture record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a capture with the same correlation ID was
	// already indexed.
	ErrAlreadyExists = errors.New("record already exists")
)

// CaptureRecord indexes one persisted capture artifact pair.
type CaptureRecord struct {
	CorrelationID string
	SessionID     string
	ImageFile     string
	MetaFile      string
	Vector        sensor.Vector
	CapturedAt    time.Time
}

// CaptureIndex persists capture records for later retrieval.
type CaptureIndex interface {
	// AppendCapture indexes a capture. Correlation IDs are unique.
	AppendCapture(ctx context.Context, rec CaptureRecord) error
	// GetCapture retrieves a capture by its correlation ID.
	GetCapture(ctx context.Context, correlationID string) (CaptureRecord, error)
	// ListCaptures returns up to limit captures for a session, newest first.
	ListCaptures(ctx context.Context, sessionID string, limit int) ([]CaptureRecord, error)
}

// TelemetryEvent captures operational observations emitted by the relay.
type TelemetryEvent struct {
	Timestamp     time.Time
	EventName     string
	Severity      string
	SessionID     string
	CorrelationID string
	Attributes    map[string]any
}

// TelemetryStore persists operational telemetry records for audits and
// incident analysis.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}
