package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/emirkarahan/sensorbridge/internal/sensor"
	"github.com/emirkarahan/sensorbridge/internal/services/relay/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testCapture(correlationID, sessionID string, capturedAt time.Time) storage.CaptureRecord {
	return storage.CaptureRecord{
		CorrelationID: correlationID,
		SessionID:     sessionID,
		ImageFile:     "capture_20260314_092653.jpg",
		MetaFile:      "capture_20260314_092653.json",
		Vector:        sensor.NewVector(-0.45, 5.25, 7.68),
		CapturedAt:    capturedAt,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Re-opening must not re-run applied migrations.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close reopened store: %v", err)
	}
}

func TestAppendAndGetCapture(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	capturedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	rec := testCapture("cap-1", "session-1", capturedAt)
	if err := store.AppendCapture(ctx, rec); err != nil {
		t.Fatalf("append capture: %v", err)
	}

	got, err := store.GetCapture(ctx, "cap-1")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if got != rec {
		t.Fatalf("capture = %+v, want %+v", got, rec)
	}
}

func TestGetCaptureNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetCapture(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing capture err = %v, want ErrNotFound", err)
	}
}

func TestAppendCaptureRejectsDuplicateCorrelationID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rec := testCapture("cap-1", "session-1", time.Now())

	if err := store.AppendCapture(ctx, rec); err != nil {
		t.Fatalf("append capture: %v", err)
	}
	if err := store.AppendCapture(ctx, rec); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate append err = %v, want ErrAlreadyExists", err)
	}
}

func TestAppendCaptureRequiresIdentifiers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testCapture("", "session-1", time.Now())
	if err := store.AppendCapture(ctx, rec); err == nil {
		t.Fatal("expected error for missing correlation id")
	}
	rec = testCapture("cap-1", "", time.Now())
	if err := store.AppendCapture(ctx, rec); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestListCapturesNewestFirstScopedToSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"cap-1", "cap-2", "cap-3"} {
		if err := store.AppendCapture(ctx, testCapture(id, "session-1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := store.AppendCapture(ctx, testCapture("cap-other", "session-2", base)); err != nil {
		t.Fatalf("append other session capture: %v", err)
	}

	records, err := store.ListCaptures(ctx, "session-1", 0)
	if err != nil {
		t.Fatalf("list captures: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("listed %d captures, want 3", len(records))
	}
	wantOrder := []string{"cap-3", "cap-2", "cap-1"}
	for i, want := range wantOrder {
		if records[i].CorrelationID != want {
			t.Fatalf("record %d = %q, want %q", i, records[i].CorrelationID, want)
		}
	}

	limited, err := store.ListCaptures(ctx, "session-1", 2)
	if err != nil {
		t.Fatalf("list captures with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("listed %d captures, want 2", len(limited))
	}
}

func TestAppendTelemetryEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.AppendTelemetryEvent(ctx, storage.TelemetryEvent{
		Timestamp:     time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		EventName:     "capture.persisted",
		Severity:      "INFO",
		SessionID:     "session-1",
		CorrelationID: "cap-1",
		Attributes:    map[string]any{"image_file": "capture_20260314_092653.jpg"},
	})
	if err != nil {
		t.Fatalf("append telemetry event: %v", err)
	}

	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM telemetry_events").Scan(&count); err != nil {
		t.Fatalf("count telemetry events: %v", err)
	}
	if count != 1 {
		t.Fatalf("telemetry event count = %d, want 1", count)
	}
}

func TestAppendTelemetryEventRequiresName(t *testing.T) {
	store := openTestStore(t)
	if err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{}); err == nil {
		t.Fatal("expected error for missing event name")
	}
}
