// Package capture persists accepted captures as a correlated artifact pair:
// the image bytes and a JSON metadata record sharing a derived file stem.
//
// The image file is fully written, flushed and closed before the metadata
// file is created, so a failure part way through never leaves a metadata
// record referencing a missing or truncated image.
package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emirkarahan/sensorbridge/internal/platform/id"
	"github.com/emirkarahan/sensorbridge/internal/sensor"
)

var (
	// ErrNoFrame indicates a capture was requested before any frame was
	// ever received.
	ErrNoFrame = errors.New("no frame available to capture")
	// ErrDecode indicates the frame payload is not a decodable image.
	ErrDecode = errors.New("frame payload is not a valid image")
	// ErrIO indicates an artifact could not be written.
	ErrIO = errors.New("capture artifact write failed")
)

// Snapshot is an immutable copy of live session state handed to Persist.
// Frame is nil when no frame was ever received.
type Snapshot struct {
	Frame     []byte
	Vector    sensor.Vector
	Timestamp time.Time
}

// Record describes a persisted capture. Once returned it never changes.
type Record struct {
	CorrelationID string        `json:"correlation_id"`
	Timestamp     time.Time     `json:"timestamp"`
	ImageFile     string        `json:"image_file"`
	MetaFile      string        `json:"meta_file"`
	Vector        sensor.Vector `json:"vector"`
}

type metadataRecord struct {
	CorrelationID string        `json:"correlation_id"`
	Timestamp     string        `json:"timestamp"`
	ImageFile     string        `json:"image_file"`
	Vector        sensor.Vector `json:"vector"`
}

// Persister writes capture artifact pairs into a data directory.
//
// Persist is safe for concurrent use; file stems derived from the same
// wall-clock second are disambiguated with a monotonically increasing
// counter suffix so rapid successive captures never collide.
type Persister struct {
	dir string
	now func() time.Time

	mu       sync.Mutex
	lastBase string
	seq      int
}

// NewPersister creates the data directory if needed and returns a Persister
// writing into it.
func NewPersister(dir string) (*Persister, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Persister{dir: dir, now: time.Now}, nil
}

// Dir returns the directory the persister writes into.
func (p *Persister) Dir() string {
	return p.dir
}

// Persist validates the snapshot's frame, generates a correlation ID and
// writes the image and metadata artifacts. It returns ErrNoFrame when the
// snapshot has no frame, ErrDecode when the payload is not an image, and
// ErrIO when either artifact cannot be written.
func (p *Persister) Persist(snap Snapshot) (Record, error) {
	if len(snap.Frame) == 0 {
		return Record{}, ErrNoFrame
	}

	format, err := decodeFormat(snap.Frame)
	if err != nil {
		return Record{}, err
	}

	correlationID, err := id.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("generate correlation id: %w", err)
	}

	timestamp := snap.Timestamp
	if timestamp.IsZero() {
		timestamp = p.now()
	}
	timestamp = timestamp.UTC()

	stem := p.nextStem(timestamp)
	ext := ".png"
	if format == "jpeg" {
		ext = ".jpg"
	}
	imageFile := "capture_" + stem + ext
	metaFile := "capture_" + stem + ".json"

	if err := writeFileSynced(filepath.Join(p.dir, imageFile), snap.Frame); err != nil {
		return Record{}, fmt.Errorf("%w: image %s: %v", ErrIO, imageFile, err)
	}

	meta := metadataRecord{
		CorrelationID: correlationID,
		Timestamp:     timestamp.Format(time.RFC3339Nano),
		ImageFile:     imageFile,
		Vector:        snap.Vector,
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(filepath.Join(p.dir, imageFile))
		return Record{}, fmt.Errorf("%w: encode metadata: %v", ErrIO, err)
	}
	if err := writeFileSynced(filepath.Join(p.dir, metaFile), encoded); err != nil {
		// Remove the image so no unpaired artifact survives a partial write.
		_ = os.Remove(filepath.Join(p.dir, imageFile))
		return Record{}, fmt.Errorf("%w: metadata %s: %v", ErrIO, metaFile, err)
	}

	return Record{
		CorrelationID: correlationID,
		Timestamp:     timestamp,
		ImageFile:     imageFile,
		MetaFile:      metaFile,
		Vector:        snap.Vector,
	}, nil
}

// nextStem derives a unique file stem from the capture second, appending a
// counter when two captures land in the same second.
func (p *Persister) nextStem(timestamp time.Time) string {
	base := timestamp.Format("20060102_150405")

	p.mu.Lock()
	defer p.mu.Unlock()
	if base == p.lastBase {
		p.seq++
		return fmt.Sprintf("%s_%d", base, p.seq)
	}
	p.lastBase = base
	p.seq = 0
	return base
}

func decodeFormat(payload []byte) (string, error) {
	_, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return format, nil
}

// writeFileSynced writes data through an exclusive handle and flushes it to
// stable storage before closing, on every exit path.
func writeFileSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
