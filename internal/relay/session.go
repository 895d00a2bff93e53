// Package relay holds the live state of sensor sessions: the latest frame
// and orientation vector from the producer, the capture gate derived from
// them, and the set of attached viewers receiving broadcasts.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/emirkarahan/sensorbridge/internal/capture"
	"github.com/emirkarahan/sensorbridge/internal/sensor"
)

// ErrGateBlocked indicates a capture request arrived while the orientation
// gate was blocked.
var ErrGateBlocked = errors.New("capture gate is blocked")

// captureQueueDepth bounds pending persistence jobs per session.
const captureQueueDepth = 16

// Viewer receives session broadcasts. Broadcasts are delivered on the intake
// path while the session lock is held, so implementations must not call back
// into the session.
type Viewer interface {
	FrameBroadcast(frame []byte)
	VectorBroadcast(vector sensor.Vector, armed bool)
	CaptureNotice(correlationID string)
}

// Persister writes a capture snapshot to durable artifacts.
type Persister interface {
	Persist(capture.Snapshot) (capture.Record, error)
}

// Snapshot is a read-only view of session state at one instant. Frame holds
// the latest frame payload; encoding/json renders it as base64.
type Snapshot struct {
	SessionID string        `json:"session_id"`
	Armed     bool          `json:"armed"`
	Frame     []byte        `json:"frame,omitempty"`
	Vector    sensor.Vector `json:"vector"`
	HasVector bool          `json:"has_vector"`
	VectorAt  time.Time     `json:"vector_at,omitzero"`
	HasFrame  bool          `json:"has_frame"`
	FrameAt   time.Time     `json:"frame_at,omitzero"`
	Viewers   int           `json:"viewers"`
	Captures  int64         `json:"captures"`
}

type captureJob struct {
	snap capture.Snapshot
	done func(capture.Record, error)
}

// Session serializes one producer's event stream. Frame and vector intake
// broadcast to viewers under the session lock, so viewers observe updates in
// the same order the session state applied them even when several producers
// publish concurrently; capture persistence runs on a single worker goroutine
// per session so back-to-back captures persist in arrival order without
// blocking intake.
type Session struct {
	id        string
	persister Persister

	mu       sync.Mutex
	gate     *sensor.Gate
	frame    []byte
	frameAt  time.Time
	vectorAt time.Time
	captures int64
	viewers  map[Viewer]struct{}

	jobs      chan captureJob
	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewSession creates a session gated by envelope and starts its capture
// worker. Callers must Close the session when it is no longer needed.
func NewSession(id string, envelope sensor.Envelope, persister Persister) *Session {
	s := &Session{
		id:        id,
		persister: persister,
		gate:      sensor.NewGate(envelope),
		viewers:   make(map[Viewer]struct{}),
		jobs:      make(chan captureJob, captureQueueDepth),
		doneCh:    make(chan struct{}),
	}
	go s.captureWorker()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AddViewer subscribes a viewer to session broadcasts.
func (s *Session) AddViewer(v Viewer) {
	s.mu.Lock()
	s.viewers[v] = struct{}{}
	s.mu.Unlock()
}

// RemoveViewer unsubscribes a viewer. It reports whether the session has no
// viewers left.
func (s *Session) RemoveViewer(v Viewer) bool {
	s.mu.Lock()
	delete(s.viewers, v)
	empty := len(s.viewers) == 0
	s.mu.Unlock()
	return empty
}

// HandleFrame stores the latest frame and relays it to every viewer. The
// payload is copied; callers may reuse their buffer.
func (s *Session) HandleFrame(frame []byte) error {
	if len(frame) == 0 {
		return errors.New("frame payload is empty")
	}
	stored := make([]byte, len(frame))
	copy(stored, frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = stored
	s.frameAt = time.Now().UTC()
	for v := range s.viewers {
		v.FrameBroadcast(stored)
	}
	return nil
}

// HandleVector re-evaluates the gate against the vector and relays both the
// vector and the resulting gate state to every viewer.
func (s *Session) HandleVector(vector sensor.Vector) sensor.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.gate.Observe(vector)
	s.vectorAt = time.Now().UTC()
	armed := state == sensor.StateArmed
	for v := range s.viewers {
		v.VectorBroadcast(vector, armed)
	}
	return state
}

// HandleCapture admits a capture request against the gate state at this
// instant and, when admitted, queues the snapshot for persistence. The done
// callback runs on the capture worker once persistence finishes; it is not
// called when HandleCapture returns an error.
//
// frameOverride, when non-empty, is used as the capture image instead of the
// live frame. It does not replace the live frame.
func (s *Session) HandleCapture(frameOverride []byte, done func(capture.Record, error)) error {
	s.mu.Lock()
	if !s.gate.Armed() {
		s.mu.Unlock()
		return ErrGateBlocked
	}
	frame := frameOverride
	if len(frame) == 0 {
		frame = s.frame
	}
	if len(frame) == 0 {
		s.mu.Unlock()
		return capture.ErrNoFrame
	}
	snap := capture.Snapshot{
		Frame:     frame,
		Vector:    s.gate.Vector(),
		Timestamp: time.Now().UTC(),
	}
	s.mu.Unlock()

	select {
	case s.jobs <- captureJob{snap: snap, done: done}:
		return nil
	case <-s.doneCh:
		return errors.New("session closed")
	}
}

// Snapshot returns a point-in-time view of session state. Mutating the
// session afterwards does not affect a returned snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var frame []byte
	if s.frame != nil {
		frame = make([]byte, len(s.frame))
		copy(frame, s.frame)
	}
	return Snapshot{
		SessionID: s.id,
		Armed:     s.gate.Armed(),
		Frame:     frame,
		Vector:    s.gate.Vector(),
		HasVector: !s.vectorAt.IsZero(),
		VectorAt:  s.vectorAt,
		HasFrame:  s.frame != nil,
		FrameAt:   s.frameAt,
		Viewers:   len(s.viewers),
		Captures:  s.captures,
	}
}

// Close stops the capture worker after draining queued jobs.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.doneCh)
	})
}

func (s *Session) captureWorker() {
	for {
		select {
		case job := <-s.jobs:
			s.processCapture(job)
		case <-s.doneCh:
			for {
				select {
				case job := <-s.jobs:
					s.processCapture(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) processCapture(job captureJob) {
	record, err := s.persister.Persist(job.snap)
	if err == nil {
		s.mu.Lock()
		s.captures++
		for v := range s.viewers {
			v.CaptureNotice(record.CorrelationID)
		}
		s.mu.Unlock()
	}
	if job.done != nil {
		job.done(record, err)
	}
}
