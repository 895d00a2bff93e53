package relay

import (
	"sync"

	"github.com/emirkarahan/sensorbridge/internal/sensor"
)

// Hub owns the live sessions, keyed by session ID. Sessions are created on
// first attach and share one envelope and persister. The hub counts
// attachments per session; when the last one detaches the session is closed
// and removed, stopping its capture worker.
type Hub struct {
	envelope  sensor.Envelope
	persister Persister

	mu       sync.Mutex
	sessions map[string]*hubEntry
	closed   bool
}

type hubEntry struct {
	session *Session
	refs    int
}

// NewHub creates an empty hub.
func NewHub(envelope sensor.Envelope, persister Persister) *Hub {
	return &Hub{
		envelope:  envelope,
		persister: persister,
		sessions:  make(map[string]*hubEntry),
	}
}

// Attach returns the session for id, creating it when absent, and records
// one attachment. It returns nil after the hub has been closed. Every Attach
// must be paired with a Detach.
func (h *Hub) Attach(id string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	entry, ok := h.sessions[id]
	if !ok {
		entry = &hubEntry{session: NewSession(id, h.envelope, h.persister)}
		h.sessions[id] = entry
	}
	entry.refs++
	return entry.session
}

// Detach releases one attachment. The last detach closes the session and
// removes it from the hub; queued capture persistence still drains.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	entry, ok := h.sessions[id]
	if ok {
		entry.refs--
		if entry.refs <= 0 {
			delete(h.sessions, id)
		} else {
			entry = nil
		}
	}
	h.mu.Unlock()

	if ok && entry != nil {
		entry.session.Close()
	}
}

// Lookup returns the session for id without creating it.
func (h *Hub) Lookup(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Snapshots returns a point-in-time view of every live session. Frame
// payloads are omitted from the hub-wide listing.
func (h *Hub) Snapshots() []Snapshot {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, entry := range h.sessions {
		sessions = append(sessions, entry.session)
	}
	h.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, session := range sessions {
		snap := session.Snapshot()
		snap.Frame = nil
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// Close closes every session and rejects further Attach calls.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, entry := range h.sessions {
		sessions = append(sessions, entry.session)
	}
	h.closed = true
	h.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
