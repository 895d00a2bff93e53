// Package server hosts the relay HTTP/WebSocket process.
//
// It owns the transport boundary only: frames and vectors flow through the
// relay hub, capture artifacts are written by the capture persister, and the
// capture index records what was persisted.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emirkarahan/sensorbridge/internal/capture"
	"github.com/emirkarahan/sensorbridge/internal/platform/timeouts"
	"github.com/emirkarahan/sensorbridge/internal/relay"
	"github.com/emirkarahan/sensorbridge/internal/sensor"
	"github.com/emirkarahan/sensorbridge/internal/services/relay/storage"
	"github.com/emirkarahan/sensorbridge/internal/services/relay/storage/sqlite"
	"github.com/emirkarahan/sensorbridge/internal/telemetry"
)

const (
	roleProducer = "producer"
	roleViewer   = "viewer"

	maxFramePayloadBytes   = 4 << 20
	maxFramesPerSecond     = 120
	maxDecodeErrorsPerConn = 3

	maxSessionIDRunes = 128

	defaultCaptureListLimit = 50
	maxCaptureListLimit     = 200
)

// Config defines the inputs for the relay transport boundary.
type Config struct {
	HTTPAddr          string
	DataDir           string
	DBPath            string
	Envelope          sensor.Envelope
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the relay HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	hub             *relay.Hub
	store           *sqlite.Store
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type attachPayload struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

type attachedPayload struct {
	SessionID  string `json:"session_id"`
	Role       string `json:"role"`
	Armed      bool   `json:"armed"`
	ServerTime string `json:"server_time"`
}

type framePayload struct {
	Frame string `json:"frame"`
}

type vectorPayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type vectorBroadcastPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Armed bool    `json:"armed"`
}

type capturePayload struct {
	Frame string `json:"frame,omitempty"`
}

type captureResultEnvelope struct {
	Result captureResult `json:"result"`
}

type captureResult struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ImageFile     string `json:"image_file,omitempty"`
	MetaFile      string `json:"meta_file,omitempty"`
	Code          string `json:"code,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type captureNoticePayload struct {
	CorrelationID string `json:"correlation_id"`
}

type captureRecordPayload struct {
	CorrelationID string        `json:"correlation_id"`
	SessionID     string        `json:"session_id"`
	ImageFile     string        `json:"image_file"`
	MetaFile      string        `json:"meta_file"`
	Vector        sensor.Vector `json:"vector"`
	CapturedAt    string        `json:"captured_at"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsViewer forwards session broadcasts to one subscribed connection.
type wsViewer struct {
	peer *wsPeer
}

func (v *wsViewer) FrameBroadcast(frame []byte) {
	_ = v.peer.writeFrame(wsFrame{
		Type:    "sensor.frame",
		Payload: mustJSON(framePayload{Frame: encodeFrame(frame)}),
	})
}

func (v *wsViewer) VectorBroadcast(vector sensor.Vector, armed bool) {
	_ = v.peer.writeFrame(wsFrame{
		Type: "sensor.vector",
		Payload: mustJSON(vectorBroadcastPayload{
			X:     vector.X,
			Y:     vector.Y,
			Z:     vector.Z,
			Armed: armed,
		}),
	})
}

func (v *wsViewer) CaptureNotice(correlationID string) {
	_ = v.peer.writeFrame(wsFrame{
		Type:    "sensor.capture.notice",
		Payload: mustJSON(captureNoticePayload{CorrelationID: correlationID}),
	})
}

// wsClient tracks one connection's attachment state.
type wsClient struct {
	mu      sync.Mutex
	peer    *wsPeer
	role    string
	session *relay.Session
	viewer  *wsViewer
}

func newWSClient(peer *wsPeer) *wsClient {
	return &wsClient{peer: peer}
}

func (c *wsClient) attach(session *relay.Session, role string, viewer *wsViewer) (*relay.Session, *wsViewer) {
	c.mu.Lock()
	previousSession := c.session
	previousViewer := c.viewer
	c.session = session
	c.role = role
	c.viewer = viewer
	c.mu.Unlock()
	return previousSession, previousViewer
}

func (c *wsClient) current() (*relay.Session, string, *wsViewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.role, c.viewer
}

// NewServer builds a configured relay server, opening the capture data
// directory and, when a DB path is set, the capture index.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	envelope := config.Envelope
	if envelope == (sensor.Envelope{}) {
		envelope = sensor.DefaultEnvelope()
	}

	persister, err := capture.NewPersister(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init capture persister: %w", err)
	}

	var store *sqlite.Store
	var index storage.CaptureIndex
	var telemetryStore storage.TelemetryStore
	if strings.TrimSpace(config.DBPath) != "" {
		store, err = sqlite.Open(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open capture index: %w", err)
		}
		index = store
		telemetryStore = store
	}

	hub := relay.NewHub(envelope, newTracingPersister(persister))
	emitter := telemetry.NewEmitter(telemetryStore)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(hub, index, emitter),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		hub:             hub,
		store:           store,
	}, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close capture index: %v", err)
		}
	}
}
