package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emirkarahan/sensorbridge/internal/capture"
	errcodes "github.com/emirkarahan/sensorbridge/internal/errors"
	"github.com/emirkarahan/sensorbridge/internal/relay"
	"github.com/emirkarahan/sensorbridge/internal/sensor"
	"github.com/emirkarahan/sensorbridge/internal/services/relay/storage"
	"github.com/emirkarahan/sensorbridge/internal/telemetry"
	"golang.org/x/net/websocket"
)

func newHandler(hub *relay.Hub, index storage.CaptureIndex, emitter *telemetry.Emitter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, hub, index, emitter)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
		if sessionID == "" {
			writeJSON(w, struct {
				Sessions []relay.Snapshot `json:"sessions"`
			}{Sessions: hub.Snapshots()})
			return
		}

		session, ok := hub.Lookup(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, session.Snapshot())
	})

	mux.HandleFunc("/api/captures", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if index == nil {
			http.Error(w, "capture index is not configured", http.StatusServiceUnavailable)
			return
		}

		sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
		if sessionID == "" {
			http.Error(w, "session is required", http.StatusBadRequest)
			return
		}
		limit := defaultCaptureListLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		if limit > maxCaptureListLimit {
			limit = maxCaptureListLimit
		}

		records, err := index.ListCaptures(r.Context(), sessionID, limit)
		if err != nil {
			log.Printf("relay: list captures session=%q err=%v", sessionID, err)
			http.Error(w, "capture index unavailable", http.StatusInternalServerError)
			return
		}

		payload := make([]captureRecordPayload, 0, len(records))
		for _, rec := range records {
			payload = append(payload, captureRecordPayload{
				CorrelationID: rec.CorrelationID,
				SessionID:     rec.SessionID,
				ImageFile:     rec.ImageFile,
				MetaFile:      rec.MetaFile,
				Vector:        rec.Vector,
				CapturedAt:    rec.CapturedAt.Format(time.RFC3339Nano),
			})
		}
		writeJSON(w, struct {
			Captures []captureRecordPayload `json:"captures"`
		}{Captures: payload})
	})

	return mux
}

func handleWSConn(conn *websocket.Conn, hub *relay.Hub, index storage.CaptureIndex, emitter *telemetry.Emitter) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	client := newWSClient(newWSPeer(json.NewEncoder(conn)))
	defer func() {
		if session, _, viewer := client.current(); session != nil {
			if viewer != nil {
				session.RemoveViewer(viewer)
			}
			hub.Detach(session.ID())
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(client.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(client.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(client.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "sensor.attach":
			handleAttachFrame(client, hub, frame)
		case "sensor.frame":
			handleFrameFrame(client, frame)
		case "sensor.vector":
			handleVectorFrame(client, frame)
		case "sensor.capture":
			handleCaptureFrame(client, index, emitter, frame)
		default:
			_ = writeWSError(client.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func handleAttachFrame(client *wsClient, hub *relay.Hub, frame wsFrame) {
	var payload attachPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid attach payload")
		return
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		_ = writeWSError(client.peer, frame.RequestID, "INVALID_ARGUMENT", "session_id is required")
		return
	}
	if utf8.RuneCountInString(sessionID) > maxSessionIDRunes {
		_ = writeWSError(client.peer, frame.RequestID, "INVALID_ARGUMENT", "session_id must be at most 128 characters")
		return
	}

	role := strings.TrimSpace(payload.Role)
	if role != roleProducer && role != roleViewer {
		_ = writeWSError(client.peer, frame.RequestID, "INVALID_ARGUMENT", "role must be producer or viewer")
		return
	}

	session := hub.Attach(sessionID)
	if session == nil {
		_ = writeWSError(client.peer, frame.RequestID, "UNAVAILABLE", "relay is shutting down")
		return
	}

	var viewer *wsViewer
	if role == roleViewer {
		viewer = &wsViewer{peer: client.peer}
	}
	previousSession, previousViewer := client.attach(session, role, viewer)
	if previousSession != nil {
		if previousViewer != nil {
			previousSession.RemoveViewer(previousViewer)
		}
		hub.Detach(previousSession.ID())
	}
	if viewer != nil {
		session.AddViewer(viewer)
	}

	_ = client.peer.writeFrame(wsFrame{
		Type:      "sensor.attached",
		RequestID: frame.RequestID,
		Payload: mustJSON(attachedPayload{
			SessionID:  sessionID,
			Role:       role,
			Armed:      session.Snapshot().Armed,
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

func handleFrameFrame(client *wsClient, frame wsFrame) {
	session, role, _ := client.current()
	if session == nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayNotAttached), "must attach to a session first")
		return
	}
	if role != roleProducer {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayRoleForbidden), "only the producer may publish frames")
		return
	}

	var payload framePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidFrame), "invalid frame payload")
		return
	}

	decoded, err := decodeFramePayload(payload.Frame)
	if err != nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidFrame), "frame must be base64-encoded image data")
		return
	}

	if err := session.HandleFrame(decoded); err != nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidFrame), "frame payload is empty")
		return
	}
}

func handleVectorFrame(client *wsClient, frame wsFrame) {
	session, role, _ := client.current()
	if session == nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayNotAttached), "must attach to a session first")
		return
	}
	if role != roleProducer {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayRoleForbidden), "only the producer may publish vectors")
		return
	}

	var payload vectorPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidVector), "invalid vector payload")
		return
	}
	if payload.X == nil || payload.Y == nil || payload.Z == nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidVector), "x, y and z are required")
		return
	}
	for _, axis := range []float64{*payload.X, *payload.Y, *payload.Z} {
		if math.IsNaN(axis) || math.IsInf(axis, 0) {
			_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidVector), "axis values must be finite")
			return
		}
	}

	vector := sensor.NewVector(*payload.X, *payload.Y, *payload.Z)
	state := session.HandleVector(vector)

	// Echo the rounded vector and gate state back to the producer so its UI
	// can reflect capture readiness without subscribing as a viewer.
	_ = client.peer.writeFrame(wsFrame{
		Type:      "sensor.vector",
		RequestID: frame.RequestID,
		Payload: mustJSON(vectorBroadcastPayload{
			X:     vector.X,
			Y:     vector.Y,
			Z:     vector.Z,
			Armed: state == sensor.StateArmed,
		}),
	})
}

func handleCaptureFrame(client *wsClient, index storage.CaptureIndex, emitter *telemetry.Emitter, frame wsFrame) {
	session, role, _ := client.current()
	if session == nil {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayNotAttached), "must attach to a session first")
		return
	}
	if role != roleProducer {
		_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayRoleForbidden), "only the producer may request captures")
		return
	}

	var payload capturePayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidFrame), "invalid capture payload")
			return
		}
	}

	var frameOverride []byte
	if strings.TrimSpace(payload.Frame) != "" {
		decoded, err := decodeFramePayload(payload.Frame)
		if err != nil {
			_ = writeWSError(client.peer, frame.RequestID, errcodes.TransportCode(errcodes.CodeRelayInvalidFrame), "frame must be base64-encoded image data")
			return
		}
		frameOverride = decoded
	}

	peer := client.peer
	sessionID := session.ID()
	err := session.HandleCapture(frameOverride, func(record capture.Record, err error) {
		finishCapture(peer, frame.RequestID, index, emitter, sessionID, record, err)
	})
	if err != nil {
		// Rejected before reaching the capture worker; report it the same way.
		finishCapture(peer, frame.RequestID, index, emitter, sessionID, capture.Record{}, err)
	}
}

// finishCapture reports the persistence outcome to the producer and, on
// success, indexes the capture. It runs on the session's capture worker.
func finishCapture(peer *wsPeer, requestID string, index storage.CaptureIndex, emitter *telemetry.Emitter, sessionID string, record capture.Record, err error) {
	if err != nil {
		code := captureErrorCode(err)
		log.Printf("relay: capture failed session=%q code=%s err=%v", sessionID, code, err)
		_ = peer.writeFrame(wsFrame{
			Type:      "sensor.capture.result",
			RequestID: requestID,
			Payload: mustJSON(captureResultEnvelope{Result: captureResult{
				Status: "error",
				Code:   string(code),
				Reason: err.Error(),
			}}),
		})
		emitCaptureFailure(emitter, sessionID, code)
		return
	}

	ctx := context.Background()
	if index != nil {
		indexErr := index.AppendCapture(ctx, storage.CaptureRecord{
			CorrelationID: record.CorrelationID,
			SessionID:     sessionID,
			ImageFile:     record.ImageFile,
			MetaFile:      record.MetaFile,
			Vector:        record.Vector,
			CapturedAt:    record.Timestamp,
		})
		if indexErr != nil {
			log.Printf("relay: index capture correlation=%q session=%q err=%v", record.CorrelationID, sessionID, indexErr)
		}
	}
	_ = emitter.Emit(ctx, storage.TelemetryEvent{
		EventName:     "capture.persisted",
		SessionID:     sessionID,
		CorrelationID: record.CorrelationID,
		Attributes:    map[string]any{"image_file": record.ImageFile},
	})

	_ = peer.writeFrame(wsFrame{
		Type:      "sensor.capture.result",
		RequestID: requestID,
		Payload: mustJSON(captureResultEnvelope{Result: captureResult{
			Status:        "ok",
			CorrelationID: record.CorrelationID,
			ImageFile:     record.ImageFile,
			MetaFile:      record.MetaFile,
		}}),
	})
}

func emitCaptureFailure(emitter *telemetry.Emitter, sessionID string, code errcodes.Code) {
	_ = emitter.Emit(context.Background(), storage.TelemetryEvent{
		EventName:  "capture.failed",
		Severity:   string(telemetry.SeverityError),
		SessionID:  sessionID,
		Attributes: map[string]any{"code": string(code)},
	})
}

func captureErrorCode(err error) errcodes.Code {
	switch {
	case errors.Is(err, relay.ErrGateBlocked):
		return errcodes.CodeGateBlocked
	case errors.Is(err, capture.ErrNoFrame):
		return errcodes.CodeCaptureNoFrame
	case errors.Is(err, capture.ErrDecode):
		return errcodes.CodeCaptureDecodeFailed
	case errors.Is(err, capture.ErrIO):
		return errcodes.CodeCaptureIOFailed
	default:
		return errcodes.CodeUnknown
	}
}

// decodeFramePayload decodes a base64 frame, tolerating a data-URL prefix
// such as "data:image/jpeg;base64,".
func decodeFramePayload(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("frame is required")
	}
	if strings.HasPrefix(value, "data:") {
		_, rest, ok := strings.Cut(value, ",")
		if !ok {
			return nil, errors.New("malformed data url")
		}
		value = rest
	}
	return base64.StdEncoding.DecodeString(value)
}

func encodeFrame(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "sensor.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
			},
		}),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("relay: write json response: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
