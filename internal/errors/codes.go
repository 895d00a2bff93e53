// Package errors provides machine-readable error codes shared between the
// relay core and its transport boundary.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Relay boundary errors
	CodeRelayInvalidVector Code = "RELAY_INVALID_VECTOR"
	CodeRelayInvalidFrame  Code = "RELAY_INVALID_FRAME"
	CodeRelayNotAttached   Code = "RELAY_NOT_ATTACHED"
	CodeRelayRoleForbidden Code = "RELAY_ROLE_FORBIDDEN"

	// Gate errors
	CodeGateBlocked Code = "GATE_BLOCKED"

	// Capture persistence errors
	CodeCaptureNoFrame      Code = "CAPTURE_NO_FRAME"
	CodeCaptureDecodeFailed Code = "CAPTURE_DECODE_FAILED"
	CodeCaptureIOFailed     Code = "CAPTURE_IO_FAILED"
)

// TransportCode maps domain codes to wire-level error code strings sent in
// error envelopes to clients.
func TransportCode(code Code) string {
	switch code {
	case CodeRelayInvalidVector, CodeRelayInvalidFrame:
		return "INVALID_ARGUMENT"
	case CodeRelayNotAttached, CodeRelayRoleForbidden:
		return "FORBIDDEN"
	case CodeGateBlocked, CodeCaptureNoFrame:
		return "FAILED_PRECONDITION"
	case CodeCaptureDecodeFailed:
		return "INVALID_ARGUMENT"
	case CodeCaptureIOFailed:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}
