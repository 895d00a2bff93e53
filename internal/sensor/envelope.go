package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidEnvelope indicates an envelope spec string could not be parsed.
var ErrInvalidEnvelope = errors.New("invalid envelope spec")

// AxisRange is the acceptable deviation for a single axis: a reading passes
// when |value - Center| <= Tolerance.
type AxisRange struct {
	Center    float64
	Tolerance float64
}

// Contains reports whether the value falls within the axis range.
func (r AxisRange) Contains(value float64) bool {
	delta := value - r.Center
	if delta < 0 {
		delta = -delta
	}
	return delta <= r.Tolerance
}

// Envelope is the per-axis acceptance range used to gate capture. A vector is
// in range only when every axis passes; there is no partial-pass mode.
type Envelope struct {
	X AxisRange
	Y AxisRange
	Z AxisRange
}

// DefaultEnvelope returns the envelope derived from the reference calibration
// sample. Operators override it through configuration.
func DefaultEnvelope() Envelope {
	return Envelope{
		X: AxisRange{Center: -0.45, Tolerance: 0.23},
		Y: AxisRange{Center: 5.25, Tolerance: 2.06},
		Z: AxisRange{Center: 7.68, Tolerance: 1.56},
	}
}

// Contains reports whether the vector is inside the envelope on all three
// axes. The check is pure and assumes components were rounded by NewVector.
func (e Envelope) Contains(v Vector) bool {
	return e.X.Contains(v.X) && e.Y.Contains(v.Y) && e.Z.Contains(v.Z)
}

// String renders the envelope in the spec format accepted by ParseEnvelope.
func (e Envelope) String() string {
	return fmt.Sprintf("x=%g:%g,y=%g:%g,z=%g:%g",
		e.X.Center, e.X.Tolerance,
		e.Y.Center, e.Y.Tolerance,
		e.Z.Center, e.Z.Tolerance,
	)
}

// ParseEnvelope parses an envelope spec of the form
// "x=-0.45:0.23,y=5.25:2.06,z=7.68:1.56" (center:tolerance per axis).
// All three axes must be present exactly once and tolerances must not be
// negative.
func ParseEnvelope(spec string) (Envelope, error) {
	var envelope Envelope
	seen := make(map[string]bool, 3)

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		axis, rangeSpec, ok := strings.Cut(part, "=")
		if !ok {
			return Envelope{}, fmt.Errorf("%w: missing '=' in %q", ErrInvalidEnvelope, part)
		}
		axis = strings.ToLower(strings.TrimSpace(axis))

		centerStr, tolStr, ok := strings.Cut(rangeSpec, ":")
		if !ok {
			return Envelope{}, fmt.Errorf("%w: missing ':' in %q", ErrInvalidEnvelope, part)
		}
		center, err := strconv.ParseFloat(strings.TrimSpace(centerStr), 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: center in %q: %v", ErrInvalidEnvelope, part, err)
		}
		tolerance, err := strconv.ParseFloat(strings.TrimSpace(tolStr), 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: tolerance in %q: %v", ErrInvalidEnvelope, part, err)
		}
		if tolerance < 0 {
			return Envelope{}, fmt.Errorf("%w: negative tolerance in %q", ErrInvalidEnvelope, part)
		}

		if seen[axis] {
			return Envelope{}, fmt.Errorf("%w: duplicate axis %q", ErrInvalidEnvelope, axis)
		}
		seen[axis] = true

		r := AxisRange{Center: center, Tolerance: tolerance}
		switch axis {
		case "x":
			envelope.X = r
		case "y":
			envelope.Y = r
		case "z":
			envelope.Z = r
		default:
			return Envelope{}, fmt.Errorf("%w: unknown axis %q", ErrInvalidEnvelope, axis)
		}
	}

	if !seen["x"] || !seen["y"] || !seen["z"] {
		return Envelope{}, fmt.Errorf("%w: all of x, y, z are required", ErrInvalidEnvelope)
	}
	return envelope, nil
}
