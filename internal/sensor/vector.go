// Package sensor models orientation vectors, the acceptance envelope used to
// decide whether the device is held steady, and the capture gate derived from
// them.
//
// Vector components are normalized to two decimal digits on construction so
// envelope checks are reproducible regardless of floating point jitter
// introduced upstream.
package sensor

import "math"

// Vector is an orientation/acceleration reading with components rounded to
// two decimal digits. Treat values as immutable once constructed.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewVector builds a Vector, rounding each component to two decimal digits.
func NewVector(x, y, z float64) Vector {
	return Vector{X: Round2(x), Y: Round2(y), Z: Round2(z)}
}

// Round2 rounds a value to two decimal digits, half away from zero.
// Rounding is idempotent: Round2(Round2(v)) == Round2(v).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
