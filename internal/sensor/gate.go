package sensor

// State is the capture gate state.
type State string

const (
	// StateBlocked disallows capture. It is the initial state.
	StateBlocked State = "BLOCKED"
	// StateArmed allows capture while the latest vector stays in range.
	StateArmed State = "ARMED"
)

// Gate decides whether capture is currently permitted. It re-evaluates the
// envelope on every observed vector and never latches; there is no terminal
// state.
//
// Gate carries no synchronization: a relay session observes vectors from its
// single ordered event stream, so no two observations race.
type Gate struct {
	envelope Envelope
	state    State
	vector   Vector
}

// NewGate creates a gate for the envelope, starting in StateBlocked.
func NewGate(envelope Envelope) *Gate {
	return &Gate{envelope: envelope, state: StateBlocked}
}

// Observe re-evaluates the gate against the vector and returns the new state.
func (g *Gate) Observe(v Vector) State {
	g.vector = v
	if g.envelope.Contains(v) {
		g.state = StateArmed
	} else {
		g.state = StateBlocked
	}
	return g.state
}

// Vector returns the last observed vector, zero before any observation.
func (g *Gate) Vector() Vector {
	return g.vector
}

// Armed reports whether capture is currently permitted.
func (g *Gate) Armed() bool {
	return g.state == StateArmed
}

// State returns the current gate state.
func (g *Gate) State() State {
	return g.state
}

// Envelope returns the envelope the gate evaluates against.
func (g *Gate) Envelope() Envelope {
	return g.envelope
}
