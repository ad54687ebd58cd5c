package exercise

import (
	"fmt"
	"math"

	"github.com/san-kum/physio-cv/server/models"
)

// noiseDeadbandDeg: bearing deltas smaller than this carry no directional
// information and are ignored outright.
const noiseDeadbandDeg = 0.5

// RotationMachine counts reps by accumulating signed bearing deltas. A rep
// commits when the accumulated magnitude crosses the rotation threshold; the
// accumulator then keeps the remainder so continuous rotation loses no
// partial progress and nothing is counted twice. A delta sign opposite to
// the current direction sustained for `confirm` frames is a direction
// change: the accumulator resets to zero without counting anything.
type RotationMachine struct {
	kind      models.ExerciseKind
	threshold float64

	acc      float64
	dir      int
	reversal debouncer
}

func NewRotationMachine(kind models.ExerciseKind, thresholdDeg float64, confirmFrames int) (*RotationMachine, error) {
	if thresholdDeg <= 0 {
		return nil, fmt.Errorf("%s: rotation threshold must be positive, got %.1f", kind, thresholdDeg)
	}
	if confirmFrames < 1 {
		return nil, fmt.Errorf("%s: confirm frames must be >= 1, got %d", kind, confirmFrames)
	}
	return &RotationMachine{
		kind:      kind,
		threshold: thresholdDeg,
		reversal:  debouncer{need: confirmFrames},
	}, nil
}

func (m *RotationMachine) Kind() models.ExerciseKind { return m.kind }
func (m *RotationMachine) Phase() models.Phase       { return models.PhaseCircling }

func (m *RotationMachine) Advance(obs Observation) Outcome {
	if !obs.DeltaValid {
		return Outcome{Phase: models.PhaseCircling}
	}
	delta := obs.Delta
	if math.Abs(delta) < noiseDeadbandDeg {
		return Outcome{Phase: models.PhaseCircling}
	}

	sign := 1
	if delta < 0 {
		sign = -1
	}
	if m.dir == 0 {
		m.dir = sign
	}

	if sign != m.dir {
		if m.reversal.observe(true) {
			// Sustained direction change: partial progress is discarded,
			// never counted.
			m.acc = 0
			m.dir = sign
			return Outcome{Phase: models.PhaseCircling}
		}
	} else {
		m.reversal.observe(false)
	}

	m.acc += delta

	// Only progress along the established direction can complete a cycle;
	// reverse deltas inside the reversal window must never push the magnitude
	// over the threshold.
	if m.acc*float64(m.dir) >= m.threshold {
		// Carry the overshoot into the next cycle instead of zeroing it.
		remainder := m.acc*float64(m.dir) - m.threshold
		m.acc = float64(m.dir) * remainder
		return Outcome{Phase: models.PhaseCircling, RepDelta: 1}
	}
	return Outcome{Phase: models.PhaseCircling}
}

func (m *RotationMachine) Reset() {
	m.acc = 0
	m.dir = 0
	m.reversal.reset()
}

// Accumulated reports the current signed rotation progress in degrees.
func (m *RotationMachine) Accumulated() float64 { return m.acc }
