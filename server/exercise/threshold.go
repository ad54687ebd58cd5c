package exercise

import (
	"fmt"

	"github.com/san-kum/physio-cv/server/models"
)

// ThresholdMachine counts reps on a down-then-up angle cycle. It starts UP,
// commits UP->DOWN after the angle stays below the low threshold for
// `confirm` frames, and commits DOWN->UP (counting the rep) after the angle
// stays above the high threshold for `confirm` frames. The gap between the
// thresholds is the hysteresis band that keeps a noisy signal from
// chattering between phases.
type ThresholdMachine struct {
	kind    models.ExerciseKind
	low     float64
	high    float64
	phase   models.Phase
	confirm debouncer
}

func NewThresholdMachine(kind models.ExerciseKind, low, high float64, confirmFrames int) (*ThresholdMachine, error) {
	if low >= high {
		return nil, fmt.Errorf("%s: low threshold %.1f must be below high threshold %.1f", kind, low, high)
	}
	if confirmFrames < 1 {
		return nil, fmt.Errorf("%s: confirm frames must be >= 1, got %d", kind, confirmFrames)
	}
	return &ThresholdMachine{
		kind:    kind,
		low:     low,
		high:    high,
		phase:   models.PhaseUp,
		confirm: debouncer{need: confirmFrames},
	}, nil
}

func (m *ThresholdMachine) Kind() models.ExerciseKind { return m.kind }
func (m *ThresholdMachine) Phase() models.Phase       { return m.phase }

func (m *ThresholdMachine) Advance(obs Observation) Outcome {
	if !obs.AngleValid {
		// No information: hold phase and counter.
		return Outcome{Phase: m.phase}
	}

	switch m.phase {
	case models.PhaseUp:
		if m.confirm.observe(obs.Angle < m.low) {
			m.phase = models.PhaseDown
		}
	case models.PhaseDown:
		if m.confirm.observe(obs.Angle > m.high) {
			m.phase = models.PhaseUp
			// The rep counts on completing the cycle, never on the way down.
			return Outcome{Phase: m.phase, RepDelta: 1}
		}
	default:
		// Unreachable phase value: recover to the initial state instead of
		// failing the frame loop.
		m.Reset()
	}
	return Outcome{Phase: m.phase}
}

func (m *ThresholdMachine) Reset() {
	m.phase = models.PhaseUp
	m.confirm.reset()
}
