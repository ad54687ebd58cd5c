package exercise

import "github.com/san-kum/physio-cv/server/models"

// Observation is the per-frame input to a state machine: an absolute angle
// for threshold-cycle exercises, a signed rotation delta for
// accumulation-cycle exercises. The validity flags mark whether the frame
// carries information at all; an invalid frame neither advances nor resets
// any debounce counter.
type Observation struct {
	Angle      float64
	AngleValid bool

	Delta      float64
	DeltaValid bool
}

// Outcome reports the machine state after consuming one observation.
// RepDelta is 0 or 1; machines never take reps back.
type Outcome struct {
	Phase    models.Phase
	RepDelta int
}

// Machine is the state-machine interface shared by all exercise kinds.
type Machine interface {
	Kind() models.ExerciseKind
	Phase() models.Phase
	Advance(Observation) Outcome
	Reset()
}

// debouncer commits a condition only after it has held for `need`
// consecutive observed frames. Callers skip calling observe entirely on
// invalid frames, which is how "no information" differs from "condition
// failed".
type debouncer struct {
	need  int
	count int
}

func (d *debouncer) observe(hold bool) bool {
	if !hold {
		d.count = 0
		return false
	}
	d.count++
	if d.count >= d.need {
		d.count = 0
		return true
	}
	return false
}

func (d *debouncer) reset() { d.count = 0 }
