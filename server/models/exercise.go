package models

import "fmt"

// ExerciseKind is the closed set of supported exercises. Adding a kind means
// adding a state machine variant and a feedback rule table for it.
type ExerciseKind string

const (
	ExerciseSquat     ExerciseKind = "squat"
	ExerciseArmCircle ExerciseKind = "arm_circle"
)

// ParseExerciseKind validates a client-supplied exercise name.
func ParseExerciseKind(s string) (ExerciseKind, error) {
	switch ExerciseKind(s) {
	case ExerciseSquat, ExerciseArmCircle:
		return ExerciseKind(s), nil
	}
	return "", fmt.Errorf("unsupported exercise %q (supported: %s, %s)",
		s, ExerciseSquat, ExerciseArmCircle)
}

// Phase is a named state within an exercise state machine.
type Phase string

const (
	PhaseUp       Phase = "up"
	PhaseDown     Phase = "down"
	PhaseCircling Phase = "circling"
)
