package exercise

import (
	"testing"

	"github.com/san-kum/physio-cv/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func angleObs(deg float64) Observation {
	return Observation{Angle: deg, AngleValid: true}
}

func TestNewThresholdMachineRejectsBadConfig(t *testing.T) {
	_, err := NewThresholdMachine(models.ExerciseSquat, 160, 100, 3)
	require.Error(t, err)

	_, err = NewThresholdMachine(models.ExerciseSquat, 100, 100, 3)
	require.Error(t, err)

	_, err = NewThresholdMachine(models.ExerciseSquat, 100, 160, 0)
	require.Error(t, err)
}

func TestThresholdMachineCountsFullCycle(t *testing.T) {
	m, err := NewThresholdMachine(models.ExerciseSquat, 100, 160, 3)
	require.NoError(t, err)

	sequence := []float64{170, 170, 170, 90, 90, 90, 170, 170, 170}
	reps := 0
	for _, deg := range sequence {
		out := m.Advance(angleObs(deg))
		reps += out.RepDelta
	}

	assert.Equal(t, 1, reps)
	assert.Equal(t, models.PhaseUp, m.Phase())
}

func TestThresholdMachineRepCommitsOnUpTransition(t *testing.T) {
	m, err := NewThresholdMachine(models.ExerciseSquat, 100, 160, 2)
	require.NoError(t, err)

	m.Advance(angleObs(90))
	out := m.Advance(angleObs(90))
	assert.Equal(t, models.PhaseDown, out.Phase)
	assert.Equal(t, 0, out.RepDelta)

	out = m.Advance(angleObs(170))
	assert.Equal(t, 0, out.RepDelta)
	out = m.Advance(angleObs(170))
	assert.Equal(t, 1, out.RepDelta)
	assert.Equal(t, models.PhaseUp, out.Phase)
}

func TestThresholdMachineDebounceRejectsBlips(t *testing.T) {
	m, err := NewThresholdMachine(models.ExerciseSquat, 100, 160, 3)
	require.NoError(t, err)

	// Two frames below the threshold, then a bounce back up: the streak
	// restarts and three more frames are needed.
	m.Advance(angleObs(90))
	m.Advance(angleObs(90))
	m.Advance(angleObs(170))
	m.Advance(angleObs(90))
	m.Advance(angleObs(90))
	assert.Equal(t, models.PhaseUp, m.Phase())

	out := m.Advance(angleObs(90))
	assert.Equal(t, models.PhaseDown, out.Phase)
}

func TestThresholdMachineInvalidFrameHoldsCounter(t *testing.T) {
	m, err := NewThresholdMachine(models.ExerciseSquat, 100, 160, 3)
	require.NoError(t, err)

	// An occluded frame carries no information; the streak neither advances
	// nor resets.
	m.Advance(angleObs(90))
	m.Advance(angleObs(90))
	out := m.Advance(Observation{})
	assert.Equal(t, models.PhaseUp, out.Phase)

	out = m.Advance(angleObs(90))
	assert.Equal(t, models.PhaseDown, out.Phase)
}

func TestThresholdMachineHysteresisBand(t *testing.T) {
	m, err := NewThresholdMachine(models.ExerciseSquat, 100, 160, 1)
	require.NoError(t, err)

	// Angles inside the band satisfy neither transition in either phase.
	for _i := 0; _i < 10; _i++ {
		out := m.Advance(angleObs(130))
		assert.Equal(t, models.PhaseUp, out.Phase)
		assert.Equal(t, 0, out.RepDelta)
	}

	m.Advance(angleObs(90))
	for _i := 0; _i < 10; _i++ {
		out := m.Advance(angleObs(130))
		assert.Equal(t, models.PhaseDown, out.Phase)
	}
}

func TestThresholdMachineReset(t *testing.T) {
	m, err := NewThresholdMachine(models.ExerciseSquat, 100, 160, 1)
	require.NoError(t, err)

	m.Advance(angleObs(90))
	require.Equal(t, models.PhaseDown, m.Phase())

	m.Reset()
	assert.Equal(t, models.PhaseUp, m.Phase())
}
