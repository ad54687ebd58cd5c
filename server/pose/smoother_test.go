package pose

import (
	"testing"

	"github.com/san-kum/physio-cv/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameAt(x, y, conf float64, ts int64) models.Frame {
	f := models.Frame{Timestamp: ts}
	for j := 0; j < models.NumJoints; j++ {
		f.Keypoints[j] = models.Keypoint{Joint: models.Joint(j), X: x, Y: y, Confidence: conf}
	}
	return f
}

func TestNewSmootherRejectsBadConfig(t *testing.T) {
	_, err := NewSmoother(0, 0.2)
	require.Error(t, err)

	_, err = NewSmoother(4, 1.5)
	require.Error(t, err)
}

func TestSmootherAveragesWindow(t *testing.T) {
	s, err := NewSmoother(3, 0.2)
	require.NoError(t, err)

	s.Push(frameAt(0, 0, 0.9, 1))
	s.Push(frameAt(3, 6, 0.9, 2))
	out := s.Push(frameAt(6, 12, 0.9, 3))

	require.True(t, out.Valid[models.LeftKnee])
	assert.InDelta(t, 3.0, out.Keypoints[models.LeftKnee].X, 1e-9)
	assert.InDelta(t, 6.0, out.Keypoints[models.LeftKnee].Y, 1e-9)
	assert.Equal(t, int64(3), out.Timestamp)
}

func TestSmootherSkipsLowConfidenceSamples(t *testing.T) {
	s, err := NewSmoother(3, 0.5)
	require.NoError(t, err)

	s.Push(frameAt(10, 10, 0.9, 1))
	// The jitter spike is below the confidence floor and must not pull the
	// average.
	out := s.Push(frameAt(500, 500, 0.1, 2))

	require.True(t, out.Valid[models.LeftKnee])
	assert.InDelta(t, 10.0, out.Keypoints[models.LeftKnee].X, 1e-9)
}

func TestSmootherConfidenceTracksAveragedSamples(t *testing.T) {
	s, err := NewSmoother(3, 0.5)
	require.NoError(t, err)

	s.Push(frameAt(10, 10, 0.9, 1))
	out := s.Push(frameAt(500, 500, 0.1, 2))

	// Only the confident sample went into the average, so its confidence is
	// what the smoothed keypoint reports; the excluded newest frame's 0.1
	// must not leak through.
	require.True(t, out.Valid[models.LeftKnee])
	assert.InDelta(t, 0.9, out.Keypoints[models.LeftKnee].Confidence, 1e-9)

	out = s.Push(frameAt(10, 10, 0.7, 3))
	assert.InDelta(t, 0.8, out.Keypoints[models.LeftKnee].Confidence, 1e-9)
}

func TestSmootherHoldsLastValidDuringOcclusion(t *testing.T) {
	s, err := NewSmoother(2, 0.5)
	require.NoError(t, err)

	s.Push(frameAt(20, 30, 0.9, 1))
	s.Push(frameAt(0, 0, 0.1, 2))
	out := s.Push(frameAt(0, 0, 0.1, 3))

	// Whole window is low confidence now: joint goes invalid but keeps the
	// last good coordinates instead of interpolating to zero.
	require.False(t, out.Valid[models.LeftKnee])
	assert.InDelta(t, 20.0, out.Keypoints[models.LeftKnee].X, 1e-9)
	assert.InDelta(t, 30.0, out.Keypoints[models.LeftKnee].Y, 1e-9)
}

func TestSmootherWindowSlides(t *testing.T) {
	s, err := NewSmoother(2, 0.2)
	require.NoError(t, err)

	s.Push(frameAt(0, 0, 0.9, 1))
	s.Push(frameAt(10, 0, 0.9, 2))
	out := s.Push(frameAt(20, 0, 0.9, 3))

	// Only the last two frames are in the window.
	assert.InDelta(t, 15.0, out.Keypoints[models.Nose].X, 1e-9)
}
