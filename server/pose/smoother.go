package pose

import (
	"fmt"

	"github.com/san-kum/physio-cv/server/models"
	"gonum.org/v1/gonum/stat"
)

// Smoother averages each joint across a rolling window of recent frames,
// skipping samples below the confidence floor. A joint with no confident
// sample in the whole window goes invalid and holds its last good position,
// so a transient occlusion never shows up as an angle spike.
type Smoother struct {
	window  int
	minConf float64

	frames []models.Frame

	last [models.NumJoints]models.Keypoint
}

func NewSmoother(window int, minConfidence float64) (*Smoother, error) {
	if window < 1 {
		return nil, fmt.Errorf("smoothing window must be >= 1, got %d", window)
	}
	if minConfidence < 0 || minConfidence > 1 {
		return nil, fmt.Errorf("min confidence must be in [0,1], got %g", minConfidence)
	}
	return &Smoother{
		window:  window,
		minConf: minConfidence,
		frames:  make([]models.Frame, 0, window),
	}, nil
}

// Push adds a frame to the buffer and returns the smoothed pose.
func (s *Smoother) Push(frame models.Frame) models.SmoothedPose {
	if len(s.frames) == s.window {
		copy(s.frames, s.frames[1:])
		s.frames = s.frames[:s.window-1]
	}
	s.frames = append(s.frames, frame)

	out := models.SmoothedPose{Timestamp: frame.Timestamp}

	var xs, ys, cs []float64
	for j := 0; j < models.NumJoints; j++ {
		xs, ys, cs = xs[:0], ys[:0], cs[:0]
		for _, f := range s.frames {
			kp := f.Keypoints[j]
			if kp.Confidence >= s.minConf {
				xs = append(xs, kp.X)
				ys = append(ys, kp.Y)
				cs = append(cs, kp.Confidence)
			}
		}

		joint := models.Joint(j)
		if len(xs) == 0 {
			// Every buffered sample is low confidence: carry the previous
			// smoothed value forward, flagged invalid.
			out.Keypoints[j] = s.last[j]
			out.Keypoints[j].Joint = joint
			out.Valid[j] = false
			continue
		}

		// Confidence reflects the samples that actually made it into the
		// average, not whatever the newest raw frame reported.
		kp := models.Keypoint{
			Joint:      joint,
			X:          stat.Mean(xs, nil),
			Y:          stat.Mean(ys, nil),
			Confidence: stat.Mean(cs, nil),
		}
		out.Keypoints[j] = kp
		out.Valid[j] = true
		s.last[j] = kp
	}

	return out
}

// Reset clears the frame buffer but keeps last-valid positions, so a resumed
// session does not snap joints back to the origin.
func (s *Smoother) Reset() {
	s.frames = s.frames[:0]
}
