package exercise

import (
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/physio-cv/server/feedback"
	"github.com/san-kum/physio-cv/server/metrics"
	"github.com/san-kum/physio-cv/server/models"
	"github.com/san-kum/physio-cv/server/pose"
	"go.uber.org/zap"
)

var (
	ErrSessionNotActive = errors.New("session is not active")
	ErrNotCalibratable  = errors.New("no pose available to calibrate from")
)

// Status is the session lifecycle state driven by the control commands.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Config carries the tunables for one session. Defaults mirror the values
// tuned on real recordings; they are configuration, not invariants.
type Config struct {
	ConfirmFrames   int
	SmoothingWindow int
	MinConfidence   float64

	SquatLowAngle  float64
	SquatHighAngle float64

	RotationThresholdDeg float64
}

func DefaultConfig() Config {
	return Config{
		ConfirmFrames:        3,
		SmoothingWindow:      4,
		MinConfidence:        0.2,
		SquatLowAngle:        100,
		SquatHighAngle:       160,
		RotationThresholdDeg: 300,
	}
}

// Announcer is the voice dispatcher as the session sees it: a non-blocking
// enqueue that reports whether the message went out immediately.
type Announcer interface {
	Enqueue(text string) bool
}

// Session owns all per-user exercise state: smoother, angle calculator,
// state machine, rep count and calibration. It is constructed per caller,
// holds no globals, and must only be driven from one goroutine (the frame
// loop); the voice path never touches it.
type Session struct {
	ID   string
	kind models.ExerciseKind

	status      Status
	repCount    int
	calibration models.CalibrationRecord

	smoother *pose.Smoother
	calc     *pose.Calculator
	machine  Machine
	rules    *feedback.Engine

	lastPose models.SmoothedPose
	havePose bool
	lastTS   int64
	haveTS   bool

	announcer Announcer
	logger    *zap.Logger
	now       func() time.Time
}

// NewSession builds a session for the given exercise kind. Misconfigured
// thresholds and unknown kinds are rejected here, before any frame flows.
func NewSession(id string, kind models.ExerciseKind, cfg Config, announcer Announcer, logger *zap.Logger) (*Session, error) {
	machine, err := newMachine(kind, cfg)
	if err != nil {
		return nil, err
	}

	smoother, err := pose.NewSmoother(cfg.SmoothingWindow, cfg.MinConfidence)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	return &Session{
		ID:        id,
		kind:      kind,
		status:    StatusIdle,
		smoother:  smoother,
		calc:      pose.NewCalculator(),
		machine:   machine,
		rules:     feedback.NewEngine(),
		announcer: announcer,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func newMachine(kind models.ExerciseKind, cfg Config) (Machine, error) {
	switch kind {
	case models.ExerciseSquat:
		return NewThresholdMachine(kind, cfg.SquatLowAngle, cfg.SquatHighAngle, cfg.ConfirmFrames)
	case models.ExerciseArmCircle:
		return NewRotationMachine(kind, cfg.RotationThresholdDeg, cfg.ConfirmFrames)
	}
	return nil, fmt.Errorf("unsupported exercise %q", kind)
}

func (s *Session) Kind() models.ExerciseKind { return s.kind }
func (s *Session) Status() Status            { return s.status }
func (s *Session) RepCount() int             { return s.repCount }

// Start activates the session. Restarting a stopped session resets the
// machine and counters for a fresh set.
func (s *Session) Start() error {
	if s.status == StatusStopped {
		s.machine.Reset()
		s.smoother.Reset()
		s.repCount = 0
		s.haveTS = false
	}
	s.status = StatusActive
	return nil
}

func (s *Session) Pause() error {
	if s.status != StatusActive {
		return fmt.Errorf("cannot pause session in state %s", s.status)
	}
	s.status = StatusPaused
	return nil
}

func (s *Session) Resume() error {
	if s.status != StatusPaused {
		return fmt.Errorf("cannot resume session in state %s", s.status)
	}
	s.status = StatusActive
	return nil
}

func (s *Session) Stop() error {
	s.status = StatusStopped
	return nil
}

// Calibrate captures the shoulder width from the most recent pose as the
// distance-normalization scale. It overwrites any previous calibration and
// deliberately leaves phase and rep count untouched.
func (s *Session) Calibrate() (models.CalibrationRecord, error) {
	if !s.havePose {
		return models.CalibrationRecord{}, ErrNotCalibratable
	}
	width, ok := pose.ShoulderWidth(s.lastPose)
	if !ok {
		return models.CalibrationRecord{}, fmt.Errorf("shoulders not visible: %w", ErrNotCalibratable)
	}
	s.calibration = models.CalibrationRecord{Scale: width, CapturedAt: s.now()}
	s.logger.Info("session calibrated",
		zap.String("session_id", s.ID),
		zap.Float64("scale", width))
	return s.calibration, nil
}

// ProcessFrame runs the whole synchronous pipeline for one frame:
// smooth -> angles -> state machine -> feedback -> (maybe) voice. Nothing in
// here blocks; the only concurrent hand-off is the dispatcher's non-blocking
// mailbox write.
func (s *Session) ProcessFrame(frame models.Frame) (models.FrameResult, error) {
	switch s.status {
	case StatusActive:
	case StatusPaused:
		// Paused frames are acknowledged without mutating anything.
		res := s.snapshotResult(frame.Timestamp)
		res.Feedback = feedback.PausedMessage()
		return res, nil
	default:
		return models.FrameResult{}, fmt.Errorf("session %s: %w", s.ID, ErrSessionNotActive)
	}

	if s.haveTS && frame.Timestamp <= s.lastTS {
		metrics.FramesRejected.Inc()
		return models.FrameResult{}, fmt.Errorf("non-monotonic frame timestamp %d (last %d)", frame.Timestamp, s.lastTS)
	}
	s.lastTS = frame.Timestamp
	s.haveTS = true

	smoothed := s.smoother.Push(frame)
	s.lastPose = smoothed
	s.havePose = true

	angles := s.calc.Compute(smoothed)
	outcome := s.machine.Advance(s.observation(angles))
	repCompleted := outcome.RepDelta > 0
	if repCompleted {
		s.repCount += outcome.RepDelta
		metrics.RepsCounted.WithLabelValues(string(s.kind)).Inc()
		s.logger.Info("rep counted",
			zap.String("session_id", s.ID),
			zap.String("exercise", string(s.kind)),
			zap.Int("rep_count", s.repCount))
	}

	var msg models.FeedbackMessage
	if repCompleted {
		// Rep confirmations bypass the rule table and are always
		// voice-eligible.
		msg = s.rules.RepMessage(s.kind, s.repCount)
	} else {
		msg = s.rules.Evaluate(s.kind, feedback.Context{
			Angles:      angles,
			Phase:       outcome.Phase,
			RepCount:    s.repCount,
			Calibration: s.calibration,
		})
	}

	voiceTriggered := false
	if msg.VoiceEligible && s.announcer != nil {
		voiceTriggered = s.announcer.Enqueue(msg.Text)
	}

	metrics.FramesProcessed.Inc()

	return models.FrameResult{
		Exercise:       string(s.kind),
		Phase:          string(outcome.Phase),
		Angles:         angles.Angles,
		RepCount:       s.repCount,
		RepCompleted:   repCompleted,
		Feedback:       msg,
		VoiceTriggered: voiceTriggered,
		Timestamp:      frame.Timestamp,
	}, nil
}

// observation maps the angle set to the machine's input for this kind.
func (s *Session) observation(angles models.AngleSet) Observation {
	var obs Observation
	switch s.kind {
	case models.ExerciseSquat:
		if avg, ok := angles.Avg(models.AngleLeftKnee, models.AngleRightKnee); ok {
			obs.Angle = avg
			obs.AngleValid = true
		}
	case models.ExerciseArmCircle:
		obs.Delta = angles.RotationDelta
		obs.DeltaValid = angles.RotationDeltaValid
	}
	return obs
}

// Snapshot is a read-only copy of the session state for transport layers.
type Snapshot struct {
	ID          string                   `json:"id"`
	Exercise    models.ExerciseKind      `json:"exercise"`
	Status      Status                   `json:"status"`
	Phase       models.Phase             `json:"phase"`
	RepCount    int                      `json:"rep_count"`
	Calibration models.CalibrationRecord `json:"calibration"`
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:          s.ID,
		Exercise:    s.kind,
		Status:      s.status,
		Phase:       s.machine.Phase(),
		RepCount:    s.repCount,
		Calibration: s.calibration,
	}
}

func (s *Session) snapshotResult(ts int64) models.FrameResult {
	return models.FrameResult{
		Exercise:  string(s.kind),
		Phase:     string(s.machine.Phase()),
		RepCount:  s.repCount,
		Timestamp: ts,
	}
}
