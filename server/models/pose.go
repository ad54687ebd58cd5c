package models

import "time"

// Joint indexes a body landmark in the fixed COCO-17 keypoint layout the
// pose-estimation service emits. Frame keypoint slices are indexed by Joint.
type Joint int

const (
	Nose Joint = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle

	NumJoints = 17
)

var jointNames = [NumJoints]string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

func (j Joint) String() string {
	if j < 0 || j >= NumJoints {
		return "unknown"
	}
	return jointNames[j]
}

// ParseJoint resolves a landmark name from the wire format.
func ParseJoint(name string) (Joint, bool) {
	for j, n := range jointNames {
		if n == name {
			return Joint(j), true
		}
	}
	return 0, false
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Keypoint struct {
	Joint      Joint   `json:"joint"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Frame is one pose sample: all 17 keypoints plus the capture timestamp.
// Timestamps must be monotonically increasing within a session.
type Frame struct {
	Keypoints [NumJoints]Keypoint `json:"keypoints"`
	Timestamp int64               `json:"timestamp"`
}

// SmoothedPose mirrors Frame, but coordinates are window averages and each
// joint carries a validity flag. An invalid joint holds its last good
// position rather than collapsing to zero.
type SmoothedPose struct {
	Keypoints [NumJoints]Keypoint
	Valid     [NumJoints]bool
	Timestamp int64
}

// AngleName identifies a derived joint angle.
type AngleName string

const (
	AngleLeftKnee   AngleName = "left_knee"
	AngleRightKnee  AngleName = "right_knee"
	AngleLeftElbow  AngleName = "left_elbow"
	AngleRightElbow AngleName = "right_elbow"
	AngleTorso      AngleName = "torso"
)

type JointAngle struct {
	Name    AngleName `json:"name"`
	Degrees float64   `json:"degrees"`
	Valid   bool      `json:"valid"`
}

// AngleSet is everything the calculator derives from one smoothed pose.
type AngleSet struct {
	Angles map[AngleName]JointAngle `json:"angles"`

	// RotationDelta is the signed change, in degrees wrapped to [-180,180],
	// of the shoulder-midpoint to wrist-midpoint bearing since the previous
	// valid frame. Used by accumulation-cycle exercises.
	RotationDelta      float64 `json:"rotation_delta"`
	RotationDeltaValid bool    `json:"rotation_delta_valid"`

	// ArmReach is the wrist-midpoint distance from the shoulder midpoint in
	// raw image units, for calibration-normalized extension checks.
	ArmReach      float64 `json:"arm_reach"`
	ArmReachValid bool    `json:"arm_reach_valid"`
}

func (s AngleSet) Get(name AngleName) (JointAngle, bool) {
	a, ok := s.Angles[name]
	return a, ok && a.Valid
}

// Avg returns the mean of the named angles if every one of them is valid.
func (s AngleSet) Avg(names ...AngleName) (float64, bool) {
	sum := 0.0
	for _, n := range names {
		a, ok := s.Get(n)
		if !ok {
			return 0, false
		}
		sum += a.Degrees
	}
	return sum / float64(len(names)), true
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// FeedbackMessage is created fresh each frame and never mutated afterwards.
type FeedbackMessage struct {
	Text          string   `json:"text"`
	Severity      Severity `json:"severity"`
	Priority      int      `json:"priority"`
	VoiceEligible bool     `json:"voice_eligible"`
}

// CalibrationRecord holds the baseline scale (shoulder width in image units)
// captured by an explicit calibrate command. Recalibration overwrites it and
// never alters rep count or phase.
type CalibrationRecord struct {
	Scale      float64   `json:"scale"`
	CapturedAt time.Time `json:"captured_at"`
}

func (c CalibrationRecord) Calibrated() bool {
	return c.Scale > 0
}

// FrameResult is the per-frame record handed back to the display/transport
// layer. It is a snapshot; nothing in it aliases session state.
type FrameResult struct {
	Exercise       string                   `json:"exercise"`
	Phase          string                   `json:"phase"`
	Angles         map[AngleName]JointAngle `json:"angles"`
	RepCount       int                      `json:"rep_count"`
	RepCompleted   bool                     `json:"rep_completed"`
	Feedback       FeedbackMessage          `json:"feedback"`
	VoiceTriggered bool                     `json:"voice_triggered"`
	Timestamp      int64                    `json:"timestamp"`
}

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
