package pose

import (
	"math"

	"github.com/san-kum/physio-cv/server/models"
)

// minVectorLen guards the angle math against degenerate poses where two
// joints collapse onto each other.
const minVectorLen = 1e-6

// angleDef names the joint triple (proximal, vertex, distal) for one angle.
type angleDef struct {
	name               models.AngleName
	prox, vertex, dist models.Joint
}

var angleDefs = []angleDef{
	{models.AngleLeftKnee, models.LeftHip, models.LeftKnee, models.LeftAnkle},
	{models.AngleRightKnee, models.RightHip, models.RightKnee, models.RightAnkle},
	{models.AngleLeftElbow, models.LeftShoulder, models.LeftElbow, models.LeftWrist},
	{models.AngleRightElbow, models.RightShoulder, models.RightElbow, models.RightWrist},
	// Torso uses the left side: a straight back reads close to 180.
	{models.AngleTorso, models.LeftShoulder, models.LeftHip, models.LeftKnee},
}

// Calculator derives joint angles and the arm-rotation bearing delta from
// smoothed poses. It retains the last valid value per angle so that a
// degenerate or occluded frame never surfaces as a NaN or a zero.
type Calculator struct {
	prev map[models.AngleName]models.JointAngle

	prevBearing float64
	hasBearing  bool
}

func NewCalculator() *Calculator {
	return &Calculator{prev: make(map[models.AngleName]models.JointAngle)}
}

// Compute derives the full angle set for one smoothed pose.
func (c *Calculator) Compute(p models.SmoothedPose) models.AngleSet {
	set := models.AngleSet{Angles: make(map[models.AngleName]models.JointAngle, len(angleDefs))}

	for _, def := range angleDefs {
		angle := models.JointAngle{Name: def.name}

		if p.Valid[def.prox] && p.Valid[def.vertex] && p.Valid[def.dist] {
			deg, ok := VertexAngle(
				point(p.Keypoints[def.prox]),
				point(p.Keypoints[def.vertex]),
				point(p.Keypoints[def.dist]),
			)
			if ok {
				angle.Degrees = deg
				angle.Valid = true
				c.prev[def.name] = angle
			}
		}

		if !angle.Valid {
			// Hold the previous valid reading, still flagged invalid so the
			// state machines treat the frame as "no information".
			if last, ok := c.prev[def.name]; ok {
				angle.Degrees = last.Degrees
			}
		}
		set.Angles[def.name] = angle
	}

	c.computeRotation(p, &set)
	return set
}

// computeRotation tracks the bearing of the shoulder-midpoint to
// wrist-midpoint vector and emits the signed per-frame delta.
func (c *Calculator) computeRotation(p models.SmoothedPose, set *models.AngleSet) {
	if !(p.Valid[models.LeftShoulder] && p.Valid[models.RightShoulder] &&
		p.Valid[models.LeftWrist] && p.Valid[models.RightWrist]) {
		// Occluded arms break the bearing chain: the next valid frame
		// re-seeds rather than producing a huge spurious delta.
		c.hasBearing = false
		return
	}

	shoulderMid := midpoint(point(p.Keypoints[models.LeftShoulder]), point(p.Keypoints[models.RightShoulder]))
	wristMid := midpoint(point(p.Keypoints[models.LeftWrist]), point(p.Keypoints[models.RightWrist]))

	dx := wristMid.X - shoulderMid.X
	dy := wristMid.Y - shoulderMid.Y
	reach := math.Hypot(dx, dy)
	if reach < minVectorLen {
		c.hasBearing = false
		return
	}

	set.ArmReach = reach
	set.ArmReachValid = true

	bearing := math.Atan2(dy, dx) * 180 / math.Pi
	if c.hasBearing {
		set.RotationDelta = WrapDegrees(bearing - c.prevBearing)
		set.RotationDeltaValid = true
	}
	c.prevBearing = bearing
	c.hasBearing = true
}

// ShoulderWidth returns the shoulder-to-shoulder distance, used as the
// calibration scale. ok is false when either shoulder is invalid or the
// distance is degenerate.
func ShoulderWidth(p models.SmoothedPose) (float64, bool) {
	if !p.Valid[models.LeftShoulder] || !p.Valid[models.RightShoulder] {
		return 0, false
	}
	l := p.Keypoints[models.LeftShoulder]
	r := p.Keypoints[models.RightShoulder]
	w := math.Hypot(l.X-r.X, l.Y-r.Y)
	if w < minVectorLen {
		return 0, false
	}
	return w, true
}

// VertexAngle computes the angle at b formed by a-b-c in degrees. ok is
// false when either limb vector is too short to define an angle.
func VertexAngle(a, b, c models.Point) (float64, bool) {
	bax, bay := a.X-b.X, a.Y-b.Y
	bcx, bcy := c.X-b.X, c.Y-b.Y

	na := math.Hypot(bax, bay)
	nc := math.Hypot(bcx, bcy)
	if na < minVectorLen || nc < minVectorLen {
		return 0, false
	}

	cos := (bax*bcx + bay*bcy) / (na * nc)
	// Clamp before acos: rounding can push the ratio a hair outside [-1,1].
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// WrapDegrees normalizes an angle difference to [-180, 180).
func WrapDegrees(deg float64) float64 {
	return math.Mod(deg+540, 360) - 180
}

func point(kp models.Keypoint) models.Point {
	return models.Point{X: kp.X, Y: kp.Y}
}

func midpoint(a, b models.Point) models.Point {
	return models.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
