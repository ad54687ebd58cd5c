package feedback

import (
	"fmt"
	"math"

	"github.com/san-kum/physio-cv/server/models"
)

// Context is everything a rule predicate may look at. Rules are pure over
// this snapshot; the engine holds no mutable state.
type Context struct {
	Angles      models.AngleSet
	Phase       models.Phase
	RepCount    int
	Calibration models.CalibrationRecord
}

// Rule pairs a predicate with the message it produces. Tables are evaluated
// highest priority first; declaration order breaks ties, so evaluation is
// deterministic for any input.
type Rule struct {
	Name          string
	Priority      int
	Severity      models.Severity
	VoiceEligible bool
	When          func(Context) bool
	Message       func(Context) string
}

// Engine maps each exercise kind to its ordered rule table.
type Engine struct {
	tables map[models.ExerciseKind][]Rule
}

func NewEngine() *Engine {
	return &Engine{tables: map[models.ExerciseKind][]Rule{
		models.ExerciseSquat:     squatRules(),
		models.ExerciseArmCircle: armCircleRules(),
	}}
}

// Evaluate returns the first satisfied rule's message, scanning in table
// order (priority descending, declaration order on ties).
func (e *Engine) Evaluate(kind models.ExerciseKind, ctx Context) models.FeedbackMessage {
	for _, rule := range e.tables[kind] {
		if rule.When(ctx) {
			return models.FeedbackMessage{
				Text:          rule.Message(ctx),
				Severity:      rule.Severity,
				Priority:      rule.Priority,
				VoiceEligible: rule.VoiceEligible,
			}
		}
	}
	return models.FeedbackMessage{
		Text:     "Keep going",
		Severity: models.SeverityInfo,
	}
}

// RepMessage is the always-available confirmation generated synchronously on
// the frame that commits a rep. It outranks every table rule and is always
// voice-eligible.
func (e *Engine) RepMessage(kind models.ExerciseKind, repCount int) models.FeedbackMessage {
	text := fmt.Sprintf("Nice work. Rep %d counted.", repCount)
	switch kind {
	case models.ExerciseSquat:
		text = fmt.Sprintf("Nice squat. Rep %d counted.", repCount)
	case models.ExerciseArmCircle:
		text = fmt.Sprintf("Nice circle. Rep %d counted.", repCount)
	}
	return models.FeedbackMessage{
		Text:          text,
		Severity:      models.SeveritySuccess,
		Priority:      1000,
		VoiceEligible: true,
	}
}

// PausedMessage is shown while a paused session keeps receiving frames.
func PausedMessage() models.FeedbackMessage {
	return models.FeedbackMessage{Text: "Session paused", Severity: models.SeverityInfo}
}

func squatRules() []Rule {
	avgKnee := func(ctx Context) (float64, bool) {
		return ctx.Angles.Avg(models.AngleLeftKnee, models.AngleRightKnee)
	}

	return []Rule{
		{
			Name:     "reposition",
			Priority: 100,
			Severity: models.SeverityWarning,
			When: func(ctx Context) bool {
				_, ok := avgKnee(ctx)
				return !ok
			},
			Message: func(Context) string { return "Can't measure squat - reposition" },
		},
		{
			Name:          "back_straight",
			Priority:      90,
			Severity:      models.SeverityError,
			VoiceEligible: true,
			When: func(ctx Context) bool {
				torso, ok := ctx.Angles.Get(models.AngleTorso)
				return ok && torso.Degrees < 160
			},
			Message: func(ctx Context) string {
				torso, _ := ctx.Angles.Get(models.AngleTorso)
				return fmt.Sprintf("Keep your back straight (torso %.0f degrees)", torso.Degrees)
			},
		},
		{
			Name:          "balance",
			Priority:      80,
			Severity:      models.SeverityWarning,
			VoiceEligible: true,
			When: func(ctx Context) bool {
				l, lok := ctx.Angles.Get(models.AngleLeftKnee)
				r, rok := ctx.Angles.Get(models.AngleRightKnee)
				return lok && rok && math.Abs(l.Degrees-r.Degrees) > 10
			},
			Message: func(Context) string { return "Balance your weight between both legs" },
		},
		{
			Name:          "go_deeper",
			Priority:      60,
			Severity:      models.SeverityWarning,
			VoiceEligible: true,
			When: func(ctx Context) bool {
				avg, ok := avgKnee(ctx)
				return ok && ctx.Phase == models.PhaseDown && avg > 140
			},
			Message: func(Context) string { return "Try going deeper" },
		},
		{
			Name:     "nice_depth",
			Priority: 50,
			Severity: models.SeveritySuccess,
			When: func(ctx Context) bool {
				avg, ok := avgKnee(ctx)
				return ok && avg < 75
			},
			Message: func(Context) string { return "Nice depth!" },
		},
		{
			Name:     "good_form",
			Priority: 0,
			Severity: models.SeverityInfo,
			When:     func(Context) bool { return true },
			Message:  func(Context) string { return "Good squat depth" },
		},
	}
}

func armCircleRules() []Rule {
	elbows := func(ctx Context) (float64, float64, bool) {
		l, lok := ctx.Angles.Get(models.AngleLeftElbow)
		r, rok := ctx.Angles.Get(models.AngleRightElbow)
		return l.Degrees, r.Degrees, lok && rok
	}

	return []Rule{
		{
			Name:     "reposition",
			Priority: 100,
			Severity: models.SeverityWarning,
			When: func(ctx Context) bool {
				_, _, ok := elbows(ctx)
				return !ok
			},
			Message: func(Context) string { return "Can't measure arms - reposition" },
		},
		{
			// The only distance-based check: arm reach normalized by the
			// calibrated shoulder width. Angle rules stay scale-invariant.
			Name:          "extend_arms",
			Priority:      90,
			Severity:      models.SeverityWarning,
			VoiceEligible: true,
			When: func(ctx Context) bool {
				if !ctx.Calibration.Calibrated() || !ctx.Angles.ArmReachValid {
					return false
				}
				return ctx.Angles.ArmReach/ctx.Calibration.Scale < 0.7
			},
			Message: func(Context) string { return "Extend your arms further" },
		},
		{
			Name:          "soften_elbows",
			Priority:      80,
			Severity:      models.SeverityWarning,
			VoiceEligible: true,
			When: func(ctx Context) bool {
				l, r, ok := elbows(ctx)
				return ok && l > 170 && r > 170
			},
			Message: func(Context) string {
				return "Bend your elbows slightly so your shoulders aren't strained"
			},
		},
		{
			Name:          "smooth_pace",
			Priority:      0,
			Severity:      models.SeveritySuccess,
			VoiceEligible: true,
			When:          func(Context) bool { return true },
			Message:       func(Context) string { return "Nice rotation, keep a smooth pace" },
		},
	}
}
