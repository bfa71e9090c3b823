// Package budget implements spec §4.10 (BudgetTracker): counters
// compared against configured limits, any of which crossing transitions
// the loop to BAILOUT. Counter names/semantics modeled on the teacher's
// RunOptions/restart-budget fields (restart_signature_limit,
// max_restarts) in internal/attractor/engine/engine.go, generalized to
// the spec's fixed counter set.
package budget

import "fmt"

// Limits mirrors the CLI flags of spec §6 that bound the loop.
type Limits struct {
	MaxSteps                 int // 0 = unlimited (--fix-all)
	MaxStepsWithoutProgress  int
	MaxToolCalls              int
	MaxPatchAttempts          int
	MaxVerificationAttempts   int
	MaxMinutes                float64
	MaxLowConfidenceStreak    int // spec default: 4
}

// DefaultLimits returns the spec's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:                12,
		MaxStepsWithoutProgress:  10,
		MaxToolCalls:              40,
		MaxPatchAttempts:          0,
		MaxVerificationAttempts:   0,
		MaxMinutes:                0,
		MaxLowConfidenceStreak:    4,
	}
}

// Tracker accumulates counters across a controller run.
type Tracker struct {
	limits Limits

	Steps                 int
	StepsWithoutProgress  int
	TotalToolCalls        int
	PatchAttempts         int
	VerificationAttempts  int
	ElapsedMinutes        float64
	LowConfidenceStreak   int
}

func New(limits Limits) *Tracker {
	return &Tracker{limits: limits}
}

// Exceeded reports the first crossed limit, if any, as a bailout reason
// string; ok=false means no limit has been crossed yet.
func (t *Tracker) Exceeded() (reason string, ok bool) {
	if t.limits.MaxSteps > 0 && t.Steps >= t.limits.MaxSteps {
		return fmt.Sprintf("step budget exhausted (%d/%d)", t.Steps, t.limits.MaxSteps), true
	}
	if t.limits.MaxStepsWithoutProgress > 0 && t.StepsWithoutProgress >= t.limits.MaxStepsWithoutProgress {
		return fmt.Sprintf("steps without progress exhausted (%d/%d)", t.StepsWithoutProgress, t.limits.MaxStepsWithoutProgress), true
	}
	if t.limits.MaxToolCalls > 0 && t.TotalToolCalls >= t.limits.MaxToolCalls {
		return fmt.Sprintf("tool call budget exhausted (%d/%d)", t.TotalToolCalls, t.limits.MaxToolCalls), true
	}
	if t.limits.MaxPatchAttempts > 0 && t.PatchAttempts >= t.limits.MaxPatchAttempts {
		return fmt.Sprintf("patch attempt budget exhausted (%d/%d)", t.PatchAttempts, t.limits.MaxPatchAttempts), true
	}
	if t.limits.MaxVerificationAttempts > 0 && t.VerificationAttempts >= t.limits.MaxVerificationAttempts {
		return fmt.Sprintf("verification attempt budget exhausted (%d/%d)", t.VerificationAttempts, t.limits.MaxVerificationAttempts), true
	}
	if t.limits.MaxMinutes > 0 && t.ElapsedMinutes >= t.limits.MaxMinutes {
		return fmt.Sprintf("wallclock budget exhausted (%.1f/%.1f minutes)", t.ElapsedMinutes, t.limits.MaxMinutes), true
	}
	if t.LowConfidenceStreak >= 4 {
		return fmt.Sprintf("low-confidence streak reached (%d/4)", t.LowConfidenceStreak), true
	}
	return "", false
}

// RecordStep marks a loop iteration, bumping StepsWithoutProgress unless
// progress is true (progress resets it to 0).
func (t *Tracker) RecordStep(progress bool) {
	t.Steps++
	if progress {
		t.StepsWithoutProgress = 0
	} else {
		t.StepsWithoutProgress++
	}
}

func (t *Tracker) RecordToolCall(n int)        { t.TotalToolCalls += n }
func (t *Tracker) RecordPatchAttempt()         { t.PatchAttempts++ }
func (t *Tracker) RecordVerificationAttempt()  { t.VerificationAttempts++ }
func (t *Tracker) RecordElapsedMinutes(m float64) { t.ElapsedMinutes = m }

// RecordConfidence updates the low-confidence streak: a confidence below
// the threshold increments it, otherwise it resets.
func (t *Tracker) RecordConfidence(confidence, threshold float64) {
	if confidence < threshold {
		t.LowConfidenceStreak++
	} else {
		t.LowConfidenceStreak = 0
	}
}
