// Package stall implements spec §4.9 (StallDetector), a near-direct
// port of original_source/rfsn_controller/stall_detector.py.
package stall

// Detector tracks improvement of the (failingCount, topTestID, sig)
// tuple across REPAIR_LOOP iterations.
type Detector struct {
	lastFailingCount          int
	lastTopTest               string
	lastSig                   string
	iterationsWithoutImprovement int
	threshold                 int
	hasBaseline               bool
}

// New creates a Detector with the given threshold (spec default: 3).
func New(threshold int) *Detector {
	if threshold <= 0 {
		threshold = 3
	}
	return &Detector{threshold: threshold}
}

// Update reports whether the loop is now stalled (counter >= threshold)
// after observing the current iteration's tuple.
func (d *Detector) Update(failingCount int, topTest, sig string) bool {
	improved := !d.hasBaseline ||
		failingCount < d.lastFailingCount ||
		topTest != d.lastTopTest ||
		sig != d.lastSig

	d.hasBaseline = true
	if improved {
		d.iterationsWithoutImprovement = 0
	} else {
		d.iterationsWithoutImprovement++
	}
	d.lastFailingCount = failingCount
	d.lastTopTest = topTest
	d.lastSig = sig

	return d.iterationsWithoutImprovement >= d.threshold
}

// IterationsWithoutImprovement exposes the raw counter, used by
// BudgetTracker's "3x threshold" bailout predicate (spec §4.9, §4.10).
func (d *Detector) IterationsWithoutImprovement() int {
	return d.iterationsWithoutImprovement
}

// Threshold returns the configured stall threshold.
func (d *Detector) Threshold() int { return d.threshold }

// Reset clears the detector's state (used when a restart/fresh context
// begins — mirrors engine.go's fidelity-state reset on loop restart).
func (d *Detector) Reset() {
	*d = Detector{threshold: d.threshold}
}
