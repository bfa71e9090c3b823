package budget

import "testing"

func TestExceededNoneByDefault(t *testing.T) {
	tr := New(DefaultLimits())
	if _, ok := tr.Exceeded(); ok {
		t.Fatal("fresh tracker should not exceed any limit")
	}
}

func TestExceededSteps(t *testing.T) {
	tr := New(Limits{MaxSteps: 3})
	tr.RecordStep(false)
	tr.RecordStep(false)
	if _, ok := tr.Exceeded(); ok {
		t.Fatal("should not exceed before reaching MaxSteps")
	}
	tr.RecordStep(false)
	reason, ok := tr.Exceeded()
	if !ok || reason == "" {
		t.Fatal("expected step budget exceeded")
	}
}

func TestMaxStepsZeroMeansUnlimited(t *testing.T) {
	tr := New(Limits{MaxSteps: 0})
	for i := 0; i < 1000; i++ {
		tr.RecordStep(false)
	}
	if _, ok := tr.Exceeded(); ok {
		t.Fatal("MaxSteps=0 should mean unlimited (--fix-all)")
	}
}

func TestStepsWithoutProgressResetsOnProgress(t *testing.T) {
	tr := New(Limits{MaxStepsWithoutProgress: 2})
	tr.RecordStep(false)
	tr.RecordStep(true)
	if tr.StepsWithoutProgress != 0 {
		t.Fatalf("expected reset to 0 on progress, got %d", tr.StepsWithoutProgress)
	}
	tr.RecordStep(false)
	tr.RecordStep(false)
	if _, ok := tr.Exceeded(); !ok {
		t.Fatal("expected steps-without-progress budget exceeded")
	}
}

func TestLowConfidenceStreak(t *testing.T) {
	tr := New(DefaultLimits())
	for i := 0; i < 3; i++ {
		tr.RecordConfidence(0.1, 0.5)
	}
	if _, ok := tr.Exceeded(); ok {
		t.Fatal("3 low-confidence calls should not yet exceed (threshold 4)")
	}
	tr.RecordConfidence(0.1, 0.5)
	if _, ok := tr.Exceeded(); !ok {
		t.Fatal("expected low-confidence streak bailout at 4")
	}
}

func TestRecordConfidenceResetsOnHighConfidence(t *testing.T) {
	tr := New(DefaultLimits())
	tr.RecordConfidence(0.1, 0.5)
	tr.RecordConfidence(0.1, 0.5)
	tr.RecordConfidence(0.9, 0.5)
	if tr.LowConfidenceStreak != 0 {
		t.Fatalf("expected reset, got %d", tr.LowConfidenceStreak)
	}
}
