package stall

import "testing"

func TestDetectorImprovementResetsCounter(t *testing.T) {
	d := New(3)
	if d.Update(10, "test_a", "sig1") {
		t.Fatal("first observation should never be stalled")
	}
	if d.Update(10, "test_a", "sig1") {
		t.Fatal("no improvement yet, should not cross threshold at count 1")
	}
	if d.Update(5, "test_a", "sig1") {
		t.Fatal("failingCount improved, should reset and not be stalled")
	}
	if d.IterationsWithoutImprovement() != 0 {
		t.Fatalf("expected counter reset to 0, got %d", d.IterationsWithoutImprovement())
	}
}

func TestDetectorStallsAtThreshold(t *testing.T) {
	d := New(3)
	d.Update(10, "test_a", "sig1") // baseline, counter 0
	d.Update(10, "test_a", "sig1") // no improvement, counter 1
	d.Update(10, "test_a", "sig1") // no improvement, counter 2
	stalled := d.Update(10, "test_a", "sig1") // no improvement, counter 3 >= threshold
	if !stalled {
		t.Fatal("expected stalled=true once counter reaches threshold")
	}
}

func TestDetectorTopTestChangeCountsAsImprovement(t *testing.T) {
	d := New(3)
	d.Update(10, "test_a", "sig1")
	d.Update(10, "test_a", "sig1")
	if d.Update(10, "test_b", "sig1") {
		t.Fatal("different top test should count as improvement")
	}
	if d.IterationsWithoutImprovement() != 0 {
		t.Fatal("expected reset after top-test change")
	}
}

func TestThreeXThresholdForProlongedStall(t *testing.T) {
	d := New(3)
	d.Update(10, "t", "s")
	stalledAt := -1
	for i := 1; i <= 9; i++ {
		stalled := d.Update(10, "t", "s")
		if stalled && stalledAt == -1 {
			stalledAt = i
		}
	}
	if stalledAt != 3 {
		t.Fatalf("expected first stall flag at iteration 3, got %d", stalledAt)
	}
	if d.IterationsWithoutImprovement() != 3*d.Threshold() {
		t.Fatalf("expected iterationsWithoutImprovement == 3*threshold (9), got %d", d.IterationsWithoutImprovement())
	}
}
