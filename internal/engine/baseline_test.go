package engine

import (
	"context"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestLooksLikeNoTestsCollected(t *testing.T) {
	cases := []struct {
		name string
		res  executor.Result
		want bool
	}{
		{"pytest no tests ran", executor.Result{ExitCode: 2, Stdout: "collected 0 items\nno tests ran in 0.01s"}, true},
		{"jest no tests found", executor.Result{ExitCode: 1, Stderr: "No tests found, exiting with code 1"}, true},
		{"ordinary failure", executor.Result{ExitCode: 1, Stdout: "1 failed, 2 passed"}, false},
		{"exit 2 but unrelated", executor.Result{ExitCode: 2, Stdout: "usage error"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := looksLikeNoTestsCollected(tc.res); got != tc.want {
				t.Errorf("looksLikeNoTestsCollected(%+v) = %v, want %v", tc.res, got, tc.want)
			}
		})
	}
}

func TestFallbackCollectCmd(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		want []string
	}{
		{"pytest direct", []string{"pytest", "-q"}, []string{"python", "-m", "pytest", "--collect-only"}},
		{"python -m pytest", []string{"python", "-m", "pytest", "-q"}, []string{"python", "-m", "pytest", "--collect-only"}},
		{"npm", []string{"npm", "test"}, []string{"npm", "test", "--", "--listTests"}},
		{"unknown", []string{"cargo", "test"}, nil},
		{"empty", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fallbackCollectCmd(tc.argv)
			if len(got) != len(tc.want) {
				t.Fatalf("fallbackCollectCmd(%v) = %v, want %v", tc.argv, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("fallbackCollectCmd(%v) = %v, want %v", tc.argv, got, tc.want)
				}
			}
		})
	}
}

func TestRunBaselinePassesShortCircuitsToEvidence(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"baseline": {OK: true, ExitCode: 0, Stdout: "3 passed"},
	}}

	passed, next, reason, err := c.runBaseline(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !passed {
		t.Fatalf("expected baseline to pass")
	}
	if next != model.PhaseEvidence {
		t.Fatalf("expected transition to EVIDENCE_PACK, got %s (%s)", next, reason)
	}
}

func TestRunBaselineFailsEntersRepairLoop(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"baseline": failingTestResult("AssertionError: 1 != 2"),
	}}

	passed, next, _, err := c.runBaseline(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if passed {
		t.Fatalf("expected baseline to fail")
	}
	if next != model.PhaseRepairLoop {
		t.Fatalf("expected transition to REPAIR_LOOP, got %s", next)
	}
}

func TestRunBaselineRetriesOnNoTestsCollected(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"baseline":       {ExitCode: 2, Stdout: "collected 0 items\nno tests ran in 0.00s"},
		"baseline_retry": {OK: true, ExitCode: 0, Stdout: "collected 5 items"},
	}}

	passed, next, _, err := c.runBaseline(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !passed {
		t.Fatalf("expected retry to recover a pass")
	}
	if next != model.PhaseEvidence {
		t.Fatalf("expected EVIDENCE_PACK after recovered retry, got %s", next)
	}
}
