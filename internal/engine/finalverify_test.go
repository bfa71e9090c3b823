package engine

import (
	"context"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestVerifyExtraCommandsPolicies(t *testing.T) {
	c := newTestLoop(t)

	c.Config.VerifyPolicy = "tests_only"
	c.Config.LintCmd = "ruff check ."
	if got := c.verifyExtraCommands(); got != nil {
		t.Fatalf("tests_only policy should skip extras, got %v", got)
	}

	c.Config.VerifyPolicy = "cmds_then_tests"
	c.Config.VerifyCmdExtra = []string{"ruff check .", "mypy ."}
	got := c.verifyExtraCommands()
	if len(got) != 2 || got[0][0] != "ruff" || got[1][0] != "mypy" {
		t.Fatalf("explicit VerifyCmdExtra should take priority, got %v", got)
	}

	c.Config.VerifyCmdExtra = nil
	c.Config.LintCmd = "ruff check ."
	c.Config.TypecheckCmd = "mypy ."
	c.Config.ReproCmd = ""
	got = c.verifyExtraCommands()
	if len(got) != 2 {
		t.Fatalf("expected fallback to lint+typecheck, got %v", got)
	}
}

func TestRunFinalVerifyPassesAllCommands(t *testing.T) {
	c := newTestLoop(t)
	c.Config.VerifyCmdExtra = []string{"ruff check ."}
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"final_verify":       {OK: true, ExitCode: 0, Stdout: "5 passed"},
		"final_verify_extra": {OK: true, ExitCode: 0},
	}}

	next, reason, err := c.runFinalVerify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseEvidence {
		t.Fatalf("expected EVIDENCE_PACK, got %s (%s)", next, reason)
	}
}

func TestRunFinalVerifyFailsOnTestRegression(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"final_verify": failingTestResult("1 failed"),
	}}

	next, reason, err := c.runFinalVerify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseBailout {
		t.Fatalf("expected BAILOUT on final verify failure, got %s", next)
	}
	if reason == "" {
		t.Fatalf("expected a non-empty bailout reason")
	}
}

func TestRunFinalVerifyFailsOnExtraCommand(t *testing.T) {
	c := newTestLoop(t)
	c.Config.VerifyCmdExtra = []string{"ruff check ."}
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"final_verify":       {OK: true, ExitCode: 0},
		"final_verify_extra": {OK: false, ExitCode: 1, Stdout: "lint errors"},
	}}

	next, _, err := c.runFinalVerify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseBailout {
		t.Fatalf("expected BAILOUT when an extra verify command fails, got %s", next)
	}
}

func TestRunFinalVerifyCmdsOnlySkipsTestRun(t *testing.T) {
	c := newTestLoop(t)
	c.Config.VerifyPolicy = "cmds_only"
	c.Config.VerifyCmdExtra = []string{"ruff check ."}
	exec := &scriptedExecutor{byPhase: map[string]executor.Result{
		"final_verify_extra": {OK: true, ExitCode: 0},
	}}
	c.Exec = exec

	next, _, err := c.runFinalVerify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseEvidence {
		t.Fatalf("expected EVIDENCE_PACK, got %s", next)
	}
	for _, call := range exec.calls {
		if call.Phase == "final_verify" {
			t.Fatalf("cmds_only policy must not run the full test command")
		}
	}
}
