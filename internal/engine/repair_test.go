package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestQuixBugsImplFile(t *testing.T) {
	if got, ok := quixBugsImplFile("python_testcases/test_foo.py"); !ok || got != "python_programs/foo.py" {
		t.Fatalf("quixBugsImplFile mapping = %q, %v", got, ok)
	}
	if _, ok := quixBugsImplFile("tests/test_foo.py"); ok {
		t.Fatal("expected no mapping for a non-QuixBugs test path")
	}
	if _, ok := quixBugsImplFile("python_testcases/test_foo.txt"); ok {
		t.Fatal("expected no mapping for a non-.py suffix")
	}
}

func TestHighSignalFilesCollectsTestFileAndLikelyFiles(t *testing.T) {
	failInfo := model.FailureInfo{LikelyFiles: []string{"app.py", "tests/test_a.py"}}
	got := highSignalFiles(failInfo, "tests/test_a.py::test_x")
	want := []string{"tests/test_a.py", "app.py"}
	if len(got) != len(want) {
		t.Fatalf("highSignalFiles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("highSignalFiles = %v, want %v", got, want)
		}
	}
}

func TestHighSignalFilesAddsQuixBugsMapping(t *testing.T) {
	got := highSignalFiles(model.FailureInfo{}, "python_testcases/test_foo.py::test_case")
	want := []string{"python_testcases/test_foo.py", "python_programs/foo.py"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("highSignalFiles = %v, want %v", got, want)
	}
}

func TestHighSignalFilesSkipsForbiddenPrefixes(t *testing.T) {
	failInfo := model.FailureInfo{LikelyFiles: []string{".git/config", "node_modules/pkg/index.js", "app.py"}}
	got := highSignalFiles(failInfo, "")
	if len(got) != 1 || got[0] != "app.py" {
		t.Fatalf("expected only app.py to survive the forbidden-prefix filter, got %v", got)
	}
}

func TestHighSignalFilesCapsAtSix(t *testing.T) {
	failInfo := model.FailureInfo{LikelyFiles: []string{"a.py", "b.py", "c.py", "d.py", "e.py", "f.py", "g.py"}}
	got := highSignalFiles(failInfo, "")
	if len(got) != maxHighSignalFiles {
		t.Fatalf("expected cap of %d files, got %d", maxHighSignalFiles, len(got))
	}
}

func TestDiffImpactCounts(t *testing.T) {
	diffText := "diff --git a/tests/test_a.py b/tests/test_a.py\n--- a/tests/test_a.py\n+++ b/tests/test_a.py\n@@ -1,1 +1,1 @@\n-x = 1\n+x = 2\n" +
		"diff --git a/app.py b/app.py\n--- a/app.py\n+++ b/app.py\n@@ -1,1 +1,1 @@\n-y = 1\n+y = 2\n"
	d := model.ParseDiff(diffText)
	failInfo := model.FailureInfo{LikelyFiles: []string{"app.py"}}
	testFiles, tracebackFiles := diffImpactCounts(d, failInfo)
	if testFiles != 1 {
		t.Fatalf("expected 1 test file edited, got %d", testFiles)
	}
	if tracebackFiles != 1 {
		t.Fatalf("expected 1 traceback file edited, got %d", tracebackFiles)
	}
}

func TestRunRepairIterationTestsPassTransitionsToFinalVerify(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"repair_verify": {OK: true, ExitCode: 0, Stdout: "3 passed"},
	}}

	next, reason, err := c.runRepairIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseFinalVerify {
		t.Fatalf("expected FINAL_VERIFY once tests pass, got %s (%s)", next, reason)
	}
}

// TestRunRepairIterationShellIdiomRejected is spec scenario S3: a
// tool_request naming a shell idiom in args.cmd is rejected before it
// ever reaches ToolGovernor, the loop only records a corrective
// observation.
func TestRunRepairIterationShellIdiomRejected(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"repair_verify": failingTestResult("AssertionError: boom"),
	}}
	c.LLM = newFakeLLMClient(`{"mode":"tool_request","why":"install and test","requests":[{"tool":"sandbox.run","args":{"cmd":"npm install && npm test"}}]}`)

	next, _, err := c.runRepairIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseRepairLoop {
		t.Fatalf("expected REPAIR_LOOP to continue, got %s", next)
	}

	found := false
	for _, o := range c.observations {
		if strings.Contains(o, "shell=False") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a corrective observation mentioning shell=False, got %v", c.observations)
	}
	if stats := c.gov.Stats(); stats.TotalThisRun != 0 {
		t.Fatalf("expected ToolGovernor to see zero allowed requests, got %d", stats.TotalThisRun)
	}
	if c.budget.TotalToolCalls != 0 {
		t.Fatalf("expected no cost to the tool call budget, got %d", c.budget.TotalToolCalls)
	}
}

// TestRunRepairIterationDuplicateToolRequestBlocked is spec scenario S4:
// the same tool+args requested twice in one response is deduped by
// ToolGovernor, the second copy blocked with a "Duplicate" reason and
// never executed.
func TestRunRepairIterationDuplicateToolRequestBlocked(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"repair_verify": failingTestResult("AssertionError: boom"),
		"repair_tool":   {OK: true, ExitCode: 0, Stdout: "1 passed"},
	}}
	c.LLM = newFakeLLMClient(`{"mode":"tool_request","why":"check again","requests":[` +
		`{"tool":"sandbox.run","args":{"cmd":"pytest -q tests/test_a.py"}},` +
		`{"tool":"sandbox.run","args":{"cmd":"pytest -q tests/test_a.py"}}]}`)

	next, _, err := c.runRepairIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseRepairLoop {
		t.Fatalf("expected REPAIR_LOOP to continue, got %s", next)
	}

	found := false
	for _, o := range c.observations {
		if strings.Contains(o, "Duplicate") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Duplicate tool request observation, got %v", c.observations)
	}
	if c.budget.TotalToolCalls != 1 {
		t.Fatalf("expected exactly one tool call counted against the budget, got %d", c.budget.TotalToolCalls)
	}
}

// TestRunRepairIterationStallBailoutAtTripleThreshold is spec scenario
// S5: once iterationsWithoutImprovement reaches 3x the stall threshold
// (3*3=9), the loop bails out with a "Prolonged stall" reason.
func TestRunRepairIterationStallBailoutAtTripleThreshold(t *testing.T) {
	c := newTestLoop(t)
	c.Exec = &scriptedExecutor{byPhase: map[string]executor.Result{
		"repair_verify": failingTestResult("AssertionError: always fails the same way"),
	}}
	c.LLM = newFakeLLMClient(`{"mode":"tool_request","why":"look around","requests":[{"tool":"sandbox.list_tree"}]}`)

	var next model.Phase
	var reason string
	var err error
	for i := 0; i < 15; i++ {
		next, reason, err = c.runRepairIteration(context.Background())
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i+1, err)
		}
		if next == model.PhaseBailout {
			break
		}
		if next != model.PhaseRepairLoop {
			t.Fatalf("iteration %d: expected REPAIR_LOOP, got %s", i+1, next)
		}
	}

	if next != model.PhaseBailout {
		t.Fatalf("expected eventual BAILOUT, got %s", next)
	}
	if !strings.Contains(reason, "Prolonged stall") {
		t.Fatalf("expected stall bailout reason, got %q", reason)
	}
	if got := c.stall.IterationsWithoutImprovement(); got != 9 {
		t.Fatalf("expected bailout exactly at 9 iterations without improvement, got %d", got)
	}
}
