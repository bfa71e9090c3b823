package prompt

import (
	"strings"
	"testing"
)

func baseState() State {
	return State{
		Goal:         "Make test command succeed (exit code 0).",
		Intent:       "import_error",
		Subgoal:      "fix missing import",
		TestCmd:      "pytest -q",
		FocusTestCmd: "pytest -q tests/test_a.py",
		Constraints:  ConstraintsText(),
	}
}

func TestBuildRepairModeOrdersSections(t *testing.T) {
	s := baseState()
	s.FailureOutput = "boom"
	s.RepoTree = "a.py\nb.py"
	s.FilesBlock = "[path: a.py]\nprint(1)\n"
	out := Build(s)

	goalIdx := strings.Index(out, "GOAL:")
	intentIdx := strings.Index(out, "INTENT:")
	testCmdIdx := strings.Index(out, "TEST_COMMAND:")
	filesIdx := strings.Index(out, "FILES:")
	if !(goalIdx < intentIdx && intentIdx < testCmdIdx && testCmdIdx < filesIdx) {
		t.Fatalf("expected GOAL < INTENT < TEST_COMMAND < FILES, got offsets %d %d %d %d", goalIdx, intentIdx, testCmdIdx, filesIdx)
	}
	if strings.Contains(out, "FEATURE_DESCRIPTION") {
		t.Fatal("repair mode must not include feature sections")
	}
}

func TestBuildFeatureModeOmitsIntentSubgoal(t *testing.T) {
	s := baseState()
	s.Mode = ModeFeature
	s.FeatureDescription = "Add a widget"
	s.AcceptanceCriteria = []string{"widget renders", "widget is clickable"}
	s.CurrentSubgoal = "wire up the click handler"
	out := Build(s)
	if strings.Contains(out, "INTENT:") {
		t.Fatal("feature mode must not include INTENT section")
	}
	if !strings.Contains(out, "FEATURE_DESCRIPTION:\nAdd a widget") {
		t.Fatal("expected feature description section")
	}
	if !strings.Contains(out, "  - widget renders") {
		t.Fatal("expected acceptance criteria bullet")
	}
}

func TestBuildTruncatesFailureOutput(t *testing.T) {
	s := baseState()
	s.FailureOutput = strings.Repeat("x", 50000)
	out := Build(s)
	if !strings.Contains(out, "...[truncated]...") {
		t.Fatal("expected truncation marker for oversized failure output")
	}
}

func TestBuildOmitsEmptyOptionalSections(t *testing.T) {
	s := baseState()
	out := Build(s)
	if strings.Contains(out, "ACTION_PRIORS:") || strings.Contains(out, "OBSERVATIONS:") {
		t.Fatal("expected optional sections omitted when empty")
	}
}

func TestFilesBlockSkipsFailedReads(t *testing.T) {
	got := FilesBlock([]ReadFile{
		{Path: "a.py", Content: "x = 1", OK: true},
		{Path: "b.py", Content: "", OK: false},
	})
	if !strings.Contains(got, "[path: a.py]") {
		t.Fatal("expected a.py block present")
	}
	if strings.Contains(got, "b.py") {
		t.Fatal("expected failed read excluded")
	}
}
