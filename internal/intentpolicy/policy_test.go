package intentpolicy

import (
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestChooseImportError(t *testing.T) {
	v := model.VerifyResult{Stderr: "ModuleNotFoundError: No module named 'foo'", FailingTests: []string{"tests/test_a.py::test_x"}}
	d := Choose("pytest -q", v)
	if d.Intent != "dependency_or_import_fix" {
		t.Fatalf("expected import fix intent, got %s", d.Intent)
	}
	if d.FocusTestCmd != "pytest -q tests/test_a.py" {
		t.Fatalf("expected focused test cmd, got %s", d.FocusTestCmd)
	}
}

func TestChoosePriorityImportOverType(t *testing.T) {
	v := model.VerifyResult{Stderr: "ModuleNotFoundError and also TypeError: unsupported operand type"}
	d := Choose("pytest -q", v)
	if d.Intent != "dependency_or_import_fix" {
		t.Fatalf("expected import to win priority over type, got %s", d.Intent)
	}
}

func TestChooseGeneralFixWhenNoCategoryMatches(t *testing.T) {
	v := model.VerifyResult{Stderr: "some unrecognized failure"}
	d := Choose("pytest -q", v)
	if d.Intent != "general_fix" || d.Confidence != 0.5 {
		t.Fatalf("expected general_fix fallback, got %+v", d)
	}
}

func TestChooseFocusFallsBackToTestCmdWithoutFailingTests(t *testing.T) {
	d := Choose("pytest -q", model.VerifyResult{})
	if d.FocusTestCmd != "pytest -q" {
		t.Fatalf("expected fallback to full test_cmd, got %s", d.FocusTestCmd)
	}
}
