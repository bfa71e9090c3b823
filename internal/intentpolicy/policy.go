// Package intentpolicy implements spec §4.12 (Policy): a heuristic
// classifier that turns the latest VerifyResult's failure text into a
// repair intent, subgoal, focus test command, and confidence score.
// Grounded on original_source/rfsn_controller/policy.py, ported
// pattern-for-pattern and priority-for-priority.
package intentpolicy

import (
	"regexp"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

// Decision is the policy's output (spec §4.12).
type Decision struct {
	Intent        string
	Subgoal       string
	FocusTestCmd  string
	Confidence    float64
}

type category struct {
	name     string
	patterns []*regexp.Regexp
}

// categories preserves policy.py's ERROR_PATTERNS dict order, which
// Python 3.7+ dicts preserve at declaration and _choose_intent_from_categories
// re-derives via its own explicit if-chain below (not dict iteration) --
// ported the same way: classification collects every matching category,
// then a fixed priority chain picks the winning one.
var categories = []category{
	{"import", compileAll(`ModuleNotFoundError`, `ImportError`, `No module named`, `cannot import name`)},
	{"type", compileAll(`TypeError`, `unsupported operand type`, `object of type`, `expected.*got`)},
	{"attribute", compileAll(`AttributeError`, `has no attribute`, `object has no attribute`)},
	{"key", compileAll(`KeyError`, `key not found`)},
	{"index", compileAll(`IndexError`, `list index out of range`, `string index out of range`)},
	{"value", compileAll(`ValueError`, `invalid literal`, `could not convert`)},
	{"name", compileAll(`NameError`, `name.*is not defined`)},
	{"syntax", compileAll(`SyntaxError`, `invalid syntax`)},
	{"assertion", compileAll(`AssertionError`, `assert`)},
	{"zero_division", compileAll(`ZeroDivisionError`, `division by zero`)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func classifyError(blob string) map[string]bool {
	found := make(map[string]bool)
	for _, c := range categories {
		for _, re := range c.patterns {
			if re.MatchString(blob) {
				found[c.name] = true
				break
			}
		}
	}
	return found
}

// chooseIntent applies policy.py's fixed priority chain over whichever
// categories were found; order here is significant and must not be
// reordered without re-checking the original.
func chooseIntent(found map[string]bool) (intent, subgoal string, confidence float64) {
	if len(found) == 0 {
		return "general_fix", "reduce_failing_tests", 0.5
	}
	switch {
	case found["import"]:
		return "dependency_or_import_fix", "fix_imports", 0.9
	case found["name"]:
		return "name_fix", "resolve_undefined_names", 0.85
	case found["syntax"]:
		return "syntax_fix", "correct_syntax_errors", 0.95
	case found["attribute"]:
		return "attribute_error_fix", "fix_missing_attr", 0.85
	case found["type"]:
		return "type_error_fix", "reduce_type_errors", 0.8
	case found["key"]:
		return "key_error_fix", "handle_missing_keys", 0.8
	case found["index"]:
		return "index_error_fix", "fix_index_bounds", 0.8
	case found["value"]:
		return "value_error_fix", "validate_inputs", 0.75
	case found["zero_division"]:
		return "zero_division_fix", "add_division_checks", 0.9
	case found["assertion"]:
		return "logic_fix", "reduce_assertions", 0.7
	}
	return "general_fix", "reduce_failing_tests", 0.5
}

// Choose implements spec §4.12: classify the verify result's combined
// output, pick an intent/subgoal/confidence, and compute a focus test
// command that targets only the first failing test when one is known.
func Choose(testCmd string, v model.VerifyResult) Decision {
	blob := v.Stdout + "\n" + v.Stderr
	found := classifyError(blob)
	intent, subgoal, confidence := chooseIntent(found)

	focus := testCmd
	if len(v.FailingTests) > 0 {
		first := v.FailingTests[0]
		testFile := first
		if idx := strings.Index(first, "::"); idx >= 0 {
			testFile = first[:idx]
		}
		focus = "pytest -q " + testFile
	}

	return Decision{Intent: intent, Subgoal: subgoal, FocusTestCmd: focus, Confidence: confidence}
}
