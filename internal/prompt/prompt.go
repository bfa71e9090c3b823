// Package prompt builds the single model-input string from controller
// state: deterministic, labeled sections with head-preserving
// truncation caps. Grounded on
// original_source/rfsn_controller/prompt.py's build_model_input and
// controller.py's _files_block/_constraints_text helpers.
package prompt

import (
	"fmt"
	"strings"
)

// ForbiddenPathPrefixes are paths the model must never be asked to touch.
var ForbiddenPathPrefixes = []string{".git/", "node_modules/", ".venv/", "venv/", "__pycache__/"}

const (
	failureOutputCap = 45000
	repoTreeCap      = 20000
	filesCap         = 120000
	actionPriorsCap  = 12000
	observationsCap  = 30000
)

// ReadFile mirrors a sandbox.read_file tool result used to build the
// FILES section.
type ReadFile struct {
	Path    string
	Content string
	OK      bool
}

// State is the controller's per-step context handed to the model. Mode
// selects between repair-mode fields (Intent/Subgoal) and feature-mode
// fields (FeatureDescription/AcceptanceCriteria/...).
type State struct {
	Mode string // "" for repair mode, "feature" for feature mode

	Goal          string
	Intent        string
	Subgoal       string
	TestCmd       string
	FocusTestCmd  string
	FailureOutput string
	RepoTree      string
	Constraints   string
	FilesBlock    string
	ActionPriors  string
	Observations  string

	FeatureDescription string
	AcceptanceCriteria []string
	CompletedSubgoals  []string
	CurrentSubgoal     string
}

const ModeFeature = "feature"

func truncate(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...[truncated]..."
}

// FilesBlock formats read_file results into labeled blocks, skipping
// any that did not succeed.
func FilesBlock(files []ReadFile) string {
	var blocks []string
	for _, f := range files {
		if !f.OK || f.Path == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[path: %s]\n%s\n", f.Path, f.Content))
	}
	return strings.Join(blocks, "\n")
}

// ConstraintsText is the static constraints description sent on every
// step.
func ConstraintsText() string {
	lines := []string{
		"- Return either tool_request or patch JSON only.",
		"- Patch diff must apply with git apply from repo root.",
		"- Minimal edits. No refactors. No reformatting.",
		"- Public GitHub only. No tokens.",
		"- Do not touch forbidden paths: " + strings.Join(ForbiddenPathPrefixes, ", "),
	}
	return strings.Join(lines, "\n")
}

// Build renders state into the single model-input string. Panics if a
// required field is empty, matching build_model_input's KeyError on
// missing required keys — callers populate State from already-known
// values, so a blank required field signals a controller bug, not bad
// input.
func Build(s State) string {
	if s.Goal == "" || s.TestCmd == "" || s.FocusTestCmd == "" || s.Constraints == "" {
		panic("prompt: missing required state field")
	}

	var sb strings.Builder
	sb.WriteString("GOAL:\n")
	sb.WriteString(s.Goal)
	sb.WriteString("\n\n")

	if s.Mode == ModeFeature {
		if s.FeatureDescription != "" {
			sb.WriteString("FEATURE_DESCRIPTION:\n")
			sb.WriteString(s.FeatureDescription)
			sb.WriteString("\n\n")
		}
		if len(s.AcceptanceCriteria) > 0 {
			sb.WriteString("ACCEPTANCE_CRITERIA:\n")
			for i, c := range s.AcceptanceCriteria {
				if i > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString("  - " + c)
			}
			sb.WriteString("\n\n")
		}
		if len(s.CompletedSubgoals) > 0 {
			sb.WriteString("COMPLETED_SUBGOALS:\n")
			for i, c := range s.CompletedSubgoals {
				if i > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString("  [done] " + c)
			}
			sb.WriteString("\n\n")
		}
		if s.CurrentSubgoal != "" {
			sb.WriteString("CURRENT_SUBGOAL:\n")
			sb.WriteString(s.CurrentSubgoal)
			sb.WriteString("\n\n")
		}
	} else {
		sb.WriteString("INTENT:\n")
		sb.WriteString(s.Intent)
		sb.WriteString("\n\n")
		sb.WriteString("SUBGOAL:\n")
		sb.WriteString(s.Subgoal)
		sb.WriteString("\n\n")
	}

	sb.WriteString("TEST_COMMAND:\n")
	sb.WriteString(s.TestCmd)
	sb.WriteString("\n\n")
	sb.WriteString("FOCUS_TEST_COMMAND:\n")
	sb.WriteString(s.FocusTestCmd)
	sb.WriteString("\n\n")
	sb.WriteString("FAILURE_OUTPUT:\n")
	sb.WriteString(truncate(s.FailureOutput, failureOutputCap))
	sb.WriteString("\n\n")
	sb.WriteString("REPO_TREE:\n")
	sb.WriteString(truncate(s.RepoTree, repoTreeCap))
	sb.WriteString("\n\n")
	sb.WriteString("CONSTRAINTS:\n")
	sb.WriteString(s.Constraints)
	sb.WriteString("\n\n")
	sb.WriteString("FILES:\n")
	sb.WriteString(truncate(s.FilesBlock, filesCap))
	sb.WriteString("\n")

	if s.ActionPriors != "" {
		sb.WriteString("\nACTION_PRIORS:\n")
		sb.WriteString(truncate(s.ActionPriors, actionPriorsCap))
		sb.WriteString("\n")
	}
	if s.Observations != "" {
		sb.WriteString("\nOBSERVATIONS:\n")
		sb.WriteString(truncate(s.Observations, observationsCap))
	}

	return sb.String()
}
