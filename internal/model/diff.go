package model

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

// Diff is a unified-diff text blob plus derived metadata (spec §3).
type Diff struct {
	Text         string   `json:"text"`
	Hash         string   `json:"hash"`
	FilesChanged []string `json:"files_changed"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
}

var (
	plusFileRe  = regexp.MustCompile(`^\+\+\+ b/(.+)$`)
	minusFileRe = regexp.MustCompile(`^--- a/(.+)$`)
	deletedRe   = regexp.MustCompile(`^deleted file mode`)
	diffGitRe   = regexp.MustCompile(`^diff --git a/(\S+) b/(\S+)`)
)

// ParseDiff derives {hash, filesChanged, linesAdded, linesRemoved} from a
// unified-diff text blob following spec §3's marker rules: files-changed
// parsing follows "+++ b/<path>" / "--- a/<path>" markers; additions and
// removals count "^[+-]" lines excluding the "+++"/"---" header lines.
func ParseDiff(text string) Diff {
	sum := sha256.Sum256([]byte(text))
	d := Diff{
		Text: text,
		Hash: fmt.Sprintf("%x", sum),
	}
	seen := make(map[string]bool)
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		if m := plusFileRe.FindStringSubmatch(line); m != nil {
			path := m[1]
			if path != "/dev/null" && !seen[path] {
				seen[path] = true
				d.FilesChanged = append(d.FilesChanged, path)
			}
			continue
		}
		if m := minusFileRe.FindStringSubmatch(line); m != nil {
			path := m[1]
			if path != "/dev/null" && !seen[path] {
				seen[path] = true
				d.FilesChanged = append(d.FilesChanged, path)
			}
			continue
		}
		if m := diffGitRe.FindStringSubmatch(line); m != nil {
			for _, path := range []string{m[1], m[2]} {
				if !seen[path] {
					seen[path] = true
					d.FilesChanged = append(d.FilesChanged, path)
				}
			}
			continue
		}
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") {
			d.LinesAdded++
		} else if strings.HasPrefix(line, "-") {
			d.LinesRemoved++
		}
	}
	return d
}

// DiffLineCount returns the total line count of the diff text, matching
// action_outcome_memory.py's _diff_line_count: the raw line count of the
// patch blob, not just its +/- lines, used as ScoreAction's diffLines term.
func DiffLineCount(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSuffix(text, "\n"), "\n"))
}

// DeletedTestFiles returns the set of test-file paths the diff deletes,
// detected via "deleted file mode" hunks immediately following a
// "diff --git a/<path> b/<path>" header (spec §4.6).
func DeletedTestFiles(text string, isTestFile func(path string) bool) []string {
	var out []string
	lines := strings.Split(text, "\n")
	var currentPath string
	for _, line := range lines {
		if m := diffGitRe.FindStringSubmatch(line); m != nil {
			currentPath = m[1]
			continue
		}
		if deletedRe.MatchString(line) && currentPath != "" {
			if isTestFile(currentPath) {
				out = append(out, currentPath)
			}
		}
	}
	return out
}

// LooksLikeUnifiedDiff is the structural sniff used by ModelValidator
// (spec §4.14): a well-formed diff has a "diff --git a/" header or at
// least one hunk header ("@@ "), and is not a fenced Markdown block.
func LooksLikeUnifiedDiff(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "```") {
		return false
	}
	if strings.Contains(text, "diff --git a/") {
		return true
	}
	return strings.Contains(text, "\n@@ ") || strings.HasPrefix(text, "@@ ")
}
