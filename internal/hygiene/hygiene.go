// Package hygiene implements spec §4.6 (PatchHygiene): a structural
// gate on unified diffs, grounded on
// original_source/rfsn_controller/patch_hygiene.py. Forbidden-path and
// forbidden-filename matching use github.com/bmatcuk/doublestar/v4,
// giving that teacher dependency (carried with no direct call site) a
// real home (see DESIGN.md).
package hygiene

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

// Profile names a hygiene profile (spec §4.6).
type Profile string

const (
	ProfileRepair  Profile = "repair"
	ProfileFeature Profile = "feature"
)

// Limits holds the per-profile size limits.
type Limits struct {
	MaxLines             int
	MaxFiles              int
	AllowTestModification bool
	AllowTestDeletion     bool
	AllowLockfileChanges  bool
}

// LimitsFor returns the base limits for a profile, before any
// language-specific adjustment (Java +200 lines, Node +100 lines for
// feature profile, per spec §4.6).
func LimitsFor(profile Profile, language string) Limits {
	var l Limits
	switch profile {
	case ProfileFeature:
		l = Limits{MaxLines: 500, MaxFiles: 15, AllowTestModification: true}
	default:
		l = Limits{MaxLines: 200, MaxFiles: 5}
	}
	if profile == ProfileFeature {
		switch strings.ToLower(language) {
		case "java":
			l.MaxLines += 200
		case "node":
			l.MaxLines += 100
		}
	}
	return l
}

// forbiddenPathPrefixes are always-strict regardless of profile.
var forbiddenPathPrefixes = []string{
	".git/", "node_modules/", "__pycache__/", ".venv/", "venv/",
	"dist/", "build/", "target/", "vendor/", "third_party/",
}

// forbiddenFilenameGlobs are always-strict regardless of profile.
var forbiddenFilenameGlobs = []string{
	".env", ".env.*", "*.key", "*.pem", "id_rsa", "id_ed25519",
	"secrets.yml", "*.lock",
}

var (
	testSkipRe  = regexp.MustCompile(`@pytest\.mark\.skip|@pytest\.mark\.xfail|@unittest\.skip`)
	debugRe     = regexp.MustCompile(`pdb\.set_trace|breakpoint\(|print\("DEBUG|print\('DEBUG|"debug|pprint\(`)
	testPathRe  = regexp.MustCompile(`(^|/)test_[^/]*\.py$|_test\.(py|js|ts)$|\.test\.(py|js|ts)$|(^|/)(test|tests)/`)
	diffGitRe   = regexp.MustCompile(`^diff --git a/(\S+) b/(\S+)`)
	deletedRe   = regexp.MustCompile(`^deleted file mode`)
)

// IsTestFile reports whether path looks like a test file per spec §4.6.
func IsTestFile(path string) bool {
	return testPathRe.MatchString(path)
}

func matchesAnyGlob(path string, patterns []string) bool {
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

func hasForbiddenPrefix(path string) bool {
	for _, prefix := range forbiddenPathPrefixes {
		if strings.HasPrefix(path, prefix) || strings.Contains(path, "/"+prefix) {
			return true
		}
	}
	return false
}

// Result is PatchHygiene's output (spec §4.6).
type Result struct {
	IsValid    bool
	Violations []string
}

// Check gates a unified diff against a profile's limits (spec §4.6).
// Always-strict rules are checked regardless of profile, matching
// testable property 6 ("hygiene monotonicity").
func Check(d model.Diff, profile Profile, language string) Result {
	var violations []string
	limits := LimitsFor(profile, language)

	for _, path := range d.FilesChanged {
		if hasForbiddenPrefix(path) {
			violations = append(violations, "forbidden path prefix: "+path)
		}
		if matchesAnyGlob(path, forbiddenFilenameGlobs) && !(limits.AllowLockfileChanges && strings.HasSuffix(path, ".lock")) {
			violations = append(violations, "forbidden filename pattern: "+path)
		}
	}

	totalLines := d.LinesAdded + d.LinesRemoved
	if totalLines > limits.MaxLines {
		violations = append(violations, "diff exceeds max lines changed")
	}
	if len(d.FilesChanged) > limits.MaxFiles {
		violations = append(violations, "diff exceeds max files changed")
	}

	if testSkipRe.MatchString(d.Text) {
		violations = append(violations, "diff introduces a test-skip directive")
	}
	if debugRe.MatchString(d.Text) {
		violations = append(violations, "diff introduces a debug sentinel")
	}

	for _, path := range d.FilesChanged {
		if IsTestFile(path) && !limits.AllowTestModification {
			violations = append(violations, "test file modification not allowed in this profile: "+path)
		}
	}

	deleted := deletedTestFiles(d.Text)
	if len(deleted) > 0 && !limits.AllowTestDeletion {
		for _, path := range deleted {
			violations = append(violations, "Cannot delete test file: "+path)
		}
	}

	return Result{IsValid: len(violations) == 0, Violations: violations}
}

func deletedTestFiles(diffText string) []string {
	var out []string
	var currentPath string
	for _, line := range strings.Split(diffText, "\n") {
		if m := diffGitRe.FindStringSubmatch(line); m != nil {
			currentPath = m[1]
			continue
		}
		if deletedRe.MatchString(line) && currentPath != "" && IsTestFile(currentPath) {
			out = append(out, currentPath)
		}
	}
	return out
}
