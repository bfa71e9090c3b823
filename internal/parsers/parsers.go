// Package parsers implements the small test-output parsing helpers
// shared across buildpacks and the controller loop: error
// signatures, pytest failure extraction, traceback file extraction,
// and test-id normalization. Grounded on
// original_source/rfsn_controller/parsers.py.
package parsers

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	pytestFailedRe = regexp.MustCompile(`(?m)^FAILED\s+(.+?)$`)
	traceFileRe    = regexp.MustCompile(`File "([^"]+\.py)"`)
)

// ErrorSignature hashes the trailing 80,000 characters of combined
// stdout/stderr, giving a stable fingerprint for the stall detector.
func ErrorSignature(stdout, stderr string) string {
	blob := stdout + "\n" + stderr
	if len(blob) > 80000 {
		blob = blob[len(blob)-80000:]
	}
	sum := sha256.Sum256([]byte(blob))
	return fmt.Sprintf("%x", sum)
}

// ParsePytestFailures extracts failing test identifiers ("FAILED <id>"
// lines), capped at limit.
func ParsePytestFailures(output string, limit int) []string {
	matches := pytestFailedRe.FindAllStringSubmatch(output, -1)
	var out []string
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ParseTraceFiles extracts Python traceback-referenced file paths,
// capped at limit.
func ParseTraceFiles(output string, limit int) []string {
	matches := traceFileRe.FindAllStringSubmatch(output, -1)
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// NormalizeTestPath reduces a "path/to/test.py::test_func" identifier
// to just the file path.
func NormalizeTestPath(failedID string) string {
	if idx := strings.Index(failedID, "::"); idx >= 0 {
		return strings.TrimSpace(failedID[:idx])
	}
	return strings.TrimSpace(failedID)
}
