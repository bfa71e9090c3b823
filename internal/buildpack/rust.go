package buildpack

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

type rustBuildpack struct{}

// NewRust constructs the Rust buildpack.
func NewRust() Buildpack { return rustBuildpack{} }

func (rustBuildpack) Type() Type { return Rust }

var rustIndicators = []string{"Cargo.toml", "Cargo.lock"}

func (rustBuildpack) Detect(ctx Context) *DetectResult {
	var found []string
	for _, indicator := range rustIndicators {
		if hasIndicator(ctx, indicator) {
			found = append(found, indicator)
		}
	}
	has := func(name string) bool {
		for _, f := range found {
			if f == name {
				return true
			}
		}
		return false
	}
	if !has("Cargo.toml") {
		return nil
	}
	confidence := 0.8
	if has("Cargo.lock") {
		confidence = 0.9
	}
	return &DetectResult{Type: Rust, Confidence: confidence, Metadata: map[string]any{"indicators": found}}
}

func (rustBuildpack) Image() string { return "rust:1.78-bookworm" }

func (rustBuildpack) SysdepsWhitelist() []string {
	return append([]string{}, commonSysdeps...)
}

func (rustBuildpack) InstallPlan(ctx Context) []Step {
	return []Step{{Argv: []string{"cargo", "fetch"}, Description: "Fetch Rust dependencies", TimeoutSec: 300, NetworkRequired: true}}
}

func (rustBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	argv := []string{"cargo", "test"}
	if focusFile != "" {
		argv = []string{"cargo", "test", focusFile}
	}
	return TestPlan{Argv: argv, Description: "Run Rust tests", TimeoutSec: 120, FocusFile: focusFile}
}

var (
	rustFailRe = regexp.MustCompile(`test\s+(\w+)\s+\.\.\.\s+FAILED`)
	rustFileRe = regexp.MustCompile(`(\S+\.rs):(\d+):(\d+)`)
	rustErrRe  = regexp.MustCompile(`(?i)(panic|error)\[E\d+\]?:\s*(.+)`)
)

func (rustBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	output := stdout + "\n" + stderr
	var failing, likely []string
	for _, m := range rustFailRe.FindAllStringSubmatch(output, -1) {
		failing = append(failing, m[1])
	}
	for _, m := range rustFileRe.FindAllStringSubmatch(output, -1) {
		likely = append(likely, m[1])
	}
	var errType, errMsg string
	if m := rustErrRe.FindStringSubmatch(output); m != nil {
		errType = m[1]
		errMsg = strings.TrimSpace(m[2])
	}
	seen := map[string]bool{}
	var dedupLikely []string
	for _, f := range likely {
		if !seen[f] {
			seen[f] = true
			dedupLikely = append(dedupLikely, f)
		}
	}
	sigInput := strings.Join(failing, "\n") + "\n" + errType
	sum := sha256.Sum256([]byte(sigInput))
	signature := fmt.Sprintf("%x", sum)[:16]
	return model.FailureInfo{
		FailingTests: failing,
		LikelyFiles:  dedupLikely,
		Signature:    signature,
		ErrorType:    errType,
		ErrorMessage: errMsg,
	}
}
