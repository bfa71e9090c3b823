package buildpack

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

type goBuildpack struct{}

// NewGo constructs the Go buildpack.
func NewGo() Buildpack { return goBuildpack{} }

func (goBuildpack) Type() Type { return Go }

var goIndicators = []string{"go.mod", "go.sum", "go.work"}

func (goBuildpack) Detect(ctx Context) *DetectResult {
	var found []string
	for _, indicator := range goIndicators {
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
	if !has("go.mod") {
		return nil
	}
	confidence := 0.8
	if has("go.sum") {
		confidence = 0.9
	}
	return &DetectResult{Type: Go, Confidence: confidence, Metadata: map[string]any{"indicators": found}}
}

func (goBuildpack) Image() string { return "golang:1.22-bookworm" }

func (goBuildpack) SysdepsWhitelist() []string {
	return append([]string{}, commonSysdeps...)
}

func (goBuildpack) InstallPlan(ctx Context) []Step {
	return []Step{
		{Argv: []string{"go", "env", "-w", "GOPROXY=https://proxy.golang.org,direct"}, Description: "Set GOPROXY", TimeoutSec: 30, NetworkRequired: true},
		{Argv: []string{"go", "mod", "download"}, Description: "Download Go dependencies", TimeoutSec: 300, NetworkRequired: true},
	}
}

func (goBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	argv := []string{"go", "test", "./..."}
	if focusFile != "" {
		argv = []string{"go", "test", "./...", "-run", focusFile}
	}
	return TestPlan{Argv: argv, Description: "Run Go tests", TimeoutSec: 120, FocusFile: focusFile}
}

var (
	goFailRe  = regexp.MustCompile(`--- FAIL:\s+(\w+)`)
	goPanicRe = regexp.MustCompile(`(\S+\.go):(\d+)`)
	goErrRe   = regexp.MustCompile(`(?i)(panic|error):\s*(.+)`)
)

func (goBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	output := stdout + "\n" + stderr
	var failing, likely []string
	for _, m := range goFailRe.FindAllStringSubmatch(output, -1) {
		failing = append(failing, m[1])
	}
	for _, m := range goPanicRe.FindAllStringSubmatch(output, -1) {
		likely = append(likely, m[1])
	}
	var errType, errMsg string
	if m := goErrRe.FindStringSubmatch(output); m != nil {
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
