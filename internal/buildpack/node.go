package buildpack

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

type nodeBuildpack struct{}

// NewNode constructs the Node.js buildpack.
func NewNode() Buildpack { return nodeBuildpack{} }

func (nodeBuildpack) Type() Type { return Node }

var nodeIndicators = []string{"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "bun.lockb", "node_modules"}

func (nodeBuildpack) Detect(ctx Context) *DetectResult {
	var found []string
	for _, indicator := range nodeIndicators {
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
	if !has("package.json") {
		return nil
	}
	confidence := 0.6
	if has("package-lock.json") {
		confidence += 0.2
	}
	if has("yarn.lock") {
		confidence += 0.2
	}
	if has("pnpm-lock.yaml") {
		confidence += 0.2
	}
	confidence = minFloat(confidence, 1.0)
	pm := "npm"
	switch {
	case has("pnpm-lock.yaml"):
		pm = "pnpm"
	case has("yarn.lock"):
		pm = "yarn"
	case has("bun.lockb"):
		pm = "bun"
	}
	return &DetectResult{Type: Node, Confidence: confidence, Metadata: map[string]any{"indicators": found, "package_manager": pm}}
}

func (nodeBuildpack) Image() string { return "node:20-alpine" }

func (nodeBuildpack) SysdepsWhitelist() []string {
	return append(append([]string{}, commonSysdeps...), "python3", "make", "g++")
}

func (nodeBuildpack) InstallPlan(ctx Context) []Step {
	pm := "npm"
	if _, ok := ctx.Files["pnpm-lock.yaml"]; ok {
		pm = "pnpm"
	} else if _, ok := ctx.Files["yarn.lock"]; ok {
		pm = "yarn"
	} else if _, ok := ctx.Files["bun.lockb"]; ok {
		pm = "bun"
	}
	switch pm {
	case "pnpm":
		return []Step{
			{Argv: []string{"sh", "-c", "corepack enable && pnpm --version || echo pnpm_not_available"}, Description: "Check if pnpm is available", TimeoutSec: 60, NetworkRequired: true},
			{Argv: []string{"sh", "-c", "pnpm install --frozen-lockfile 2>/dev/null || npm install"}, Description: "Install dependencies (pnpm or npm fallback)", TimeoutSec: 300, NetworkRequired: true},
		}
	case "yarn":
		return []Step{
			{Argv: []string{"sh", "-c", "corepack enable && yarn --version || echo yarn_not_available"}, Description: "Check if yarn is available", TimeoutSec: 60, NetworkRequired: true},
			{Argv: []string{"sh", "-c", "yarn install --frozen-lockfile 2>/dev/null || npm install"}, Description: "Install dependencies (yarn or npm fallback)", TimeoutSec: 300, NetworkRequired: true},
		}
	case "bun":
		return []Step{{Argv: []string{"bun", "install"}, Description: "Install dependencies with bun", TimeoutSec: 300, NetworkRequired: true}}
	default:
		if _, ok := ctx.Files["package-lock.json"]; ok {
			return []Step{{Argv: []string{"npm", "ci"}, Description: "Install dependencies with npm ci", TimeoutSec: 300, NetworkRequired: true}}
		}
		return []Step{{Argv: []string{"npm", "install"}, Description: "Install dependencies with npm", TimeoutSec: 300, NetworkRequired: true}}
	}
}

func (nodeBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	pkg := ctx.Files["package.json"]
	if strings.Contains(pkg, `"test"`) {
		switch {
		case strings.Contains(pkg, "jest"):
			if focusFile != "" {
				return TestPlan{Argv: []string{"npx", "jest", focusFile, "--runInBand"}, Description: "Run Jest tests", TimeoutSec: 120, FocusFile: focusFile}
			}
			return TestPlan{Argv: []string{"npm", "test", "--silent"}, Description: "Run Jest tests", TimeoutSec: 120}
		case strings.Contains(pkg, "mocha"):
			if focusFile != "" {
				return TestPlan{Argv: []string{"npx", "mocha", focusFile}, Description: "Run Mocha tests", TimeoutSec: 120, FocusFile: focusFile}
			}
			return TestPlan{Argv: []string{"npm", "test", "--silent"}, Description: "Run Mocha tests", TimeoutSec: 120}
		case strings.Contains(pkg, "vitest"):
			if focusFile != "" {
				return TestPlan{Argv: []string{"npx", "vitest", "run", focusFile}, Description: "Run Vitest tests", TimeoutSec: 120, FocusFile: focusFile}
			}
			return TestPlan{Argv: []string{"npm", "test", "--silent"}, Description: "Run Vitest tests", TimeoutSec: 120}
		default:
			return TestPlan{Argv: []string{"npm", "test", "--silent"}, Description: "Run npm test", TimeoutSec: 120, FocusFile: focusFile}
		}
	}
	if focusFile != "" {
		return TestPlan{Argv: []string{"npx", "jest", focusFile, "--runInBand"}, Description: "Run Jest (default)", TimeoutSec: 120, FocusFile: focusFile}
	}
	return TestPlan{Argv: []string{"npx", "jest", "--runInBand"}, Description: "Run Jest (default)", TimeoutSec: 120}
}

var (
	jestFailRe   = regexp.MustCompile(`FAIL\s+(\S+)`)
	mochaFailRe  = regexp.MustCompile(`\s+\d+\)\s+(\S+)`)
	jsErrTypeRe  = regexp.MustCompile(`([A-Z][a-zA-Z]*Error):`)
	jsErrMsgRe   = regexp.MustCompile(`[A-Z][a-zA-Z]*Error:\s*(.+?)(?:\n|$)`)
)

func (nodeBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	output := stdout + "\n" + stderr
	var failing, likely []string
	for _, m := range jestFailRe.FindAllStringSubmatch(output, -1) {
		failing = append(failing, m[1])
		likely = append(likely, m[1])
	}
	for _, m := range mochaFailRe.FindAllStringSubmatch(output, -1) {
		failing = append(failing, m[1])
	}
	var errType, errMsg string
	if m := jsErrTypeRe.FindStringSubmatch(output); m != nil {
		errType = m[1]
	}
	if m := jsErrMsgRe.FindStringSubmatch(output); m != nil {
		errMsg = strings.TrimSpace(m[1])
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
