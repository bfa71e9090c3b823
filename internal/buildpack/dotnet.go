package buildpack

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

type dotnetBuildpack struct{}

// NewDotnet constructs the .NET buildpack.
func NewDotnet() Buildpack { return dotnetBuildpack{} }

func (dotnetBuildpack) Type() Type { return Dotnet }

func anySuffix(tree []string, suffix string) bool {
	for _, f := range tree {
		if strings.HasSuffix(f, suffix) {
			return true
		}
	}
	return false
}

func (dotnetBuildpack) Detect(ctx Context) *DetectResult {
	var found []string
	if anySuffix(ctx.RepoTree, ".csproj") {
		found = append(found, ".csproj")
	}
	if anySuffix(ctx.RepoTree, ".sln") {
		found = append(found, ".sln")
	}
	if hasIndicator(ctx, "global.json") {
		found = append(found, "global.json")
	}
	if hasIndicator(ctx, "Directory.Build.props") {
		found = append(found, "Directory.Build.props")
	}
	if len(found) == 0 {
		return nil
	}
	has := func(name string) bool {
		for _, f := range found {
			if f == name {
				return true
			}
		}
		return false
	}
	if !has(".csproj") && !has(".sln") {
		return nil
	}
	return &DetectResult{Type: Dotnet, Confidence: 0.9, Metadata: map[string]any{"indicators": found}}
}

func (dotnetBuildpack) Image() string { return "mcr.microsoft.com/dotnet/sdk:8.0" }

func (dotnetBuildpack) SysdepsWhitelist() []string {
	return append([]string{}, commonSysdeps...)
}

func (dotnetBuildpack) InstallPlan(ctx Context) []Step {
	return []Step{{Argv: []string{"dotnet", "restore"}, Description: "Restore .NET dependencies", TimeoutSec: 300, NetworkRequired: true}}
}

func (dotnetBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	argv := []string{"dotnet", "test", "--nologo"}
	if focusFile != "" {
		argv = []string{"dotnet", "test", "--nologo", "--filter", "FullyQualifiedName~" + focusFile}
	}
	return TestPlan{Argv: argv, Description: "Run .NET tests", TimeoutSec: 120, FocusFile: focusFile}
}

var (
	dotnetFailRe   = regexp.MustCompile(`Failed!\s+-\s+Failed:\s+([^\s(]+)`)
	dotnetFileRe   = regexp.MustCompile(`(\S+\.cs):(\d+)`)
	dotnetErrRe    = regexp.MustCompile(`([A-Z][a-zA-Z]*Exception):`)
	dotnetErrMsgRe = regexp.MustCompile(`[A-Z][a-zA-Z]*Exception:\s*(.+?)(?:\n|$)`)
)

func (dotnetBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	output := stdout + "\n" + stderr
	var failing, likely []string
	for _, m := range dotnetFailRe.FindAllStringSubmatch(output, -1) {
		failing = append(failing, m[1])
	}
	for _, m := range dotnetFileRe.FindAllStringSubmatch(output, -1) {
		likely = append(likely, m[1])
	}
	var errType, errMsg string
	if m := dotnetErrRe.FindStringSubmatch(output); m != nil {
		errType = m[1]
	}
	if m := dotnetErrMsgRe.FindStringSubmatch(output); m != nil {
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
