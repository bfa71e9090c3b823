// Package buildpack implements spec §4.9's per-language buildpack
// table: detection, Docker image selection, install/test command
// plans, and failure parsing for seven ecosystems (Python, Node, Go,
// Rust, Java, .NET, and a generic polyrepo fallback). Grounded on
// original_source/rfsn_controller/buildpacks/{base,python_pack,
// node_pack,go_pack,rust_pack,java_pack,dotnet_pack,polyrepo_pack}.py.
package buildpack

import "github.com/dawsonblock/rfsnctl/internal/model"

// Type enumerates the supported buildpacks.
type Type string

const (
	Python   Type = "python"
	Node     Type = "node"
	Go       Type = "go"
	Rust     Type = "rust"
	Java     Type = "java"
	Dotnet   Type = "dotnet"
	Polyrepo Type = "polyrepo"
)

// DetectResult is one buildpack's self-reported confidence.
type DetectResult struct {
	Type       Type
	Confidence float64
	Metadata   map[string]any
}

// Step is one installation command (argv, never a shell string).
type Step struct {
	Argv            []string
	Description     string
	TimeoutSec      int
	NetworkRequired bool
}

// TestPlan is a test execution command.
type TestPlan struct {
	Argv            []string
	Description     string
	TimeoutSec      int
	NetworkRequired bool
	FocusFile       string
}

// Context is what detection/planning/parsing methods read from the repo.
type Context struct {
	RepoDir  string
	RepoTree []string
	Files    map[string]string // filename -> content, pre-read by the caller
}

// Buildpack is the per-language contract (spec §4.9).
type Buildpack interface {
	Type() Type
	Detect(ctx Context) *DetectResult
	Image() string
	SysdepsWhitelist() []string
	InstallPlan(ctx Context) []Step
	TestPlan(ctx Context, focusFile string) TestPlan
	ParseFailures(stdout, stderr string) model.FailureInfo
}

var commonSysdeps = []string{"build-essential", "pkg-config", "git", "ca-certificates"}

// hasIndicator reports whether filename appears exactly (not merely as
// a suffix) in the repo tree or the pre-read files map, matching the
// original's "f == indicator or f.endswith('/' + indicator)" rule.
func hasIndicator(ctx Context, filename string) bool {
	if _, ok := ctx.Files[filename]; ok {
		return true
	}
	for _, f := range ctx.RepoTree {
		if f == filename || hasSuffixSlash(f, filename) {
			return true
		}
	}
	return false
}

func hasSuffixSlash(f, filename string) bool {
	suffix := "/" + filename
	if len(f) < len(suffix) {
		return false
	}
	return f[len(f)-len(suffix):] == suffix
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
