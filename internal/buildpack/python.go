package buildpack

import (
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/dawsonblock/rfsnctl/internal/parsers"
)

type pythonBuildpack struct{}

// NewPython constructs the Python buildpack.
func NewPython() Buildpack { return pythonBuildpack{} }

func (pythonBuildpack) Type() Type { return Python }

var pythonIndicators = []string{
	"pyproject.toml", "requirements.txt", "setup.py", "setup.cfg",
	"Pipfile", "poetry.lock", "requirements.lock", "tox.ini",
	"noxfile.py", "conftest.py", "pytest.ini", "py.typed",
}

func (pythonBuildpack) Detect(ctx Context) *DetectResult {
	var found []string
	for _, indicator := range pythonIndicators {
		if hasIndicator(ctx, indicator) {
			found = append(found, indicator)
		}
	}
	if len(found) == 0 {
		return nil
	}
	confidence := 0.6
	has := func(name string) bool {
		for _, f := range found {
			if f == name {
				return true
			}
		}
		return false
	}
	if has("pyproject.toml") {
		confidence += 0.2
	}
	if has("requirements.txt") {
		confidence += 0.2
	}
	if has("setup.py") {
		confidence += 0.1
	}
	if has("conftest.py") {
		confidence += 0.1
	}
	confidence = minFloat(confidence, 1.0)
	return &DetectResult{Type: Python, Confidence: confidence, Metadata: map[string]any{"indicators": found}}
}

func (pythonBuildpack) Image() string { return "python:3.11-slim" }

func (pythonBuildpack) SysdepsWhitelist() []string {
	extras := []string{"libssl-dev", "libffi-dev", "zlib1g-dev", "libbz2-dev", "liblzma-dev", "libxml2-dev", "libxslt1-dev", "libjpeg-dev", "libpng-dev"}
	return append(append([]string{}, commonSysdeps...), extras...)
}

func (pythonBuildpack) InstallPlan(ctx Context) []Step {
	steps := []Step{
		{Argv: []string{"python", "-m", "pip", "install", "-U", "pip", "setuptools", "wheel"}, Description: "Upgrade pip, setuptools, wheel", TimeoutSec: 180, NetworkRequired: true},
		{Argv: []string{"python", "-m", "pip", "install", "pytest"}, Description: "Install pytest", TimeoutSec: 120, NetworkRequired: true},
	}
	if hasIndicator(ctx, "requirements.txt") {
		steps = append(steps, Step{Argv: []string{"python", "-m", "pip", "install", "-r", "requirements.txt"}, Description: "Install requirements.txt", TimeoutSec: 300, NetworkRequired: true})
	}
	if hasIndicator(ctx, "pyproject.toml") {
		steps = append(steps, Step{Argv: []string{"python", "-m", "pip", "install", "-e", "."}, Description: "Editable-install the package", TimeoutSec: 300, NetworkRequired: true})
	}
	return steps
}

func (pythonBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	argv := []string{"python", "-m", "pytest", "-q"}
	if focusFile != "" {
		argv = append(argv, focusFile)
	}
	return TestPlan{Argv: argv, Description: "pytest", TimeoutSec: 120}
}

func (pythonBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	combined := stdout + "\n" + stderr
	failing := parsers.ParsePytestFailures(combined, 20)
	files := parsers.ParseTraceFiles(combined, 20)
	return model.FailureInfo{
		FailingTests: failing,
		LikelyFiles:  files,
		Signature:    parsers.ErrorSignature(stdout, stderr),
	}
}
