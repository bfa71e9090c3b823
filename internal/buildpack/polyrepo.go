package buildpack

import (
	"sort"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

type polyrepoBuildpack struct {
	sub []Buildpack
}

// NewPolyrepo constructs the polyglot monorepo buildpack, which
// delegates to whichever sub-buildpack has the highest detection
// confidence.
func NewPolyrepo() Buildpack {
	return polyrepoBuildpack{sub: []Buildpack{
		NewPython(), NewNode(), NewGo(), NewRust(), NewJava(), NewDotnet(),
	}}
}

func (polyrepoBuildpack) Type() Type { return Polyrepo }

func (p polyrepoBuildpack) detected(ctx Context) []*DetectResult {
	var out []*DetectResult
	for _, bp := range p.sub {
		if r := bp.Detect(ctx); r != nil && r.Confidence > 0.5 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func (p polyrepoBuildpack) Detect(ctx Context) *DetectResult {
	detected := p.detected(ctx)
	if len(detected) < 2 {
		return nil
	}
	sum := 0.0
	langs := make([]map[string]any, 0, len(detected))
	for _, r := range detected {
		sum += r.Confidence
		langs = append(langs, map[string]any{"type": string(r.Type), "confidence": r.Confidence})
	}
	return &DetectResult{
		Type:       Polyrepo,
		Confidence: sum / float64(len(detected)),
		Metadata:   map[string]any{"detected_languages": langs, "primary": string(detected[0].Type)},
	}
}

func (polyrepoBuildpack) Image() string { return "python:3.11-slim" }

func (p polyrepoBuildpack) SysdepsWhitelist() []string {
	seen := map[string]bool{}
	var all []string
	for _, bp := range p.sub {
		for _, pkg := range bp.SysdepsWhitelist() {
			if !seen[pkg] {
				seen[pkg] = true
				all = append(all, pkg)
			}
		}
	}
	sort.Strings(all)
	return all
}

func (p polyrepoBuildpack) primary(ctx Context) Buildpack {
	detected := p.detectedBuildpacks(ctx)
	if len(detected) == 0 {
		return nil
	}
	return detected[0]
}

func (p polyrepoBuildpack) detectedBuildpacks(ctx Context) []Buildpack {
	type pair struct {
		bp Buildpack
		r  *DetectResult
	}
	var pairs []pair
	for _, bp := range p.sub {
		if r := bp.Detect(ctx); r != nil && r.Confidence > 0.5 {
			pairs = append(pairs, pair{bp, r})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].r.Confidence > pairs[j].r.Confidence })
	out := make([]Buildpack, len(pairs))
	for i, pr := range pairs {
		out[i] = pr.bp
	}
	return out
}

func (p polyrepoBuildpack) InstallPlan(ctx Context) []Step {
	if primary := p.primary(ctx); primary != nil {
		return primary.InstallPlan(ctx)
	}
	return nil
}

func (p polyrepoBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	if primary := p.primary(ctx); primary != nil {
		return primary.TestPlan(ctx, focusFile)
	}
	argv := []string{"python", "-m", "pytest", "-q"}
	if focusFile != "" {
		argv = append(argv, focusFile)
	}
	return TestPlan{Argv: argv, Description: "Run pytest (fallback)", TimeoutSec: 120, FocusFile: focusFile}
}

func (p polyrepoBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	output := stdout + "\n" + stderr
	switch {
	case strings.Contains(output, "FAILED") && (strings.Contains(output, "::") || strings.Contains(output, "Traceback")):
		return NewPython().ParseFailures(stdout, stderr)
	case strings.Contains(output, "FAIL") && (strings.Contains(strings.ToLower(output), "jest") || strings.Contains(strings.ToLower(output), "mocha")):
		return NewNode().ParseFailures(stdout, stderr)
	case strings.Contains(output, "--- FAIL:"):
		return NewGo().ParseFailures(stdout, stderr)
	case strings.Contains(output, "test result: FAILED"):
		return NewRust().ParseFailures(stdout, stderr)
	case strings.Contains(output, "Tests run:") || strings.Contains(output, "BUILD FAILED"):
		return NewJava().ParseFailures(stdout, stderr)
	case strings.Contains(output, "Failed!"):
		return NewDotnet().ParseFailures(stdout, stderr)
	default:
		return NewPython().ParseFailures(stdout, stderr)
	}
}
