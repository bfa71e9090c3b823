package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/buildpack"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// pythonAware is implemented by DockerExecutor; the host executor has no
// venv to wire up and is simply skipped by the type assertion below.
type pythonAware interface {
	SetPython(venvDir string, isPython bool)
}

// runDetect implements spec §4.11's DETECT phase: run every buildpack's
// Detect over the repo tree, pick the highest-confidence result above
// 0.5, and apply a user-testCmd-derived override if one matches.
func (c *ControllerLoop) runDetect(ctx context.Context) (model.Phase, string, error) {
	bpCtx := c.buildpackContext()

	if c.Config.Buildpack != "" {
		if bp := buildpack.Get(buildpack.Type(c.Config.Buildpack)); bp != nil {
			c.buildpack = bp
			c.buildpackResult = &buildpack.DetectResult{Type: bp.Type(), Confidence: 1.0}
			c.configurePython()
			c.logEvent("detect_complete", map[string]any{"buildpack": string(bp.Type()), "source": "explicit"})
			return model.PhaseSetup, "explicit buildpack override", nil
		}
	}

	bp, result := buildpack.Select(bpCtx)

	if strings.TrimSpace(c.Config.TestCmd) != "" && c.Config.TestCmd != "pytest -q" {
		if inferred, ok := buildpack.InferFromTestCmd(c.Config.TestCmd); ok {
			if override := buildpack.Get(inferred); override != nil {
				bp = override
				result = &buildpack.DetectResult{Type: inferred, Confidence: 1.0}
			}
		}
	}

	c.buildpack = bp
	c.buildpackResult = result
	c.configurePython()

	if bp == nil {
		c.logEvent("detect_complete", map[string]any{"buildpack": "none", "fallback_image": c.Config.DockerImage})
		return model.PhaseSetup, "no buildpack above confidence threshold, using default image", nil
	}

	c.logEvent("detect_complete", map[string]any{"buildpack": string(bp.Type()), "confidence": result.Confidence})
	return model.PhaseSetup, fmt.Sprintf("detected %s (confidence %.2f)", bp.Type(), result.Confidence), nil
}

// configurePython tells a Docker executor where to cache the sandbox's
// venv once the buildpack is known. No-op for the host executor and for
// any non-Python buildpack (DockerSpec.IsPython stays false, so docker.go
// never bind-mounts or activates a venv).
func (c *ControllerLoop) configurePython() {
	pa, ok := c.Exec.(pythonAware)
	if !ok {
		return
	}
	isPython := c.buildpack != nil && c.buildpack.Type() == buildpack.Python
	pa.SetPython(filepath.Join(c.Sandbox.RootDir, "venv"), isPython)
}
