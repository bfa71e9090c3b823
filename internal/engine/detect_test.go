package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/buildpack"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestRunDetectFallsBackToDefaultImageWithoutIndicators(t *testing.T) {
	c := newTestLoop(t)

	next, _, err := c.runDetect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseSetup {
		t.Fatalf("expected transition to SETUP, got %s", next)
	}
	if c.buildpack != nil {
		t.Errorf("expected no buildpack detected in an empty repo, got %v", c.buildpack.Type())
	}
}

func TestRunDetectPicksPythonFromRequirementsFile(t *testing.T) {
	c := newTestLoop(t)
	writeRepoFile(t, c, "requirements.txt", "pytest\n")

	next, _, err := c.runDetect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseSetup {
		t.Fatalf("expected transition to SETUP, got %s", next)
	}
	if c.buildpack == nil || c.buildpack.Type() != buildpack.Python {
		t.Fatalf("expected python buildpack, got %v", c.buildpack)
	}
}

func TestRunDetectHonorsExplicitBuildpackOverride(t *testing.T) {
	c := newTestLoop(t)
	writeRepoFile(t, c, "package.json", "{}")
	c.Config.Buildpack = string(buildpack.Go)

	next, reason, err := c.runDetect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != model.PhaseSetup {
		t.Fatalf("expected transition to SETUP, got %s (%s)", next, reason)
	}
	if c.buildpack == nil || c.buildpack.Type() != buildpack.Go {
		t.Fatalf("expected explicit go override to win over node indicators, got %v", c.buildpack)
	}
}

func TestRunDetectInfersFromNonDefaultTestCmd(t *testing.T) {
	c := newTestLoop(t)
	writeRepoFile(t, c, "requirements.txt", "pytest\n")
	c.Config.TestCmd = "npm test"

	_, _, err := c.runDetect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.buildpack == nil || c.buildpack.Type() != buildpack.Node {
		t.Fatalf("expected test-cmd inference to override python detection with node, got %v", c.buildpack)
	}
}

func writeRepoFile(t *testing.T, c *ControllerLoop, relPath, content string) {
	t.Helper()
	full := filepath.Join(c.Sandbox.RepoDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", relPath, err)
	}
}
