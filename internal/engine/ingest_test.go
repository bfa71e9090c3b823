package engine

import (
	"context"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/sandbox"
)

func TestValidateGitHubURLAcceptsPlainRepo(t *testing.T) {
	got, err := sandbox.ValidateGitHubURL("https://github.com/a/b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://github.com/a/b" {
		t.Errorf("got %q", got)
	}
}

func TestValidateGitHubURLRejectsForbiddenMarkers(t *testing.T) {
	cases := []string{
		"https://github.com/a/b/blob/main/x.py",
		"https://github.com/a/b/tree/main",
		"https://user@github.com/a/b",
		"https://github.com/a/b?tab=readme",
	}
	for _, raw := range cases {
		if _, err := sandbox.ValidateGitHubURL(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestValidateGitHubURLRejectsNonGithubHost(t *testing.T) {
	if _, err := sandbox.ValidateGitHubURL("https://gitlab.com/a/b"); err == nil {
		t.Fatal("expected non-github host to be rejected")
	}
}

// TestRunIngestFailsFastOnInvalidURL exercises runIngest's early bailout
// without touching git or the network: an invalid GithubURL never
// reaches CloneGitHub's gitClone call.
func TestRunIngestFailsFastOnInvalidURL(t *testing.T) {
	c := newTestLoop(t)
	c.Config.GithubURL = "https://github.com/a/b/blob/main/x.py"

	next, _, err := c.runIngest(context.Background())
	if err == nil {
		t.Fatal("expected an ingest error for a web-UI-shaped URL")
	}
	if next != "" {
		t.Errorf("expected no phase transition on ingest failure, got %s", next)
	}
}
