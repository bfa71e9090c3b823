package engine

import (
	"context"
	"fmt"

	"github.com/dawsonblock/rfsnctl/internal/ctlerr"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// runIngest implements spec §4.11's INGEST phase: validate URL, clone,
// optional checkout(ref), resetHard, listTree. Any failure bails out —
// there is no repo to repair without a successful ingest.
func (c *ControllerLoop) runIngest(ctx context.Context) (model.Phase, string, error) {
	if err := c.Sandbox.CloneGitHub(c.Config.GithubURL); err != nil {
		return "", "", ctlerr.New(ctlerr.IngestError, "clone failed", err)
	}
	if c.Config.Ref != "" {
		if err := c.Sandbox.Checkout(c.Config.Ref); err != nil {
			return "", "", ctlerr.New(ctlerr.IngestError, "checkout failed", err)
		}
	}
	if err := c.Sandbox.ResetHard(); err != nil {
		return "", "", ctlerr.New(ctlerr.IngestError, "reset --hard failed", err)
	}
	tree, err := c.Sandbox.ListTree(5000, false)
	if err != nil {
		return "", "", ctlerr.New(ctlerr.IngestError, "list tree failed", err)
	}

	sha, _ := c.Sandbox.HeadSHA()
	c.logEvent("ingest_complete", map[string]any{"head_sha": sha, "file_count": len(tree)})
	return model.PhaseDetect, fmt.Sprintf("ingested %d files", len(tree)), nil
}
