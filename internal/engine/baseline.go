package engine

import (
	"context"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// runBaseline implements spec §4.11's BASELINE phase: run the effective
// test command with network off. If it already passes, the run is a
// success without entering REPAIR_LOOP. A "no tests collected" exit
// retries once with a known fallback before the loop accepts the
// failure and proceeds to repair.
func (c *ControllerLoop) runBaseline(ctx context.Context) (bool, model.Phase, string, error) {
	argv := c.effectiveTestCmd()
	cmd := model.Command{
		Argv:           argv,
		Cwd:            c.Sandbox.RepoDir,
		TimeoutSec:     c.Config.FullTimeout,
		NetworkAllowed: executor.NetworkAllowedFor("test", argv),
		Phase:          "baseline",
	}

	res, err := c.Exec.Run(ctx, cmd)
	c.recordCommand("baseline", cmd, res, err)
	if err != nil {
		return false, "", "", err
	}

	if res.OK {
		c.baselineOutput = res.Stdout + res.Stderr
		c.logEvent("baseline_complete", map[string]any{"passed": true})
		return true, model.PhaseEvidence, "baseline already passes", nil
	}

	if looksLikeNoTestsCollected(res) {
		fallback := fallbackCollectCmd(argv)
		if len(fallback) > 0 {
			fallbackCmd := model.Command{
				Argv: fallback, Cwd: c.Sandbox.RepoDir, TimeoutSec: c.Config.FullTimeout,
				NetworkAllowed: executor.NetworkAllowedFor("test", fallback), Phase: "baseline_retry",
			}
			retryRes, retryErr := c.Exec.Run(ctx, fallbackCmd)
			c.recordCommand("baseline_retry", fallbackCmd, retryRes, retryErr)
			if retryErr == nil && retryRes.OK {
				c.baselineOutput = retryRes.Stdout + retryRes.Stderr
				c.logEvent("baseline_complete", map[string]any{"passed": true, "recovered_via_retry": true})
				return true, model.PhaseEvidence, "baseline recovered after collect-only retry", nil
			}
		}
	}

	c.baselineOutput = res.Stdout + res.Stderr
	c.lastVerify = model.VerifyResult{OK: res.OK, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	c.logEvent("baseline_complete", map[string]any{"passed": false, "exit_code": res.ExitCode})
	return false, model.PhaseRepairLoop, "baseline fails, entering repair loop", nil
}

// looksLikeNoTestsCollected detects pytest's "no tests collected" exit
// (2) or Jest's "No tests found" message, per spec §4.11.
func looksLikeNoTestsCollected(res executor.Result) bool {
	if res.ExitCode == 2 && strings.Contains(res.Stdout+res.Stderr, "no tests ran") {
		return true
	}
	return strings.Contains(res.Stdout+res.Stderr, "No tests found")
}

// fallbackCollectCmd returns the known collect-only fallback for the
// original command's ecosystem, or nil if none applies.
func fallbackCollectCmd(argv []string) []string {
	if len(argv) == 0 {
		return nil
	}
	switch {
	case strings.Contains(argv[0], "pytest") || (len(argv) > 1 && strings.Contains(argv[1], "pytest")):
		return []string{"python", "-m", "pytest", "--collect-only"}
	case argv[0] == "npm":
		return []string{"npm", "test", "--", "--listTests"}
	default:
		return nil
	}
}
