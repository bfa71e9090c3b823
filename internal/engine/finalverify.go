package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// runFinalVerify implements spec §4.11's FINAL_VERIFY: re-run the full
// test command and, depending on verifyPolicy, any extra verification
// commands from §6 (lint/typecheck/repro or explicit --verify-cmd-extra
// entries). Any failure bails out.
func (c *ControllerLoop) runFinalVerify(ctx context.Context) (model.Phase, string, error) {
	extraCmds := c.verifyExtraCommands()

	if c.Config.VerifyPolicy != "cmds_only" {
		testArgv := c.effectiveTestCmd()
		cmd := model.Command{
			Argv: testArgv, Cwd: c.Sandbox.RepoDir, TimeoutSec: c.Config.FullTimeout,
			NetworkAllowed: executor.NetworkAllowedFor("test", testArgv), Phase: "final_verify",
		}
		res, err := c.Exec.Run(ctx, cmd)
		c.recordCommand("final_verify", cmd, res, err)
		c.budget.RecordVerificationAttempt()
		if err != nil {
			return "", "", err
		}
		c.lastVerify = model.VerifyResult{OK: res.OK, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
		if !res.OK {
			return model.PhaseBailout, fmt.Sprintf("final verify failed: exit %d", res.ExitCode), nil
		}
	}

	for _, extra := range extraCmds {
		cmd := model.Command{
			Argv: extra, Cwd: c.Sandbox.RepoDir, TimeoutSec: c.Config.FullTimeout,
			NetworkAllowed: executor.NetworkAllowedFor("test", extra), Phase: "final_verify_extra",
		}
		res, err := c.Exec.Run(ctx, cmd)
		c.recordCommand("final_verify_extra", cmd, res, err)
		c.budget.RecordVerificationAttempt()
		if err != nil {
			return "", "", err
		}
		if !res.OK {
			return model.PhaseBailout, fmt.Sprintf("verify command %q failed: exit %d", strings.Join(extra, " "), res.ExitCode), nil
		}
	}

	c.logEvent("final_verify_complete", map[string]any{"verify_policy": c.Config.VerifyPolicy, "extra_commands": len(extraCmds)})
	return model.PhaseEvidence, "final verify passed", nil
}

// verifyExtraCommands resolves spec §6's extra-command surface: explicit
// --verify-cmd-extra entries take priority; otherwise fall back to
// whichever of lint/typecheck/repro commands are configured, required
// only when verifyPolicy asks for commands at all.
func (c *ControllerLoop) verifyExtraCommands() [][]string {
	if c.Config.VerifyPolicy == "tests_only" {
		return nil
	}
	var out [][]string
	if len(c.Config.VerifyCmdExtra) > 0 {
		for _, cmdStr := range c.Config.VerifyCmdExtra {
			out = append(out, strings.Fields(cmdStr))
		}
		return out
	}
	for _, cmdStr := range []string{c.Config.LintCmd, c.Config.TypecheckCmd, c.Config.ReproCmd} {
		if strings.TrimSpace(cmdStr) != "" {
			out = append(out, strings.Fields(cmdStr))
		}
	}
	return out
}
