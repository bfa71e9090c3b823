package engine

import (
	"context"
	"fmt"

	"github.com/dawsonblock/rfsnctl/internal/ctlerr"
	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// setupStepResult is one install step's outcome, recorded into the
// per-language setup report spec §4.11 names.
type setupStepResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Argv     []string `json:"argv"`
}

// runSetup implements spec §4.11's SETUP phase: run the buildpack's
// install steps in Docker with network on, optionally install a
// tier-filtered sysdeps set, and bail out if any critical step failed
// — the loop must not enter REPAIR with broken dependencies.
func (c *ControllerLoop) runSetup(ctx context.Context) (model.Phase, string, error) {
	langKey := c.languageKey()
	var report []setupStepResult

	if c.Config.EnableSysdeps && c.aptWhitelist != nil && c.buildpack != nil {
		if err := c.runSysdepsInstall(ctx); err != nil {
			return "", "", ctlerr.New(ctlerr.SetupError, "sysdeps install failed", err)
		}
	}

	if c.buildpack != nil {
		bpCtx := c.buildpackContext()
		for _, step := range c.buildpack.InstallPlan(bpCtx) {
			timeout := step.TimeoutSec
			if timeout == 0 {
				timeout = c.Config.InstallTimeout
			}
			cmd := model.Command{
				Argv:           step.Argv,
				Cwd:            c.Sandbox.RepoDir,
				TimeoutSec:     timeout,
				NetworkAllowed: true,
				Phase:          "setup",
			}
			res, err := c.Exec.Run(ctx, cmd)
			c.recordCommand("setup", cmd, res, err)
			if err != nil {
				report = append(report, setupStepResult{Argv: step.Argv, Stderr: err.Error()})
				return "", "", ctlerr.New(ctlerr.SetupError, fmt.Sprintf("install step failed: %s", step.Description), err)
			}
			report = append(report, setupStepResult{OK: res.OK, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Argv: step.Argv})
			if !res.OK {
				return "", "", ctlerr.New(ctlerr.SetupError, fmt.Sprintf("install step %q exited %d", step.Description, res.ExitCode), nil)
			}
		}
	}

	c.logEvent("setup_complete", map[string]any{"language": langKey, "steps": len(report)})
	return model.PhaseBaseline, fmt.Sprintf("%d install steps ok", len(report)), nil
}

// runSysdepsInstall runs a capped, tier-filtered apt-get install on the
// host. Open question §9 decision: this is implemented exactly as the
// original specifies it (host-side apt-get, not containerized) — not
// "fixed" by moving it into the buildpack container.
func (c *ControllerLoop) runSysdepsInstall(ctx context.Context) error {
	pkgs := c.buildpack.SysdepsWhitelist()
	allowed, _ := c.aptWhitelist.FilterAllowed(pkgs)
	if len(allowed) == 0 {
		return nil
	}
	argv := append([]string{"apt-get", "install", "-y"}, allowed...)
	cmd := model.Command{Argv: argv, TimeoutSec: c.Config.InstallTimeout, NetworkAllowed: true, Phase: "sysdeps"}
	host := executor.NewHostExecutor()
	res, err := host.Run(ctx, cmd)
	c.recordCommand("sysdeps", cmd, res, err)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("apt-get install exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// recordCommand appends one executed command to the run's command log
// (spec §6's command_log.json artifact).
func (c *ControllerLoop) recordCommand(phase string, cmd model.Command, res executor.Result, err error) {
	entry := map[string]any{
		"phase":     phase,
		"argv":      cmd.Argv,
		"ok":        res.OK,
		"exit_code": res.ExitCode,
		"timed_out": res.TimedOut,
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	c.commandLog = append(c.commandLog, entry)
}
