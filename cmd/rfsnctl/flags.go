package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/engine"
)

// parseRunFlags consumes args into a flag-derived ControllerConfig plus
// the handful of run-level knobs (config file path, run id, logs root)
// that live outside ControllerConfig itself. Follows the teacher's
// hand-rolled index-loop flag parser (cmd/kilroy/main.go's
// attractorRun) rather than the stdlib flag package, one flag per case.
func parseRunFlags(args []string) (flags engine.ControllerConfig, configPath, runID, logsRoot string, err error) {
	next := func(i *int) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("missing value for %s", args[*i-1])
		}
		return args[*i], nil
	}
	nextFloat := func(i *int) (float64, error) {
		s, err := next(i)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", args[*i-1], err)
		}
		return f, nil
	}
	nextInt := func(i *int) (int, error) {
		s, err := next(i)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", args[*i-1], err)
		}
		return n, nil
	}
	nextInt64 := func(i *int) (int64, error) {
		s, err := next(i)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", args[*i-1], err)
		}
		return n, nil
	}

	for i := 0; i < len(args); i++ {
		var s string
		switch args[i] {
		case "--config":
			if configPath, err = next(&i); err != nil {
				return
			}
		case "--run-id":
			if runID, err = next(&i); err != nil {
				return
			}
		case "--logs-root":
			if logsRoot, err = next(&i); err != nil {
				return
			}
		case "--repo", "--github-url":
			if flags.GithubURL, err = next(&i); err != nil {
				return
			}
		case "--test-cmd":
			if flags.TestCmd, err = next(&i); err != nil {
				return
			}
		case "--ref":
			if flags.Ref, err = next(&i); err != nil {
				return
			}
		case "--max-steps":
			if flags.MaxSteps, err = nextInt(&i); err != nil {
				return
			}
		case "--fix-all":
			flags.FixAll = true
		case "--max-steps-without-progress":
			if flags.MaxStepsWithoutProgress, err = nextInt(&i); err != nil {
				return
			}
		case "--temps":
			if s, err = next(&i); err != nil {
				return
			}
			for _, part := range strings.Split(s, ",") {
				f, perr := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if perr != nil {
					err = fmt.Errorf("--temps: %w", perr)
					return
				}
				flags.Temps = append(flags.Temps, f)
			}
		case "--collect-finetuning-data":
			flags.CollectFinetuningData = true
		case "--model":
			if flags.Model, err = next(&i); err != nil {
				return
			}
		case "--max-minutes":
			if flags.MaxMinutes, err = nextFloat(&i); err != nil {
				return
			}
		case "--install-timeout":
			if flags.InstallTimeout, err = nextInt(&i); err != nil {
				return
			}
		case "--focus-timeout":
			if flags.FocusTimeout, err = nextInt(&i); err != nil {
				return
			}
		case "--full-timeout":
			if flags.FullTimeout, err = nextInt(&i); err != nil {
				return
			}
		case "--max-tool-calls":
			if flags.MaxToolCalls, err = nextInt(&i); err != nil {
				return
			}
		case "--docker-image":
			if flags.DockerImage, err = next(&i); err != nil {
				return
			}
		case "--unsafe-host-exec":
			flags.UnsafeHostExec = true
		case "--cpu":
			if flags.CPU, err = nextFloat(&i); err != nil {
				return
			}
		case "--mem-mb":
			if flags.MemMB, err = nextInt(&i); err != nil {
				return
			}
		case "--pids":
			if flags.Pids, err = nextInt(&i); err != nil {
				return
			}
		case "--docker-readonly":
			flags.DockerReadonly = true
		case "--lint-cmd":
			if flags.LintCmd, err = next(&i); err != nil {
				return
			}
		case "--typecheck-cmd":
			if flags.TypecheckCmd, err = next(&i); err != nil {
				return
			}
		case "--repro-cmd":
			if flags.ReproCmd, err = next(&i); err != nil {
				return
			}
		case "--dry-run":
			flags.DryRun = true
		case "--project-type":
			if flags.ProjectType, err = next(&i); err != nil {
				return
			}
		case "--buildpack":
			if flags.Buildpack, err = next(&i); err != nil {
				return
			}
		case "--enable-sysdeps":
			flags.EnableSysdeps = true
		case "--sysdeps-tier":
			if flags.SysdepsTier, err = nextInt(&i); err != nil {
				return
			}
		case "--sysdeps-max-packages":
			if flags.SysdepsMaxPackages, err = nextInt(&i); err != nil {
				return
			}
		case "--build-cmd":
			if flags.BuildCmd, err = next(&i); err != nil {
				return
			}
		case "--learning-db-path":
			if flags.LearningDBPath, err = next(&i); err != nil {
				return
			}
		case "--learning-half-life-days":
			if flags.LearningHalfLifeDays, err = nextFloat(&i); err != nil {
				return
			}
		case "--learning-max-age-days":
			if flags.LearningMaxAgeDays, err = nextFloat(&i); err != nil {
				return
			}
		case "--learning-max-rows":
			if flags.LearningMaxRows, err = nextInt(&i); err != nil {
				return
			}
		case "--time-mode":
			if flags.TimeMode, err = next(&i); err != nil {
				return
			}
		case "--run-started-at-utc":
			if flags.RunStartedAtUTC, err = next(&i); err != nil {
				return
			}
		case "--time-seed":
			if flags.TimeSeed, err = nextInt64(&i); err != nil {
				return
			}
		case "--rng-seed":
			if flags.RNGSeed, err = nextInt64(&i); err != nil {
				return
			}
		case "--feature-mode":
			flags.FeatureMode = true
		case "--feature-description":
			if flags.FeatureDescription, err = next(&i); err != nil {
				return
			}
		case "--acceptance-criterion":
			if s, err = next(&i); err != nil {
				return
			}
			flags.AcceptanceCriteria = append(flags.AcceptanceCriteria, s)
		case "--verify-policy":
			if flags.VerifyPolicy, err = next(&i); err != nil {
				return
			}
		case "--verify-cmd-extra":
			if s, err = next(&i); err != nil {
				return
			}
			flags.VerifyCmdExtra = append(flags.VerifyCmdExtra, s)
		case "--focused-verify-cmd":
			if s, err = next(&i); err != nil {
				return
			}
			flags.FocusedVerifyCmd = append(flags.FocusedVerifyCmd, s)
		case "--max-lines-changed":
			if flags.MaxLinesChanged, err = nextInt(&i); err != nil {
				return
			}
		case "--max-files-changed":
			if flags.MaxFilesChanged, err = nextInt(&i); err != nil {
				return
			}
		case "--allow-lockfile-changes":
			flags.AllowLockfileChanges = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
			return
		}
	}
	return
}
