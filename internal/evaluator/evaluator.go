// Package evaluator implements spec §4.7 (PatchEvaluator): bounded
// fan-out (<=3) parallel worktree evaluation of candidate diffs.
// Grounded on the teacher's worktree-parallelism idiom
// (gitutil.AddWorktree/RemoveWorktree, generalized from
// engine.go's parallel-join handling) and spec §5's concurrency model
// (each worker owns its own worktree, writes no shared mutable state,
// is joined before the next loop iteration).
package evaluator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/dawsonblock/rfsnctl/internal/sandbox"
)

const maxFanOut = 3

// Candidate is one (diff, temperature) input from the current step.
type Candidate struct {
	Diff        model.Diff
	Temperature float64
}

// EvalResult is one candidate's outcome, preserving input order.
type EvalResult struct {
	Candidate Candidate
	OK        bool
	Info      string
	WorktreeDir string
	FocusResult executor.Result
	FullResult  executor.Result
}

// Config bundles what the evaluator needs from the controller.
type Config struct {
	Sandbox        *sandbox.Sandbox
	Exec           executor.Executor
	FocusCmd       model.Command
	FullCmd        model.Command
	FocusTimeoutSec int // spec default ~90s
	FullTimeoutSec  int // spec default ~180s
}

// Evaluate runs the evaluator algorithm over candidates with a bounded
// worker pool (spec §4.7 step-by-step):
//  1. allocate a fresh worktree (suffix = first 10 chars of diff hash)
//  2. applyPatchInDir; failure -> {ok=false, info="apply_failed:..."}
//  3. run focusCmd; non-zero -> {ok=false, info="focus_failed:..."}
//  4. run fullCmd; non-zero -> {ok=false, info="full_failed:..."}; else ok
//  5. always drop the worktree on exit (including exceptions/panics)
func Evaluate(ctx context.Context, cfg Config, candidates []Candidate) []EvalResult {
	results := make([]EvalResult, len(candidates))
	sem := make(chan struct{}, maxFanOut)
	var wg sync.WaitGroup

	for i, cand := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cand Candidate) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = evaluateOne(ctx, cfg, cand)
		}(i, cand)
	}
	wg.Wait()
	return results
}

func evaluateOne(ctx context.Context, cfg Config, cand Candidate) (result EvalResult) {
	result.Candidate = cand
	suffix := cand.Diff.Hash
	if len(suffix) > 10 {
		suffix = suffix[:10]
	}

	var worktreeDir string
	defer func() {
		if r := recover(); r != nil {
			result.OK = false
			result.Info = fmt.Sprintf("panic during evaluation: %v", r)
		}
		if worktreeDir != "" {
			_ = cfg.Sandbox.DropWorktree(worktreeDir)
		}
	}()

	dir, err := cfg.Sandbox.MakeWorktree(suffix)
	if err != nil {
		result.OK = false
		result.Info = fmt.Sprintf("apply_failed: cannot allocate worktree: %v", err)
		return result
	}
	worktreeDir = dir
	result.WorktreeDir = dir

	if err := cfg.Sandbox.ApplyPatchInDir(dir, cand.Diff.Text); err != nil {
		result.OK = false
		result.Info = fmt.Sprintf("apply_failed: %v", err)
		return result
	}

	focusTimeout := cfg.FocusTimeoutSec
	if focusTimeout <= 0 {
		focusTimeout = 90
	}
	focusCmd := cfg.FocusCmd
	focusCmd.Cwd = dir
	focusCmd.TimeoutSec = focusTimeout
	focusCmd.NetworkAllowed = false

	focusRes, err := cfg.Exec.Run(ctx, focusCmd)
	result.FocusResult = focusRes
	if err != nil || !focusRes.OK {
		result.OK = false
		result.Info = fmt.Sprintf("focus_failed: exit=%d timedOut=%v", focusRes.ExitCode, focusRes.TimedOut)
		return result
	}

	fullTimeout := cfg.FullTimeoutSec
	if fullTimeout <= 0 {
		fullTimeout = 180
	}
	fullCmd := cfg.FullCmd
	fullCmd.Cwd = dir
	fullCmd.TimeoutSec = fullTimeout
	fullCmd.NetworkAllowed = false

	fullRes, err := cfg.Exec.Run(ctx, fullCmd)
	result.FullResult = fullRes
	if err != nil || !fullRes.OK {
		result.OK = false
		result.Info = fmt.Sprintf("full_failed: exit=%d timedOut=%v", fullRes.ExitCode, fullRes.TimedOut)
		return result
	}

	result.OK = true
	result.Info = "ok"
	return result
}
