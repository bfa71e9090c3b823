package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/commandpolicy"
	"github.com/dawsonblock/rfsnctl/internal/evaluator"
	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/hygiene"
	"github.com/dawsonblock/rfsnctl/internal/intentpolicy"
	"github.com/dawsonblock/rfsnctl/internal/llm"
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/dawsonblock/rfsnctl/internal/modelproto"
	"github.com/dawsonblock/rfsnctl/internal/prompt"
	"github.com/dawsonblock/rfsnctl/internal/toolgovernor"
	"github.com/dawsonblock/rfsnctl/internal/winner"
)

const maxHighSignalFiles = 6

// runRepairIteration implements spec §4.11's REPAIR_LOOP, one iteration
// per call: re-verify, update stall/budget state, evaluate bailout
// predicates, choose a policy, gather context, call the model, and
// either dispatch tools or evaluate collected patch candidates.
func (c *ControllerLoop) runRepairIteration(ctx context.Context) (model.Phase, string, error) {
	testArgv := c.effectiveTestCmd()
	verifyCmd := model.Command{
		Argv: testArgv, Cwd: c.Sandbox.RepoDir, TimeoutSec: c.Config.FullTimeout,
		NetworkAllowed: executor.NetworkAllowedFor("test", testArgv), Phase: "repair_verify",
	}
	res, err := c.Exec.Run(ctx, verifyCmd)
	c.recordCommand("repair_verify", verifyCmd, res, err)
	if err != nil {
		return "", "", err
	}
	v := model.VerifyResult{OK: res.OK, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	c.lastVerify = v
	if v.OK {
		return model.PhaseFinalVerify, "tests pass, entering final verify", nil
	}

	var failInfo model.FailureInfo
	if c.buildpack != nil {
		failInfo = c.buildpack.ParseFailures(v.Stdout, v.Stderr)
	}
	v.FailingTests = failInfo.FailingTests
	v.Sig = failInfo.Signature

	topTest := ""
	if len(failInfo.FailingTests) > 0 {
		topTest = failInfo.FailingTests[0]
	}
	stalled := c.stall.Update(len(failInfo.FailingTests), topTest, failInfo.Signature)
	if stalled {
		c.logEvent("stall_detected", map[string]any{"iterations_without_improvement": c.stall.IterationsWithoutImprovement()})
	}

	progress := c.minFailingCount < 0 || len(failInfo.FailingTests) < c.minFailingCount
	if progress {
		c.minFailingCount = len(failInfo.FailingTests)
	}
	c.budget.RecordStep(progress)

	if c.stall.IterationsWithoutImprovement() >= 3*c.stall.Threshold() {
		return model.PhaseBailout, fmt.Sprintf("Prolonged stall: %d iterations without improvement", c.stall.IterationsWithoutImprovement()), nil
	}
	if reason, exceeded := c.budget.Exceeded(); exceeded {
		return model.PhaseBailout, reason, nil
	}

	decision := intentpolicy.Choose(strings.Join(testArgv, " "), v)
	if stalled {
		decision.Intent = "gather_evidence"
		decision.Subgoal = "collect_diagnostic_evidence"
	}
	c.budget.RecordConfidence(decision.Confidence, 0.6)

	highSignal := highSignalFiles(failInfo, topTest)
	readFiles := c.readHighSignalFiles(highSignal)

	ctxSig := c.buildContextSignature(decision, failInfo, topTest, stalled)
	actionPriors := c.queryActionPriors(ctxSig)

	promptState := prompt.State{
		Goal:          "Make the failing test suite pass with a minimal, targeted patch.",
		Intent:        decision.Intent,
		Subgoal:       decision.Subgoal,
		TestCmd:       strings.Join(testArgv, " "),
		FocusTestCmd:  decision.FocusTestCmd,
		FailureOutput: v.Stdout + "\n" + v.Stderr,
		RepoTree:      strings.Join(c.buildpackContext().RepoTree, "\n"),
		Constraints:   prompt.ConstraintsText(),
		FilesBlock:    prompt.FilesBlock(readFiles),
		ActionPriors:  actionPriors,
		Observations:  strings.Join(c.observations, "\n"),
	}
	if c.Config.FeatureMode {
		promptState.Mode = prompt.ModeFeature
		promptState.FeatureDescription = c.Config.FeatureDescription
		promptState.AcceptanceCriteria = c.Config.AcceptanceCriteria
		promptState.CompletedSubgoals = c.completedSubgoals
		promptState.CurrentSubgoal = decision.Subgoal
	}
	userPrompt := prompt.Build(promptState)

	var candidates []model.Diff
	for _, temp := range c.Config.Temps {
		resp, callErr := c.LLM.Complete(ctx, llm.Request{
			Model: c.Config.Model, SystemPrompt: systemPrompt, UserPrompt: userPrompt, Temperature: temp,
		})
		if callErr != nil {
			c.logEvent("model_call_error", map[string]any{"temperature": temp, "error": callErr.Error()})
			continue
		}

		out := modelproto.ValidateWithRetry(resp.RawJSON, 1)
		switch out.Mode {
		case modelproto.ModeToolRequest:
			if !out.IsValid {
				// A rejected request (e.g. a shell idiom in args.cmd) never
				// reaches ToolGovernor or the Executor: it costs nothing
				// against the tool-call budget, only a corrective
				// observation the next prompt will see.
				c.observations = append(c.observations, fmt.Sprintf("[invalid tool_request] %s", out.Why))
				c.logEvent("invalid_tool_request", map[string]any{"validation_error": out.ValidationError})
				return model.PhaseRepairLoop, "invalid tool_request, requesting clarification", nil
			}
			c.handleToolRequests(ctx, out, ctxSig)
			return model.PhaseRepairLoop, "tool_request handled, continuing", nil

		case modelproto.ModePatch:
			d := model.ParseDiff(out.Diff)
			if c.diffsTried[d.Hash] {
				continue
			}
			c.diffsTried[d.Hash] = true
			candidates = append(candidates, d)

		case modelproto.ModeFeatureSummary:
			if !c.Config.FeatureMode {
				continue
			}
			if out.CompletionStatus == "complete" && v.OK {
				c.featureAccepted = true
				return model.PhaseFinalVerify, "feature complete per model summary", nil
			}
			c.completedSubgoals = append(c.completedSubgoals, out.Summary)
		}
	}

	if len(candidates) == 0 {
		return model.PhaseRepairLoop, "no patch candidates this iteration", nil
	}

	return c.evaluateCandidates(ctx, candidates, decision, failInfo, ctxSig)
}

// highSignalFiles collects spec §4.11 step 5's bounded candidate set:
// the first failing test file, the buildpack's parsed likely files
// (skipping forbidden prefixes), and the QuixBugs test->impl mapping.
func highSignalFiles(failInfo model.FailureInfo, topTest string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		if path == "" || seen[path] || len(out) >= maxHighSignalFiles {
			return
		}
		for _, forbidden := range prompt.ForbiddenPathPrefixes {
			if strings.HasPrefix(path, forbidden) {
				return
			}
		}
		seen[path] = true
		out = append(out, path)
	}

	if topTest != "" {
		testFile := topTest
		if idx := strings.Index(testFile, "::"); idx >= 0 {
			testFile = testFile[:idx]
		}
		add(testFile)
		if mapped, ok := quixBugsImplFile(testFile); ok {
			add(mapped)
		}
	}
	for _, f := range failInfo.LikelyFiles {
		add(f)
	}
	return out
}

// quixBugsImplFile maps python_testcases/test_X.py to
// python_programs/X.py, per spec §4.11 step 5's QuixBugs special case.
func quixBugsImplFile(testFile string) (string, bool) {
	const prefix = "python_testcases/test_"
	if !strings.HasPrefix(testFile, prefix) || !strings.HasSuffix(testFile, ".py") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(testFile, prefix), ".py")
	return "python_programs/" + name + ".py", true
}

func (c *ControllerLoop) readHighSignalFiles(paths []string) []prompt.ReadFile {
	out := make([]prompt.ReadFile, 0, len(paths))
	for _, p := range paths {
		content, _, err := c.Sandbox.ReadFile(p, 20000, true)
		out = append(out, prompt.ReadFile{Path: p, Content: content, OK: err == nil})
	}
	return out
}

func (c *ControllerLoop) buildContextSignature(decision intentpolicy.Decision, failInfo model.FailureInfo, topTest string, stalled bool) model.ContextSignature {
	sigPrefix := failInfo.Signature
	if len(sigPrefix) > 12 {
		sigPrefix = sigPrefix[:12]
	}
	repoType := "polyrepo"
	if c.buildpackResult != nil {
		repoType = string(c.buildpackResult.Type)
	}
	attemptBucket := c.budget.Steps
	if attemptBucket > 9 {
		attemptBucket = 9
	}
	return model.ContextSignature{
		FailureClass:    decision.Intent,
		RepoType:        repoType,
		Language:        c.languageKey(),
		EnvFingerprint:  c.Config.DockerImage,
		AttemptBucket:   attemptBucket,
		FailingTestFile: topTest,
		SigPrefix:       sigPrefix,
		Stalled:         stalled,
	}
}

func (c *ControllerLoop) queryActionPriors(ctxSig model.ContextSignature) string {
	if c.Memory == nil {
		return ""
	}
	priors, err := c.Memory.QueryPriors(ctxSig, 0)
	if err != nil || len(priors) == 0 {
		return ""
	}
	lines := make([]string, 0, len(priors))
	for _, p := range priors {
		lines = append(lines, fmt.Sprintf("- %s (n=%d, successRate=%.2f, meanScore=%.1f, weight=%.3f)",
			p.ActionKey, p.N, p.SuccessRate, p.MeanScore, p.Weight))
	}
	return strings.Join(lines, "\n")
}

// handleToolRequests implements spec §4.11 step 7's tool_request branch:
// filter via ToolGovernor, execute each allowed request, append
// summaries to observations, and record every invocation to ActionMemory.
func (c *ControllerLoop) handleToolRequests(ctx context.Context, out modelproto.Output, ctxSig model.ContextSignature) {
	requests := make([]toolgovernor.ToolRequest, 0, len(out.Requests))
	for _, r := range out.Requests {
		requests = append(requests, toolgovernor.ToolRequest{Tool: r.Tool, Args: r.Args})
	}
	allowed, blocked, err := c.gov.Filter(requests)
	if err != nil {
		c.logEvent("tool_governor_error", map[string]any{"error": err.Error()})
		return
	}
	for _, b := range blocked {
		c.observations = append(c.observations, fmt.Sprintf("[blocked %s] %s", b.Request.Tool, b.Reason))
	}

	results := make([]map[string]any, 0, len(allowed))
	for _, req := range allowed {
		summary, outcome, commandCount := c.dispatchTool(ctx, req)
		c.observations = append(c.observations, summary)
		c.budget.RecordToolCall(commandCount)

		actionJSON, _ := json.Marshal(req.Args)
		c.recordToolOutcome(ctxSig, req.Tool, string(actionJSON), outcome, commandCount, 0, 0)
		results = append(results, map[string]any{
			"tool": req.Tool, "args": req.Args,
			"result": map[string]any{"ok": outcome == model.OutcomeSuccess},
		})
	}
	if len(results) > 0 {
		// Logged with a "phase" field (not just "event") so this run.jsonl
		// line matches the shape internal/memory.IngestEvidencePack expects
		// when replaying a historical evidence pack into ActionMemory.
		c.logEvent("tool_execution", map[string]any{"phase": "tool_execution", "step": c.budget.Steps, "results": results})
	}
}

// dispatchTool executes one allowed tool request against the sandbox,
// returning an observation summary, outcome, and the number of Commands
// it ran (for ToolGovernor/budget bookkeeping).
func (c *ControllerLoop) dispatchTool(ctx context.Context, req toolgovernor.ToolRequest) (summary string, outcome model.Outcome, commandCount int) {
	switch req.Tool {
	case "sandbox.read_file":
		path, _ := req.Args["path"].(string)
		content, truncated, err := c.Sandbox.ReadFile(path, 20000, true)
		if err != nil {
			return fmt.Sprintf("[read_file %s] error: %v", path, err), model.OutcomeFail, 0
		}
		note := ""
		if truncated {
			note = " (truncated)"
		}
		return fmt.Sprintf("[read_file %s]%s\n%s", path, note, content), model.OutcomeSuccess, 0

	case "sandbox.list_tree":
		tree, err := c.Sandbox.ListTree(2000, true)
		if err != nil {
			return fmt.Sprintf("[list_tree] error: %v", err), model.OutcomeFail, 0
		}
		return fmt.Sprintf("[list_tree] %d files:\n%s", len(tree), strings.Join(tree, "\n")), model.OutcomeSuccess, 0

	case "sandbox.grep":
		query, _ := req.Args["query"].(string)
		results, err := c.Sandbox.Grep(query, 50)
		if err != nil {
			return fmt.Sprintf("[grep %q] error: %v", query, err), model.OutcomeFail, 0
		}
		var lines []string
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("%s:%d: %s", r.Path, r.Line, r.Text))
		}
		return fmt.Sprintf("[grep %q] %d matches:\n%s", query, len(results), strings.Join(lines, "\n")), model.OutcomeSuccess, 0

	case "sandbox.run":
		cmdText, _ := req.Args["cmd"].(string)
		argv, tokErr := commandpolicy.Tokenize(cmdText)
		if tokErr != nil {
			return fmt.Sprintf("[run %q] tokenize error: %v", cmdText, tokErr), model.OutcomeBlocked, 0
		}
		if d := commandpolicy.Check(cmdText, c.languageKey()); !d.Allowed {
			return fmt.Sprintf("[run %q] blocked: %s", cmdText, d.Reason), model.OutcomeBlocked, 0
		}
		cmd := model.Command{
			Argv: argv, Cwd: c.Sandbox.RepoDir, TimeoutSec: c.Config.FocusTimeout,
			NetworkAllowed: executor.NetworkAllowedFor("tool", argv), Phase: "repair_tool",
		}
		res, err := c.Exec.Run(ctx, cmd)
		c.recordCommand("repair_tool", cmd, res, err)
		if err != nil {
			return fmt.Sprintf("[run %q] error: %v", cmdText, err), model.OutcomeFail, 1
		}
		outcome := model.OutcomeSuccess
		if !res.OK {
			outcome = model.OutcomeFail
		}
		return fmt.Sprintf("[run %q] exit=%d\n%s\n%s", cmdText, res.ExitCode, res.Stdout, res.Stderr), outcome, 1

	default:
		return fmt.Sprintf("[%s] unknown tool, ignored", req.Tool), model.OutcomeBlocked, 0
	}
}

// evaluateCandidates implements spec §4.11 step 8: hygiene-gate, run the
// PatchEvaluator in parallel over surviving candidates, record every
// outcome to ActionMemory, and apply a winner if one succeeded.
func (c *ControllerLoop) evaluateCandidates(ctx context.Context, diffs []model.Diff, decision intentpolicy.Decision, failInfo model.FailureInfo, ctxSig model.ContextSignature) (model.Phase, string, error) {
	profile := hygiene.ProfileRepair
	if c.Config.FeatureMode {
		profile = hygiene.ProfileFeature
	}

	var evalCandidates []evaluator.Candidate
	for _, d := range diffs {
		result := hygiene.Check(d, profile, c.languageKey())
		if !result.IsValid {
			c.observations = append(c.observations, fmt.Sprintf("[hygiene reject %s] %s", d.Hash[:12], strings.Join(result.Violations, "; ")))
			continue
		}
		evalCandidates = append(evalCandidates, evaluator.Candidate{Diff: d, Temperature: 0})
		c.budget.RecordPatchAttempt()
	}
	if len(evalCandidates) == 0 {
		return model.PhaseRepairLoop, "all candidates rejected by hygiene", nil
	}

	focusArgv := strings.Fields(decision.FocusTestCmd)
	evalCfg := evaluator.Config{
		Sandbox:         c.Sandbox,
		Exec:            c.Exec,
		FocusCmd:        model.Command{Argv: focusArgv},
		FullCmd:         model.Command{Argv: c.effectiveTestCmd()},
		FocusTimeoutSec: c.Config.FocusTimeout,
		FullTimeoutSec:  c.Config.FullTimeout,
	}
	results := evaluator.Evaluate(ctx, evalCfg, evalCandidates)

	var winnerCandidates []winner.Candidate
	for _, r := range results {
		testFilesEdited, tracebackFilesEdited := diffImpactCounts(r.Candidate.Diff, failInfo)
		winnerCandidates = append(winnerCandidates, winner.Candidate{
			Diff: r.Candidate.Diff, OK: r.OK,
			TestFilesEdited: testFilesEdited, TracebackFilesEdited: tracebackFilesEdited,
		})

		outcome := model.OutcomeFail
		if r.OK {
			outcome = model.OutcomeSuccess
		}
		diffLines := model.DiffLineCount(r.Candidate.Diff.Text)
		actionJSON, _ := json.Marshal(map[string]any{"diff_hash": r.Candidate.Diff.Hash, "diff_lines": diffLines})
		c.recordToolOutcome(ctxSig, "patch:"+r.Candidate.Diff.Hash[:12], string(actionJSON), outcome, 2, diffLines, 0)
	}

	successCount := 0
	for _, wc := range winnerCandidates {
		if wc.OK {
			successCount++
		}
	}

	var won winner.Candidate
	var ok bool
	if successCount > 1 {
		won, ok = winner.SelectByScore(winnerCandidates)
	} else {
		won, ok = winner.Select(winnerCandidates)
	}
	if !ok {
		return model.PhaseRepairLoop, "no candidate passed evaluation", nil
	}

	if err := c.Sandbox.ApplyPatch(won.Diff.Text); err != nil {
		return model.PhaseRepairLoop, fmt.Sprintf("winning candidate failed to apply to main repo: %v", err), nil
	}
	c.winnerDiff = won.Diff.Text
	return model.PhaseFinalVerify, "applied winning patch, entering final verify", nil
}

func diffImpactCounts(d model.Diff, failInfo model.FailureInfo) (testFiles, tracebackFiles int) {
	likely := map[string]bool{}
	for _, f := range failInfo.LikelyFiles {
		likely[f] = true
	}
	for _, f := range d.FilesChanged {
		if hygiene.IsTestFile(f) {
			testFiles++
		}
		if likely[f] {
			tracebackFiles++
		}
	}
	return testFiles, tracebackFiles
}
