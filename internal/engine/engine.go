package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/aptwhitelist"
	"github.com/dawsonblock/rfsnctl/internal/budget"
	"github.com/dawsonblock/rfsnctl/internal/buildpack"
	"github.com/dawsonblock/rfsnctl/internal/clock"
	"github.com/dawsonblock/rfsnctl/internal/ctlerr"
	"github.com/dawsonblock/rfsnctl/internal/evidence"
	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/llm"
	"github.com/dawsonblock/rfsnctl/internal/memory"
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/dawsonblock/rfsnctl/internal/sandbox"
	"github.com/dawsonblock/rfsnctl/internal/stall"
	"github.com/dawsonblock/rfsnctl/internal/toolgovernor"
)

// RunResult is what Run returns to the CLI: spec §6's exit-code source.
type RunResult struct {
	Success     bool
	FinalPhase  model.Phase
	BailoutReason string
	EvidenceDir string
}

// ControllerLoop owns all cross-phase state and drives the state
// machine of spec §4.11: INGEST → DETECT → SETUP → BASELINE →
// REPAIR_LOOP* → FINAL_VERIFY → EVIDENCE_PACK, any phase may jump to
// BAILOUT → EVIDENCE_PACK. Grounded on
// original_source/rfsn_controller/controller.py's ControllerLoop.
type ControllerLoop struct {
	Config ControllerConfig
	RunID  string

	Clock   clock.Clock
	Sandbox *sandbox.Sandbox
	Exec    executor.Executor
	LLM     *llm.Client
	Memory  *memory.Store // nil if learning DB not configured
	Log     *EventLog

	budget *budget.Tracker
	stall  *stall.Detector
	gov    *toolgovernor.Governor

	buildpack       buildpack.Buildpack
	buildpackResult *buildpack.DetectResult
	aptWhitelist    *aptwhitelist.Whitelist

	// Cross-iteration state the loop itself owns (spec §4.11 step 2-8).
	diffsTried        map[string]bool
	observations      []string
	completedSubgoals []string
	commandLog        []map[string]any
	baselineOutput    string
	lastVerify        model.VerifyResult
	winnerDiff        string

	minFailingCount   int
	featureAccepted   bool
}

// New constructs a ControllerLoop with sensible component defaults;
// callers may override Clock/LLM/Memory before calling Run for tests.
func New(cfg ControllerConfig, runID string, clk clock.Clock, logDir string) (*ControllerLoop, error) {
	sb, err := sandbox.New(runID, clk)
	if err != nil {
		return nil, ctlerr.New(ctlerr.Fatal, "create sandbox", err)
	}
	log, err := NewEventLog(logDir)
	if err != nil {
		return nil, ctlerr.New(ctlerr.Fatal, "open event log", err)
	}

	budgetLimits := budget.DefaultLimits()
	budgetLimits.MaxSteps = cfg.MaxSteps
	budgetLimits.MaxStepsWithoutProgress = cfg.MaxStepsWithoutProgress
	budgetLimits.MaxToolCalls = cfg.MaxToolCalls
	budgetLimits.MaxMinutes = cfg.MaxMinutes

	var aw *aptwhitelist.Whitelist
	if cfg.EnableSysdeps {
		aw = aptwhitelist.New(cfg.SysdepsMaxPackages, aptwhitelist.Tier(cfg.SysdepsTier), false, nil)
	}

	exec, err := newExecutor(cfg, sb)
	if err != nil {
		return nil, err
	}

	return &ControllerLoop{
		Config:       cfg,
		RunID:        runID,
		Clock:        clk,
		Sandbox:      sb,
		Exec:         exec,
		Log:          log,
		budget:       budget.New(budgetLimits),
		stall:        stall.New(3),
		gov:          toolgovernor.New(toolgovernor.Config{MaxPerResponse: 6, MaxPerRun: cfg.MaxToolCalls, DedupEnabled: true}),
		aptWhitelist: aw,
		diffsTried:   map[string]bool{},
		minFailingCount: -1,
	}, nil
}

// newExecutor builds the default Executor per spec §4.3: Docker by
// default, host execution only when the operator opts into
// --unsafe-host-exec (open question §9: sysdeps installs always run on
// a HostExecutor regardless of this setting — see setup.go). RepoDir is known
// as soon as the sandbox is allocated (sb.RepoDir is just a path, not
// yet populated by a clone); VenvDir/IsPython follow once DETECT has
// run, via the executor's SetPython hook (see runDetect).
func newExecutor(cfg ControllerConfig, sb *sandbox.Sandbox) (executor.Executor, error) {
	if cfg.UnsafeHostExec {
		return executor.NewHostExecutor(), nil
	}
	spec := executor.DockerSpec{
		Image:    cfg.DockerImage,
		ReadOnly: cfg.DockerReadonly,
		RepoDir:  sb.RepoDir,
	}
	ex, err := executor.NewDockerExecutor(spec)
	if err != nil {
		return nil, ctlerr.New(ctlerr.SetupError, "create docker executor", err)
	}
	return ex, nil
}

// logEvent is a small convenience wrapper around Log.Record using the
// current clock time.
func (c *ControllerLoop) logEvent(event string, fields map[string]any) {
	if c.Log == nil {
		return
	}
	_ = c.Log.Record(c.Clock.Time(), event, fields)
}

func (c *ControllerLoop) transition(from, to model.Phase, reason string) {
	_ = c.Log.RecordPhaseTransition(c.Clock.Time(), string(from), string(to), reason)
}

// Run drives the full state machine and always produces an evidence
// pack, even on bailout (spec §4.11's EVIDENCE_PACK: "always runs").
func (c *ControllerLoop) Run(ctx context.Context) (RunResult, error) {
	defer func() { _ = c.Sandbox.Destroy() }()
	defer c.Log.Close()

	phase := model.PhaseIngest
	var bailoutReason string

	runPhase := func(p model.Phase, fn func() (model.Phase, string, error)) bool {
		next, reason, err := fn()
		if err != nil {
			c.transition(p, model.PhaseBailout, err.Error())
			bailoutReason = err.Error()
			phase = model.PhaseBailout
			return false
		}
		c.transition(p, next, reason)
		phase = next
		return true
	}

	if !runPhase(model.PhaseIngest, func() (model.Phase, string, error) { return c.runIngest(ctx) }) {
		return c.finish(phase, bailoutReason)
	}
	if !runPhase(model.PhaseDetect, func() (model.Phase, string, error) { return c.runDetect(ctx) }) {
		return c.finish(phase, bailoutReason)
	}
	if !runPhase(model.PhaseSetup, func() (model.Phase, string, error) { return c.runSetup(ctx) }) {
		return c.finish(phase, bailoutReason)
	}
	baselinePassed, next, reason, err := c.runBaseline(ctx)
	if err != nil {
		c.transition(model.PhaseBaseline, model.PhaseBailout, err.Error())
		return c.finish(model.PhaseBailout, err.Error())
	}
	c.transition(model.PhaseBaseline, next, reason)
	phase = next
	if baselinePassed {
		return c.finish(model.PhaseEvidence, "")
	}

	for phase == model.PhaseRepairLoop {
		next, reason, err := c.runRepairIteration(ctx)
		if err != nil {
			c.transition(model.PhaseRepairLoop, model.PhaseBailout, err.Error())
			phase = model.PhaseBailout
			bailoutReason = err.Error()
			break
		}
		c.transition(model.PhaseRepairLoop, next, reason)
		phase = next
		if next == model.PhaseBailout {
			bailoutReason = reason
		}
	}

	if phase == model.PhaseFinalVerify {
		next, reason, err := c.runFinalVerify(ctx)
		if err != nil {
			c.transition(model.PhaseFinalVerify, model.PhaseBailout, err.Error())
			phase = model.PhaseBailout
			bailoutReason = err.Error()
		} else {
			c.transition(model.PhaseFinalVerify, next, reason)
			phase = next
			if next == model.PhaseBailout {
				bailoutReason = reason
			}
		}
	}

	return c.finish(phase, bailoutReason)
}

// finish always writes the evidence pack (spec §4.11's "always runs,
// even on bailout") and reports success based on the terminal phase.
func (c *ControllerLoop) finish(finalPhase model.Phase, bailoutReason string) (RunResult, error) {
	success := finalPhase == model.PhaseEvidence && bailoutReason == ""

	exp := evidence.New(evidence.DefaultConfig())
	packDir, err := exp.Export(evidence.Input{
		LogDir:         filepath.Dir(c.Log.Path()),
		BaselineOutput: c.baselineOutput,
		FinalOutput:    c.lastVerify.Stdout + c.lastVerify.Stderr,
		WinnerDiff:     c.winnerDiff,
		State: map[string]any{
			"run_id":         c.RunID,
			"final_phase":    string(finalPhase),
			"bailout_reason": bailoutReason,
			"success":        success,
		},
		CommandLog: c.commandLog,
		RunID:      c.RunID,
	})
	// Evidence export is best-effort at the outer layer too: a failure
	// here must not mask the run's own success/failure result.
	if err != nil {
		packDir = ""
	}

	return RunResult{
		Success:       success,
		FinalPhase:    finalPhase,
		BailoutReason: bailoutReason,
		EvidenceDir:   packDir,
	}, nil
}

// recordToolOutcome writes one tool_request or patch-eval invocation to
// ActionMemory, scored via memory.ScoreAction's spec §4.11 step-7 formula:
// 100·outcome − 1·commandCount − 0.02·diffLines − 50·regressions. Tool
// requests carry no diff of their own (diffLines=0); the original system
// also never computes a dynamic regression count, so regressions is 0 at
// every call site (see repair.go).
func (c *ControllerLoop) recordToolOutcome(ctxSig model.ContextSignature, actionKey, actionJSON string, outcome model.Outcome, commandCount, diffLines, regressions int) {
	if c.Memory == nil {
		return
	}
	score := memory.ScoreAction(outcome, 0, commandCount, diffLines, regressions)
	_ = c.Memory.Record(memory.RecordInput{
		SourceRunID:      c.RunID,
		Context:          ctxSig,
		ActionType:       model.ActionToolRequest,
		ActionKey:        actionKey,
		ActionJSON:       actionJSON,
		Outcome:          outcome,
		Score:            score,
		ConfidenceWeight: 1.0,
		CommandCount:     commandCount,
		DiffLines:        diffLines,
		Regressions:      regressions,
	})
}

// effectiveTestCmd resolves spec §4.11's priority: user override > the
// detected buildpack's test plan > default.
func (c *ControllerLoop) effectiveTestCmd() []string {
	if strings.TrimSpace(c.Config.TestCmd) != "" && c.Config.TestCmd != "pytest -q" {
		return strings.Fields(c.Config.TestCmd)
	}
	if c.buildpack != nil {
		plan := c.buildpack.TestPlan(c.buildpackContext(), "")
		if len(plan.Argv) > 0 {
			return plan.Argv
		}
	}
	return strings.Fields(c.Config.TestCmd)
}

func (c *ControllerLoop) buildpackContext() buildpack.Context {
	tree, _ := c.Sandbox.ListTree(2000, true)
	return buildpack.Context{RepoDir: c.Sandbox.RepoDir, RepoTree: tree, Files: map[string]string{}}
}

// languageKey maps the detected buildpack type to the setup-report
// language key spec §4.11 names (pip/node/go/rust/java/dotnet).
func (c *ControllerLoop) languageKey() string {
	if c.buildpack == nil {
		return "pip"
	}
	switch c.buildpack.Type() {
	case buildpack.Python:
		return "pip"
	case buildpack.Node:
		return "node"
	case buildpack.Go:
		return "go"
	case buildpack.Rust:
		return "rust"
	case buildpack.Java:
		return "java"
	case buildpack.Dotnet:
		return "dotnet"
	default:
		return "pip"
	}
}

