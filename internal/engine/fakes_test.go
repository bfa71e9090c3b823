package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dawsonblock/rfsnctl/internal/budget"
	"github.com/dawsonblock/rfsnctl/internal/clock"
	"github.com/dawsonblock/rfsnctl/internal/executor"
	"github.com/dawsonblock/rfsnctl/internal/llm"
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/dawsonblock/rfsnctl/internal/sandbox"
	"github.com/dawsonblock/rfsnctl/internal/stall"
	"github.com/dawsonblock/rfsnctl/internal/toolgovernor"
)

// scriptedExecutor replays a fixed queue of results regardless of the
// command run, or falls back to a per-phase map when the queue is
// empty. Good enough to drive ControllerLoop phase functions without a
// real Docker/host executor.
type scriptedExecutor struct {
	queue    []executor.Result
	byPhase  map[string]executor.Result
	calls    []model.Command
	err      error
}

func (f *scriptedExecutor) Run(ctx context.Context, cmd model.Command) (executor.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return executor.Result{}, f.err
	}
	if len(f.queue) > 0 {
		res := f.queue[0]
		f.queue = f.queue[1:]
		return res, nil
	}
	if res, ok := f.byPhase[cmd.Phase]; ok {
		return res, nil
	}
	return executor.Result{OK: true, ExitCode: 0}, nil
}

// fakeAdapter is a scripted llm.ProviderAdapter returning one
// RawJSON response per call, repeating the last response once there
// are more calls than responses.
type fakeAdapter struct {
	name      string
	responses []string
	calls     int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(f.responses) == 0 {
		return llm.Response{Provider: f.name, RawJSON: `{"mode":"tool_request","why":"x","requests":[{"tool":"sandbox.list_tree"}]}`}, nil
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return llm.Response{Provider: f.name, Model: req.Model, RawJSON: f.responses[idx]}, nil
}

func newFakeLLMClient(responses ...string) *llm.Client {
	c := llm.NewClient()
	c.Register(&fakeAdapter{name: "fake", responses: responses})
	return c
}

func failingTestResult(stderr string) executor.Result {
	return executor.Result{OK: false, ExitCode: 1, Stdout: "", Stderr: stderr}
}

// newTestLoop builds a minimal ControllerLoop with a real, disposable
// sandbox on disk, a frozen clock, and fresh budget/stall/governor
// state, bypassing New() (which would otherwise try to build a Docker
// executor). Callers override Exec/LLM/Config as needed.
func newTestLoop(t *testing.T) *ControllerLoop {
	t.Helper()
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 1.0)
	sb, err := sandbox.New("test_"+t.Name(), clk)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	t.Cleanup(func() { _ = sb.Destroy() })
	if err := os.MkdirAll(sb.RepoDir, 0o755); err != nil {
		t.Fatalf("mkdir repo dir: %v", err)
	}

	cfg := ControllerConfig{
		TestCmd:     "pytest -q",
		MaxSteps:    12,
		FullTimeout: 60,
		FocusTimeout: 30,
		Temps:       []float64{0.0},
	}

	return &ControllerLoop{
		Config:     cfg,
		RunID:      "test_run",
		Clock:      clk,
		Sandbox:    sb,
		Exec:       &scriptedExecutor{},
		budget:     budget.New(budget.DefaultLimits()),
		stall:      stall.New(3),
		gov:        toolgovernor.New(toolgovernor.Config{MaxPerResponse: 6, MaxPerRun: 40, DedupEnabled: true}),
		diffsTried: map[string]bool{},
		minFailingCount: -1,
	}
}
