// Package executor is spec §4.3's Executor: runs argv-only Commands on
// the host or in Docker, enforcing resource caps, network policy, and
// timeouts. Host-mode process bookkeeping is grounded on
// internal/attractor/procutil/procutil.go; Docker mode is new
// domain-stack code (the teacher has no container runtime) built on
// github.com/docker/docker + github.com/docker/go-connections per
// manifest evidence across the example pack (see DESIGN.md).
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/dawsonblock/rfsnctl/internal/ctlerr"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// Result is the outcome of running a Command (spec §4.3).
type Result struct {
	OK        bool
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	DurationMs int64
}

// Mode selects host vs Docker execution.
type Mode string

const (
	ModeHost   Mode = "host"
	ModeDocker Mode = "docker"
)

// Executor runs Commands. HostExecutor and DockerExecutor both satisfy
// this interface; the ControllerLoop is never aware of which is in use.
type Executor interface {
	Run(ctx context.Context, cmd model.Command) (Result, error)
}

// HostExecutor runs argv directly on the host with a timeout. Only
// permitted when ControllerConfig.UnsafeHostExec is true (spec §4.3).
type HostExecutor struct{}

func NewHostExecutor() *HostExecutor { return &HostExecutor{} }

func (h *HostExecutor) Run(ctx context.Context, cmd model.Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, ctlerr.New(ctlerr.ExecError, "empty argv", nil)
	}
	timeout := time.Duration(cmd.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	c := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	if cmd.Cwd != "" {
		c.Dir = cmd.Cwd
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	elapsed := time.Since(start).Milliseconds()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{OK: false, TimedOut: true, Stdout: stdout.String(), Stderr: stderr.String(), DurationMs: elapsed}, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{OK: false, ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String(), DurationMs: elapsed}, nil
		}
		return Result{}, ctlerr.New(ctlerr.ExecError, fmt.Sprintf("exec %v", cmd.Argv), err)
	}
	return Result{OK: true, ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String(), DurationMs: elapsed}, nil
}

// NetworkAllowedFor implements spec §4.3's network policy: install steps
// get network, test steps do not, except a test command whose first
// argv token is "npx" (recorded open question §9: carve-out kept as-is,
// not generalized).
func NetworkAllowedFor(phase string, argv []string) bool {
	if phase == "install" {
		return true
	}
	if len(argv) > 0 && argv[0] == "npx" {
		return true
	}
	return false
}
