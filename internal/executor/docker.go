package executor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/dawsonblock/rfsnctl/internal/ctlerr"
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// DockerSpec configures the DockerExecutor beyond what a single Command
// carries (spec §4.3).
type DockerSpec struct {
	Image          string
	RepoDir        string
	VenvDir        string // Python only; bind-mounted to /opt/venv
	IsPython       bool
	CacheVolumes   map[string]string // name -> container mount path, e.g. pip-cache -> /root/.cache/pip
	ReadOnly       bool
	EnvExtra       map[string]string
}

// DockerExecutor runs Commands inside disposable containers (spec §4.3,
// the default execution mode). New domain-stack code: the teacher has
// no container runtime of its own.
type DockerExecutor struct {
	cli  *client.Client

	mu   sync.RWMutex
	spec DockerSpec
}

// NewDockerExecutor dials the local Docker daemon using the
// environment-derived endpoint (DOCKER_HOST etc., the idiom
// github.com/docker/go-connections' nat/sockets helpers assume).
func NewDockerExecutor(spec DockerSpec) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, ctlerr.New(ctlerr.ExecError, "docker: dial daemon", err)
	}
	return &DockerExecutor{cli: cli, spec: spec}, nil
}

// SetPython records the sandbox's per-run venv directory and whether the
// detected buildpack is Python, once DETECT has run. Called after
// construction because buildpack detection happens after the executor is
// built (spec §4.11 DETECT follows INGEST).
func (d *DockerExecutor) SetPython(venvDir string, isPython bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.VenvDir = venvDir
	d.spec.IsPython = isPython
}

func (d *DockerExecutor) currentSpec() DockerSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spec
}

func (d *DockerExecutor) Run(ctx context.Context, cmd model.Command) (Result, error) {
	if _, err := d.cli.Ping(ctx); err != nil {
		return Result{}, ctlerr.New(ctlerr.ExecError, "ToolMissing: docker daemon unreachable", err)
	}
	spec := d.currentSpec()

	sandboxRoot := filepath.Dir(spec.RepoDir)
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: sandboxRoot, Target: "/sandbox"},
	}
	if spec.IsPython && spec.VenvDir != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: spec.VenvDir, Target: "/opt/venv"})
	}
	for name, target := range spec.CacheVolumes {
		mounts = append(mounts, mount.Mount{Type: mount.TypeVolume, Source: name, Target: target})
	}

	argv := cmd.Argv
	if spec.IsPython {
		wrapped := fmt.Sprintf(
			"[ -x /opt/venv/bin/python ] || python -m venv /opt/venv; . /opt/venv/bin/activate; exec %s",
			shellQuoteArgv(argv),
		)
		argv = []string{"/bin/sh", "-c", wrapped}
	}

	env := []string{
		"TZ=UTC",
		"PYTHONHASHSEED=0",
		"LC_ALL=C.UTF-8",
		"PIP_DISABLE_PIP_VERSION_CHECK=1",
	}
	for k, v := range spec.EnvExtra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	resources := container.Resources{}
	if cmd.ResourceCaps.CPU > 0 {
		resources.NanoCPUs = int64(cmd.ResourceCaps.CPU * 1e9)
	}
	if cmd.ResourceCaps.MemMB > 0 {
		resources.Memory = int64(cmd.ResourceCaps.MemMB) * 1024 * 1024
	}
	if cmd.ResourceCaps.Pids > 0 {
		pidsLimit := int64(cmd.ResourceCaps.Pids)
		resources.PidsLimit = &pidsLimit
	}

	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		Resources:   resources,
		NetworkMode: container.NetworkMode("none"),
	}
	if cmd.NetworkAllowed {
		hostCfg.NetworkMode = container.NetworkMode("bridge")
	}
	if cmd.ResourceCaps.ReadOnly || spec.ReadOnly {
		hostCfg.ReadonlyRootfs = true
		hostCfg.Tmpfs = map[string]string{"/tmp": "rw,noexec,nosuid,size=512m"}
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		Cmd:        argv,
		Env:        env,
		WorkingDir: containerWorkingDir(sandboxRoot, cmd.Cwd),
		Tty:        false,
	}

	created, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return Result{}, ctlerr.New(ctlerr.ExecError, "docker: create container", err)
	}
	defer func() {
		_ = d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	timeout := time.Duration(cmd.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return Result{}, ctlerr.New(ctlerr.ExecError, "docker: start container", err)
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	var timedOut bool
	select {
	case <-runCtx.Done():
		timedOut = true
		_ = d.cli.ContainerKill(context.Background(), created.ID, "KILL")
	case werr := <-errCh:
		if werr != nil {
			return Result{}, ctlerr.New(ctlerr.ExecError, "docker: wait container", werr)
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	}

	logs, err := d.cli.ContainerLogs(context.Background(), created.ID, container.LogsOptions{
		ShowStdout: true, ShowStderr: true,
	})
	var stdout, stderr bytes.Buffer
	if err == nil {
		defer logs.Close()
		_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)
	}

	elapsed := time.Since(start).Milliseconds()
	if timedOut {
		return Result{OK: false, TimedOut: true, Stdout: stdout.String(), Stderr: stderr.String(), DurationMs: elapsed}, nil
	}
	return Result{OK: exitCode == 0, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String(), DurationMs: elapsed}, nil
}

// Close releases the Docker client connection.
func (d *DockerExecutor) Close() error {
	return d.cli.Close()
}

// containerWorkingDir maps a Command's host-side Cwd (the sandbox's main
// repo clone, or a worktree spun up under the same sandboxRoot) onto its
// path inside the container, given the whole sandbox tree is bind-mounted
// at /sandbox. An empty or out-of-tree Cwd falls back to the repo clone,
// the common case (setup/baseline/verify all run there).
func containerWorkingDir(sandboxRoot, cwd string) string {
	if cwd == "" {
		return "/sandbox/repo"
	}
	rel, err := filepath.Rel(sandboxRoot, cwd)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "/sandbox/repo"
	}
	return filepath.ToSlash(filepath.Join("/sandbox", rel))
}

// shellQuoteArgv renders argv as a single POSIX-quoted shell command,
// used only for the Python venv-activation wrapper (the one place the
// spec itself requires a shell fragment: ". /opt/venv/bin/activate; <cmd>").
// Everywhere else the executor remains argv-only; CommandPolicy has
// already validated argv before this wrapper is built.
func shellQuoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n'\"$`\\") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
