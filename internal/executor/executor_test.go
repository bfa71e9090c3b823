package executor

import (
	"context"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestHostExecutorRunsEcho(t *testing.T) {
	h := NewHostExecutor()
	res, err := h.Run(context.Background(), model.Command{
		Argv:       []string{"echo", "hello"},
		TimeoutSec: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.ExitCode != 0 {
		t.Fatalf("expected ok exit, got %+v", res)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestHostExecutorNonZeroExit(t *testing.T) {
	h := NewHostExecutor()
	res, err := h.Run(context.Background(), model.Command{
		Argv:       []string{"false"},
		TimeoutSec: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected non-ok result for `false`")
	}
	if res.ExitCode == 0 {
		t.Fatal("expected non-zero exit code")
	}
}

func TestHostExecutorTimeout(t *testing.T) {
	h := NewHostExecutor()
	res, err := h.Run(context.Background(), model.Command{
		Argv:       []string{"sleep", "5"},
		TimeoutSec: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut=true")
	}
	if res.OK {
		t.Fatal("a timed-out command must not be reported ok")
	}
}

func TestNetworkAllowedFor(t *testing.T) {
	if !NetworkAllowedFor("install", []string{"pip", "install", "foo"}) {
		t.Fatal("install steps must have network")
	}
	if NetworkAllowedFor("test", []string{"pytest", "-q"}) {
		t.Fatal("test steps must not have network by default")
	}
	if !NetworkAllowedFor("test", []string{"npx", "jest"}) {
		t.Fatal("npx test commands are the documented network carve-out")
	}
}

func TestShellQuoteArgv(t *testing.T) {
	got := shellQuoteArgv([]string{"python", "-c", "print(1 > 0)"})
	want := `python -c 'print(1 > 0)'`
	if got != want {
		t.Fatalf("shellQuoteArgv = %q, want %q", got, want)
	}
}
