package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/dawsonblock/rfsnctl/internal/clock"
	"github.com/dawsonblock/rfsnctl/internal/engine"
	"github.com/dawsonblock/rfsnctl/internal/llm"
	"github.com/dawsonblock/rfsnctl/internal/llm/providers/deepseek"
	"github.com/dawsonblock/rfsnctl/internal/llm/providers/gemini"
	"github.com/dawsonblock/rfsnctl/internal/memory"
	"github.com/oklog/ulid/v2"
)

// cliVersion identifies this build in --version output. The teacher's
// own internal/version package isn't part of the retrieved example
// set, so this is a plain constant rather than a ported package.
const cliVersion = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("rfsnctl %s\n", cliVersion)
		os.Exit(0)
	case "run":
		runCmd(os.Args[2:])
	case "ingest":
		ingestCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  rfsnctl --version")
	fmt.Fprintln(os.Stderr, "  rfsnctl run --repo <github_url> [--config <file.yaml>] [--run-id <id>] [--logs-root <dir>] [flags...]")
	fmt.Fprintln(os.Stderr, "  rfsnctl ingest --learning-db <path> [--results-dir <dir>]")
	fmt.Fprintln(os.Stderr, "see SPEC_FULL.md section 6 for the full flag surface (--test-cmd, --max-steps, --model, --verify-policy, --feature-mode, ...)")
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func runCmd(args []string) {
	flags, configPath, runID, logsRoot, err := parseRunFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(1)
	}

	base, err := engine.LoadControllerConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := engine.ResolveAndValidate(engine.MergeFlags(base, flags))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if runID == "" {
		runID = newRunID()
	}
	if logsRoot == "" {
		logsRoot = filepath.Join("results", runID)
	}

	var clk clock.Clock
	if cfg.TimeMode == "frozen" {
		start := time.Now().UTC()
		if cfg.RunStartedAtUTC != "" {
			if parsed, perr := time.Parse(time.RFC3339, cfg.RunStartedAtUTC); perr == nil {
				start = parsed
			}
		}
		clk = clock.NewFrozen(start, 1.0)
	} else {
		clk = clock.NewLive()
	}

	loop, err := engine.New(cfg, runID, clk, logsRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	loop.LLM = llmClient

	if cfg.LearningDBPath != "" {
		limits := memory.DefaultLimits()
		if cfg.LearningHalfLifeDays != 0 {
			limits.HalfLifeDays = int(cfg.LearningHalfLifeDays)
		}
		if cfg.LearningMaxAgeDays != 0 {
			limits.MaxAgeDays = int(cfg.LearningMaxAgeDays)
		}
		if cfg.LearningMaxRows != 0 {
			limits.MaxRows = cfg.LearningMaxRows
		}
		store, merr := memory.Open(cfg.LearningDBPath, limits)
		if merr != nil {
			fmt.Fprintln(os.Stderr, merr)
			os.Exit(1)
		}
		loop.Memory = store
	}

	// Default: no deadline. A repair run may need many model calls and
	// Docker rebuilds; only SIGINT/SIGTERM end it early.
	ctx, cleanupSignalCtx := signalCancelContext()
	res, err := loop.Run(ctx)
	cleanupSignalCtx()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("run_id=%s\n", runID)
	fmt.Printf("final_phase=%s\n", res.FinalPhase)
	fmt.Printf("success=%t\n", res.Success)
	if res.BailoutReason != "" {
		fmt.Printf("bailout_reason=%s\n", res.BailoutReason)
	}
	if res.EvidenceDir != "" {
		fmt.Printf("evidence_dir=%s\n", res.EvidenceDir)
	}

	if res.Success {
		os.Exit(0)
	}
	os.Exit(1)
}

// ingestCmd backfills ActionMemory from every evidence pack under
// --results-dir, the library entry point ingest_evidence.py's CLI
// wrapped: one rfsnctl ingest invocation replays a whole results tree
// instead of requiring a separate Python process to run alongside the
// Go controller.
func ingestCmd(args []string) {
	dbPath, resultsDir, limits, err := parseIngestFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	store, err := memory.Open(dbPath, limits)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var totalTools, totalPatches, totalPacks int
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		counts, ierr := store.IngestEvidencePack(filepath.Join(resultsDir, name))
		if ierr != nil {
			fmt.Fprintf(os.Stderr, "ingest %s: %v\n", name, ierr)
			continue
		}
		totalTools += counts.ToolRecords
		totalPatches += counts.PatchRecords
		totalPacks += counts.Packs
	}

	fmt.Printf("packs_ingested=%d\n", totalPacks)
	fmt.Printf("tool_records=%d\n", totalTools)
	fmt.Printf("patch_records=%d\n", totalPatches)
}

func parseIngestFlags(args []string) (dbPath, resultsDir string, limits memory.Limits, err error) {
	resultsDir = "results"
	limits = memory.DefaultLimits()
	for i := 0; i < len(args); i++ {
		next := func() (string, error) {
			i++
			if i >= len(args) {
				return "", fmt.Errorf("missing value for %s", args[i-1])
			}
			return args[i], nil
		}
		switch args[i] {
		case "--learning-db":
			if dbPath, err = next(); err != nil {
				return
			}
		case "--results-dir":
			if resultsDir, err = next(); err != nil {
				return
			}
		case "--learning-half-life-days":
			var s string
			if s, err = next(); err != nil {
				return
			}
			if limits.HalfLifeDays, err = strconv.Atoi(s); err != nil {
				return
			}
		case "--learning-max-age-days":
			var s string
			if s, err = next(); err != nil {
				return
			}
			if limits.MaxAgeDays, err = strconv.Atoi(s); err != nil {
				return
			}
		case "--learning-max-rows":
			var s string
			if s, err = next(); err != nil {
				return
			}
			if limits.MaxRows, err = strconv.Atoi(s); err != nil {
				return
			}
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
			return
		}
	}
	if dbPath == "" {
		err = fmt.Errorf("--learning-db is required")
	}
	return
}

// newRunID mints a lexically-sortable run identifier: a ULID seeded
// off the wall clock, so `ls results/` and log aggregation both sort
// runs chronologically without parsing the id.
func newRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// buildLLMClient wires exactly the provider named by --model's
// "provider:model" prefix (gemini by default, matching the teacher's
// default-provider-is-first-registered convention), calling that
// package's own Register func rather than registering every adapter
// unconditionally — the controller only ever calls one provider per
// run (spec §6).
func buildLLMClient(cfg engine.ControllerConfig) (*llm.Client, error) {
	c := llm.NewClient()
	provider, _ := modelProviderPrefix(cfg.Model)
	if provider == "" {
		provider = gemini.ProviderName
	}
	switch provider {
	case gemini.ProviderName:
		if err := gemini.Register(c); err != nil {
			return nil, fmt.Errorf("configure gemini provider: %w", err)
		}
	case deepseek.ProviderName:
		if err := deepseek.Register(c); err != nil {
			return nil, fmt.Errorf("configure deepseek provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
	return c, nil
}

// modelProviderPrefix extracts the "provider" half of a "provider:model"
// spec string, e.g. "gemini:gemini-3.0-flash" -> "gemini". A
// prefix-less --model (just a bare model name) reports ok=false so the
// caller falls back to the default provider.
func modelProviderPrefix(model string) (string, bool) {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i], true
		}
	}
	return "", false
}
