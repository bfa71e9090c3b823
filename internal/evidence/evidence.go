// Package evidence exports the final artifact bundle for a completed
// run: the winning diff, before/after test output, the full state
// snapshot, the JSONL event log, the command log, and a changed-files
// manifest. Grounded on
// original_source/rfsn_controller/evidence_pack.py's
// EvidencePackExporter, with the teacher's finalizeTerminal
// best-effort-artifact idiom (internal/attractor/engine/engine.go) for
// which writes are fatal vs merely logged.
package evidence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Config controls where and what the exporter writes.
type Config struct {
	OutputDir         string
	IncludeRunJSONL   bool
	IncludeCommandLog bool
}

// DefaultConfig mirrors EvidencePackConfig's defaults.
func DefaultConfig() Config {
	return Config{OutputDir: "results", IncludeRunJSONL: true, IncludeCommandLog: true}
}

// Exporter writes evidence packs under Config.OutputDir/<runID>/.
type Exporter struct {
	cfg Config
}

// New constructs an Exporter. A zero Config falls back to DefaultConfig.
func New(cfg Config) *Exporter {
	if cfg.OutputDir == "" {
		cfg = DefaultConfig()
	}
	return &Exporter{cfg: cfg}
}

// Input bundles everything Export needs for one run.
type Input struct {
	SandboxRoot    string
	LogDir         string
	BaselineOutput string
	FinalOutput    string
	WinnerDiff     string // empty if no patch won
	State          any    // marshaled to state.json verbatim
	CommandLog     []map[string]any
	RunID          string
}

// Export writes the evidence pack and returns its directory. File
// writes that do not threaten the pack's integrity (run.jsonl copy,
// command log, files_changed.txt) are best-effort: a failure is
// returned only for the artifacts every pack must have (state.json,
// before.txt, after.txt) and for creating the pack directory itself.
func (e *Exporter) Export(in Input) (string, error) {
	packDir := filepath.Join(e.cfg.OutputDir, in.RunID)
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		return "", fmt.Errorf("evidence: create pack dir: %w", err)
	}

	if in.WinnerDiff != "" {
		_ = os.WriteFile(filepath.Join(packDir, "winner.diff"), []byte(in.WinnerDiff), 0o644)
	}

	if err := os.WriteFile(filepath.Join(packDir, "before.txt"), []byte(in.BaselineOutput), 0o644); err != nil {
		return "", fmt.Errorf("evidence: write before.txt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packDir, "after.txt"), []byte(in.FinalOutput), 0o644); err != nil {
		return "", fmt.Errorf("evidence: write after.txt: %w", err)
	}

	stateJSON, err := json.MarshalIndent(in.State, "", "  ")
	if err != nil {
		return "", fmt.Errorf("evidence: marshal state.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packDir, "state.json"), stateJSON, 0o644); err != nil {
		return "", fmt.Errorf("evidence: write state.json: %w", err)
	}

	if e.cfg.IncludeRunJSONL {
		srcPath := filepath.Join(in.LogDir, "run.jsonl")
		if _, err := os.Stat(srcPath); err == nil {
			_ = copyFile(srcPath, filepath.Join(packDir, "run.jsonl"))
		}
	}

	if e.cfg.IncludeCommandLog && len(in.CommandLog) > 0 {
		if b, err := json.MarshalIndent(in.CommandLog, "", "  "); err == nil {
			_ = os.WriteFile(filepath.Join(packDir, "command_log.json"), b, 0o644)
		}
	}

	if in.WinnerDiff != "" {
		changed := ExtractFilesChanged(in.WinnerDiff)
		_ = os.WriteFile(filepath.Join(packDir, "files_changed.txt"), []byte(strings.Join(changed, "\n")), 0o644)
	}

	if manifest, err := hashPackFiles(packDir); err == nil {
		if b, merr := json.MarshalIndent(manifest, "", "  "); merr == nil {
			_ = os.WriteFile(filepath.Join(packDir, "manifest.json"), b, 0o644)
		}
	}

	return packDir, nil
}

// hashPackFiles content-hashes every artifact already written into
// packDir with BLAKE3, keyed by filename. Mirrors the teacher's
// cxdb_sink.go PutArtifactFile, which hashes each artifact it stores
// so a later fetch can verify nothing in the pack was altered after
// export. Best-effort: Export's caller only needs before.txt/after.txt
// /state.json to exist, so a hashing failure here is not fatal.
func hashPackFiles(packDir string) (map[string]string, error) {
	entries, err := os.ReadDir(packDir)
	if err != nil {
		return nil, err
	}
	manifest := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(packDir, entry.Name()))
		if err != nil {
			continue
		}
		h := blake3.New()
		_, _ = h.Write(b)
		manifest[entry.Name()] = hex.EncodeToString(h.Sum(nil))
	}
	return manifest, nil
}

// ExportMetadata writes an additional metadata.json into an
// already-exported pack directory.
func (e *Exporter) ExportMetadata(packDir string, metadata any) error {
	b, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: marshal metadata.json: %w", err)
	}
	return os.WriteFile(filepath.Join(packDir, "metadata.json"), b, 0o644)
}

// ExtractFilesChanged returns the sorted, deduped set of file paths
// touched by a unified diff, stripping the a/ b/ prefix.
func ExtractFilesChanged(diff string) []string {
	files := map[string]bool{}
	for _, line := range strings.Split(diff, "\n") {
		var rest string
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			rest = line[len("+++ b/"):]
		case strings.HasPrefix(line, "--- a/"):
			rest = line[len("--- a/"):]
		default:
			continue
		}
		if rest != "" && rest != "dev/null" {
			files[rest] = true
		}
	}
	out := make([]string, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
