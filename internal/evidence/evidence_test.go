package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestExportWritesCoreArtifacts(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "run.jsonl"), []byte(`{"event":"start"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	exp := New(Config{OutputDir: filepath.Join(dir, "results")})
	packDir, err := exp.Export(Input{
		LogDir:         logDir,
		BaselineOutput: "2 failed",
		FinalOutput:    "0 failed",
		WinnerDiff:     "diff --git a/app.py b/app.py\n--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-x=1\n+x=2\n",
		State:          map[string]any{"intent": "import_error"},
		RunID:          "run-1",
	})
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}

	for _, name := range []string{"before.txt", "after.txt", "state.json", "winner.diff", "run.jsonl", "files_changed.txt"} {
		if _, err := os.Stat(filepath.Join(packDir, name)); err != nil {
			t.Fatalf("expected artifact %s to exist: %v", name, err)
		}
	}
}

func TestExportWritesContentHashManifest(t *testing.T) {
	dir := t.TempDir()
	exp := New(Config{OutputDir: dir})
	packDir, err := exp.Export(Input{
		BaselineOutput: "2 failed",
		FinalOutput:    "0 failed",
		State:          map[string]any{"intent": "import_error"},
		RunID:          "run-3",
	})
	if err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(packDir, "manifest.json"))
	if err != nil {
		t.Fatalf("expected manifest.json to exist: %v", err)
	}
	var manifest map[string]string
	if err := json.Unmarshal(b, &manifest); err != nil {
		t.Fatalf("manifest.json not valid JSON: %v", err)
	}
	hash, ok := manifest["before.txt"]
	if !ok || len(hash) != 64 {
		t.Fatalf("expected a 32-byte hex hash for before.txt, got %q", hash)
	}
	if _, ok := manifest["manifest.json"]; ok {
		t.Fatal("manifest.json should not hash itself (written after the scan)")
	}
}

func TestExportSkipsWinnerDiffWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	exp := New(Config{OutputDir: dir})
	packDir, err := exp.Export(Input{
		BaselineOutput: "x",
		FinalOutput:    "y",
		State:          map[string]any{},
		RunID:          "run-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(packDir, "winner.diff")); err == nil {
		t.Fatal("expected no winner.diff when WinnerDiff is empty")
	}
}

func TestExtractFilesChangedDedupsAndSorts(t *testing.T) {
	diff := "--- a/b.py\n+++ b/b.py\n--- a/a.py\n+++ b/a.py\n"
	got := ExtractFilesChanged(diff)
	if len(got) != 2 || got[0] != "a.py" || got[1] != "b.py" {
		t.Fatalf("unexpected: %v", got)
	}
}

func TestExportMetadataWritesFile(t *testing.T) {
	dir := t.TempDir()
	exp := New(Config{OutputDir: dir})
	if err := exp.ExportMetadata(dir, map[string]any{"foo": "bar"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
		t.Fatal("expected metadata.json to exist")
	}
}
