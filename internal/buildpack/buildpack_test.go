package buildpack

import "testing"

func TestPythonDetectConfidence(t *testing.T) {
	ctx := Context{Files: map[string]string{"pyproject.toml": "", "requirements.txt": "", "conftest.py": ""}}
	bp := NewPython()
	r := bp.Detect(ctx)
	if r == nil || r.Type != Python {
		t.Fatalf("expected python detection, got %v", r)
	}
	if r.Confidence < 0.95 {
		t.Fatalf("expected high confidence, got %v", r.Confidence)
	}
}

func TestNodeDetectRequiresPackageJSON(t *testing.T) {
	ctx := Context{Files: map[string]string{"yarn.lock": ""}}
	if NewNode().Detect(ctx) != nil {
		t.Fatal("expected nil detection without package.json")
	}
	ctx.Files["package.json"] = `{"scripts":{"test":"jest"}}`
	r := NewNode().Detect(ctx)
	if r == nil || r.Type != Node {
		t.Fatal("expected node detection with package.json present")
	}
}

func TestRegistrySelectPicksHighestConfidence(t *testing.T) {
	ctx := Context{Files: map[string]string{
		"go.mod":     "module x",
		"go.sum":     "",
		"package.json": `{"scripts":{}}`,
	}}
	bp, result := Select(ctx)
	if bp == nil || result == nil {
		t.Fatal("expected a buildpack to be selected")
	}
	if bp.Type() != Go {
		t.Fatalf("expected go.mod+go.sum (confidence 0.9) to beat bare package.json (0.6), got %v", bp.Type())
	}
}

func TestRegistrySelectReturnsNilBelowThreshold(t *testing.T) {
	ctx := Context{Files: map[string]string{}}
	bp, result := Select(ctx)
	if bp != nil || result != nil {
		t.Fatal("expected no selection with no indicators")
	}
}

func TestInferFromTestCmd(t *testing.T) {
	if tp, ok := InferFromTestCmd("pytest -q tests/"); !ok || tp != Python {
		t.Fatalf("expected python inference, got %v %v", tp, ok)
	}
	if tp, ok := InferFromTestCmd("go test ./..."); !ok || tp != Go {
		t.Fatalf("expected go inference, got %v %v", tp, ok)
	}
	if _, ok := InferFromTestCmd("make check"); ok {
		t.Fatal("expected no inference for an unrecognized command")
	}
}

func TestNodeParseFailuresDedupsLikelyFiles(t *testing.T) {
	out := "FAIL src/a.test.js\nFAIL src/a.test.js\n"
	fi := NewNode().ParseFailures(out, "")
	if len(fi.LikelyFiles) != 1 {
		t.Fatalf("expected dedup to 1 file, got %v", fi.LikelyFiles)
	}
}

func TestPolyrepoDetectRequiresTwoLanguages(t *testing.T) {
	ctx := Context{Files: map[string]string{"go.mod": "module x", "go.sum": ""}}
	if NewPolyrepo().Detect(ctx) != nil {
		t.Fatal("expected nil with only one language detected")
	}
	ctx.Files["package.json"] = `{"scripts":{"test":"jest"}}`
	r := NewPolyrepo().Detect(ctx)
	if r == nil || r.Type != Polyrepo {
		t.Fatal("expected polyrepo detection with two languages present")
	}
}
