package model

import "testing"

const sampleDiff = `diff --git a/src/app.py b/src/app.py
index 1111111..2222222 100644
--- a/src/app.py
+++ b/src/app.py
@@ -1,3 +1,3 @@
-import foo
+import foobar

 def main():
     pass
`

func TestParseDiffBasic(t *testing.T) {
	d := ParseDiff(sampleDiff)
	if len(d.FilesChanged) != 1 || d.FilesChanged[0] != "src/app.py" {
		t.Fatalf("FilesChanged = %v, want [src/app.py]", d.FilesChanged)
	}
	if d.LinesAdded != 1 {
		t.Fatalf("LinesAdded = %d, want 1", d.LinesAdded)
	}
	if d.LinesRemoved != 1 {
		t.Fatalf("LinesRemoved = %d, want 1", d.LinesRemoved)
	}
	if d.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
}

func TestParseDiffDeterministicHash(t *testing.T) {
	a := ParseDiff(sampleDiff)
	b := ParseDiff(sampleDiff)
	if a.Hash != b.Hash {
		t.Fatalf("hash not deterministic: %s vs %s", a.Hash, b.Hash)
	}
}

func TestDeletedTestFiles(t *testing.T) {
	diff := `diff --git a/tests/test_foo.py b/tests/test_foo.py
deleted file mode 100644
index 1111111..0000000
--- a/tests/test_foo.py
+++ /dev/null
@@ -1,3 +0,0 @@
-def test_x():
-    pass
`
	isTest := func(p string) bool { return len(p) > 5 && p[:6] == "tests/" }
	got := DeletedTestFiles(diff, isTest)
	if len(got) != 1 || got[0] != "tests/test_foo.py" {
		t.Fatalf("DeletedTestFiles = %v", got)
	}
}

func TestLooksLikeUnifiedDiff(t *testing.T) {
	if !LooksLikeUnifiedDiff(sampleDiff) {
		t.Fatal("expected sampleDiff to look like a unified diff")
	}
	if LooksLikeUnifiedDiff("```diff\nfoo\n```") {
		t.Fatal("fenced markdown block should not look like a unified diff")
	}
	if LooksLikeUnifiedDiff("") {
		t.Fatal("empty string should not look like a unified diff")
	}
	if LooksLikeUnifiedDiff("just some prose") {
		t.Fatal("prose should not look like a unified diff")
	}
}
