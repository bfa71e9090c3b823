package hygiene

import (
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

func TestCheckRejectsTestDeletion(t *testing.T) {
	diffText := `diff --git a/tests/test_foo.py b/tests/test_foo.py
deleted file mode 100644
index 1111111..0000000
--- a/tests/test_foo.py
+++ /dev/null
@@ -1,2 +0,0 @@
-def test_x():
-    pass
`
	d := model.ParseDiff(diffText)
	res := Check(d, ProfileRepair, "python")
	if res.IsValid {
		t.Fatal("expected invalid due to test deletion")
	}
	found := false
	for _, v := range res.Violations {
		if v == "Cannot delete test file: tests/test_foo.py" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'Cannot delete test file' violation, got %v", res.Violations)
	}
}

func TestCheckForbiddenPathAlwaysStrict(t *testing.T) {
	diffText := `diff --git a/node_modules/x/index.js b/node_modules/x/index.js
index 1111111..2222222 100644
--- a/node_modules/x/index.js
+++ b/node_modules/x/index.js
@@ -1 +1 @@
-old
+new
`
	d := model.ParseDiff(diffText)
	for _, p := range []Profile{ProfileRepair, ProfileFeature} {
		res := Check(d, p, "node")
		if res.IsValid {
			t.Fatalf("expected forbidden path rejection regardless of profile %s", p)
		}
	}
}

func TestCheckForbiddenFilename(t *testing.T) {
	diffText := `diff --git a/.env b/.env
index 1111111..2222222 100644
--- a/.env
+++ b/.env
@@ -1 +1 @@
-A=1
+A=2
`
	d := model.ParseDiff(diffText)
	res := Check(d, ProfileFeature, "python")
	if res.IsValid {
		t.Fatal("expected forbidden filename rejection for .env")
	}
}

func TestCheckDebugSentinel(t *testing.T) {
	diffText := `diff --git a/src/app.py b/src/app.py
index 1111111..2222222 100644
--- a/src/app.py
+++ b/src/app.py
@@ -1,2 +1,3 @@
 def f():
+    breakpoint(
     pass
`
	d := model.ParseDiff(diffText)
	res := Check(d, ProfileRepair, "python")
	if res.IsValid {
		t.Fatal("expected debug sentinel rejection")
	}
}

func TestCheckWithinLimitsIsValid(t *testing.T) {
	diffText := `diff --git a/src/app.py b/src/app.py
index 1111111..2222222 100644
--- a/src/app.py
+++ b/src/app.py
@@ -1,2 +1,2 @@
-import foo
+import foobar
 def main(): pass
`
	d := model.ParseDiff(diffText)
	res := Check(d, ProfileRepair, "python")
	if !res.IsValid {
		t.Fatalf("expected valid diff, got violations: %v", res.Violations)
	}
}

func TestLimitsForLanguageAdjustment(t *testing.T) {
	base := LimitsFor(ProfileFeature, "python")
	java := LimitsFor(ProfileFeature, "java")
	node := LimitsFor(ProfileFeature, "node")
	if java.MaxLines != base.MaxLines+200 {
		t.Fatalf("java MaxLines = %d, want %d", java.MaxLines, base.MaxLines+200)
	}
	if node.MaxLines != base.MaxLines+100 {
		t.Fatalf("node MaxLines = %d, want %d", node.MaxLines, base.MaxLines+100)
	}
}

func TestIsTestFile(t *testing.T) {
	for _, p := range []string{"test_foo.py", "foo_test.py", "foo.test.js", "tests/bar.py", "src/test/Bar.java"} {
		if !IsTestFile(p) {
			t.Errorf("expected %q to be detected as a test file", p)
		}
	}
	if IsTestFile("src/app.py") {
		t.Fatal("src/app.py should not be detected as a test file")
	}
}
