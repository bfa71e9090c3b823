package aptwhitelist

import "testing"

func TestDefaultWhitelistAllowsTier0Through4(t *testing.T) {
	w := DefaultWhitelist()
	if !w.IsAllowed("build-essential") || !w.IsAllowed("libjpeg-dev") {
		t.Fatal("expected tier 0 and tier 4 packages allowed")
	}
	if w.IsAllowed("libcurl4-openssl-dev") {
		t.Fatal("tier 7 package should not be allowed at max_tier=4")
	}
}

func TestForbiddenPackagesAlwaysBlocked(t *testing.T) {
	w := PermissiveWhitelist()
	if w.IsAllowed("sudo") || w.IsAllowed("docker.io") {
		t.Fatal("forbidden packages must never be allowed")
	}
}

func TestWildcardsRequireOptIn(t *testing.T) {
	w := New(10, Tier4, false, nil)
	if w.IsAllowed("lib*-dev") {
		t.Fatal("wildcard should be blocked without AllowWildcards")
	}
	w2 := New(10, Tier4, true, nil)
	if !w2.IsAllowed("libjpeg*") {
		t.Fatal("wildcard should match an allowed prefix when enabled")
	}
}

func TestCheckWithinLimits(t *testing.T) {
	w := New(2, Tier0, false, nil)
	if !w.CheckWithinLimits([]string{"a", "b"}) {
		t.Fatal("expected within limits at exactly max")
	}
	if w.CheckWithinLimits([]string{"a", "b", "c"}) {
		t.Fatal("expected over limit")
	}
}

func TestFilterAllowed(t *testing.T) {
	w := DefaultWhitelist()
	allowed, blocked := w.FilterAllowed([]string{"git", "sudo", "unknown-pkg"})
	if len(allowed) != 1 || allowed[0] != "git" {
		t.Fatalf("expected only git allowed, got %v", allowed)
	}
	if len(blocked) != 2 {
		t.Fatalf("expected 2 blocked, got %v", blocked)
	}
}
