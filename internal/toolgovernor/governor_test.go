package toolgovernor

import "testing"

func TestFilterDedupBlocksDuplicateSignature(t *testing.T) {
	g := New(Config{MaxPerResponse: 6, MaxPerRun: 40, DedupEnabled: true})

	req := ToolRequest{Tool: "sandbox.read_file", Args: map[string]any{"path": "README.md"}}

	allowed, blocked, err := g.Filter([]ToolRequest{req})
	if err != nil {
		t.Fatal(err)
	}
	if len(allowed) != 1 || len(blocked) != 0 {
		t.Fatalf("first request should be allowed: allowed=%d blocked=%d", len(allowed), len(blocked))
	}

	for i := 0; i < 2; i++ {
		allowed, blocked, err = g.Filter([]ToolRequest{req})
		if err != nil {
			t.Fatal(err)
		}
		if len(allowed) != 0 || len(blocked) != 1 {
			t.Fatalf("repeat %d: expected block, got allowed=%d blocked=%d", i, len(allowed), len(blocked))
		}
	}

	stats := g.Stats()
	if stats.TotalThisRun != 1 {
		t.Fatalf("TotalThisRun = %d, want 1 (duplicate blocks must not count)", stats.TotalThisRun)
	}
}

func TestFilterTruncatesToMaxPerResponse(t *testing.T) {
	g := New(Config{MaxPerResponse: 2, MaxPerRun: 100, DedupEnabled: true})
	reqs := []ToolRequest{
		{Tool: "a", Args: map[string]any{"x": 1}},
		{Tool: "b", Args: map[string]any{"x": 2}},
		{Tool: "c", Args: map[string]any{"x": 3}},
	}
	allowed, _, err := g.Filter(reqs)
	if err != nil {
		t.Fatal(err)
	}
	if len(allowed) != 2 {
		t.Fatalf("expected truncation to 2 requests, got %d", len(allowed))
	}
}

func TestFilterArgOrderIndependentSignature(t *testing.T) {
	g := New(Config{MaxPerResponse: 6, MaxPerRun: 40, DedupEnabled: true})
	req1 := ToolRequest{Tool: "t", Args: map[string]any{"a": 1, "b": 2}}
	req2 := ToolRequest{Tool: "t", Args: map[string]any{"b": 2, "a": 1}}

	allowed, _, _ := g.Filter([]ToolRequest{req1})
	if len(allowed) != 1 {
		t.Fatal("expected first request allowed")
	}
	_, blocked, _ := g.Filter([]ToolRequest{req2})
	if len(blocked) != 1 {
		t.Fatal("expected second (key-order-permuted) request blocked as duplicate")
	}
}

func TestFilterRunQuotaExhausted(t *testing.T) {
	g := New(Config{MaxPerResponse: 6, MaxPerRun: 1, DedupEnabled: true})
	_, _, _ = g.Filter([]ToolRequest{{Tool: "a", Args: map[string]any{}}})
	allowed, blocked, err := g.Filter([]ToolRequest{{Tool: "b", Args: map[string]any{}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(allowed) != 0 || len(blocked) != 1 {
		t.Fatalf("expected quota exhaustion to block, got allowed=%d blocked=%d", len(allowed), len(blocked))
	}
}
