// Package toolgovernor implements spec §4.5: dedup + per-run quotas +
// per-response cap for model-requested tool invocations. No teacher
// analog component exists; the dedup/quota bookkeeping idiom is
// generalized from internal/agent/session.go's per-turn tool-call
// counting, widened here to a cross-run signature set (spec §4.5's
// invariant: "once a signature is seen, it is blocked for the
// remainder of the run").
package toolgovernor

import (
	"fmt"
	"sync"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

// Config mirrors spec §4.5.
type Config struct {
	MaxPerResponse int
	MaxPerRun      int
	DedupEnabled   bool
}

// ToolRequest is the minimal shape the Governor consults: the model's
// requested tool name and argument map (spec §4.14's tool_request mode).
type ToolRequest struct {
	Tool string
	Args map[string]any
}

// BlockedRequest records a rejected request with its reason.
type BlockedRequest struct {
	Request ToolRequest
	Reason  string
}

// Stats reports governor counters (spec §4.5's stats()).
type Stats struct {
	TotalThisRun  int
	PerToolCounts map[string]int
	RemainingRun  int
}

// Governor is the ToolGovernor component.
type Governor struct {
	cfg Config

	mu             sync.Mutex
	seenSignatures map[string]bool
	totalThisRun   int
	perToolCounts  map[string]int
}

func New(cfg Config) *Governor {
	if cfg.MaxPerResponse <= 0 {
		cfg.MaxPerResponse = 6
	}
	return &Governor{
		cfg:            cfg,
		seenSignatures: make(map[string]bool),
		perToolCounts:  make(map[string]int),
	}
}

// Filter truncates requests to MaxPerResponse, then applies
// quota-then-dedup to each in order, registering allowed signatures and
// incrementing counters (spec §4.5's filter()).
func (g *Governor) Filter(requests []ToolRequest) ([]ToolRequest, []BlockedRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(requests) > g.cfg.MaxPerResponse {
		requests = requests[:g.cfg.MaxPerResponse]
	}

	var allowed []ToolRequest
	var blocked []BlockedRequest

	for _, req := range requests {
		sig, err := model.ToolRequestSignature(req.Tool, req.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("toolgovernor: signature: %w", err)
		}

		if g.cfg.MaxPerRun > 0 && g.totalThisRun >= g.cfg.MaxPerRun {
			blocked = append(blocked, BlockedRequest{Request: req, Reason: "Tool call quota exhausted for this run"})
			continue
		}
		if g.cfg.DedupEnabled && g.seenSignatures[sig] {
			blocked = append(blocked, BlockedRequest{Request: req, Reason: fmt.Sprintf("Duplicate tool request (signature %s already seen)", sig[:12])})
			continue
		}

		g.seenSignatures[sig] = true
		g.totalThisRun++
		g.perToolCounts[req.Tool]++
		allowed = append(allowed, req)
	}

	return allowed, blocked, nil
}

// Stats returns counters and remaining quota (spec §4.5's stats()).
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	counts := make(map[string]int, len(g.perToolCounts))
	for k, v := range g.perToolCounts {
		counts[k] = v
	}
	remaining := -1
	if g.cfg.MaxPerRun > 0 {
		remaining = g.cfg.MaxPerRun - g.totalThisRun
		if remaining < 0 {
			remaining = 0
		}
	}
	return Stats{TotalThisRun: g.totalThisRun, PerToolCounts: counts, RemainingRun: remaining}
}
