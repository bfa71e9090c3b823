package memory

import (
	"bufio"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/intentpolicy"
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/dawsonblock/rfsnctl/internal/parsers"
)

// IngestCounts reports how many rows one IngestEvidencePack call
// produced. A repeat ingest of the same pack returns the same counts
// here (the records are still "produced" from the pack's point of view)
// even though Record's event_hash dedup means the table itself grew by
// zero rows the second time.
type IngestCounts struct {
	ToolRecords  int
	PatchRecords int
	Packs        int
}

// IngestEvidencePack replays a historical evidence pack (the directory
// evidence.Export wrote: state.json, before.txt, run.jsonl, winner.diff)
// into ActionMemory. Ports ingest_evidence_pack: every tool_execution
// result recorded in run.jsonl becomes one tool_request row, and a
// non-empty winning diff becomes one patch row. Every row's created_ts is
// base_ts+localTs, where base_ts is this pack's entry in ingest_offsets —
// so re-running the same pack through this function reproduces the exact
// same created_ts/event_hash values and Record's INSERT OR IGNORE makes
// the re-ingest a no-op, satisfying spec §4.15's idempotent-ingest
// property. A pack missing state.json is not a pack this system wrote;
// it is skipped (zero counts), matching the original's tolerant reader.
func (s *Store) IngestEvidencePack(packDir string) (IngestCounts, error) {
	state, ok := readJSONObject(filepath.Join(packDir, "state.json"))
	if !ok {
		return IngestCounts{}, nil
	}
	beforeOutput := readTextTolerant(filepath.Join(packDir, "before.txt"))
	ctx := buildIngestContext(state, beforeOutput)

	packID := filepath.Base(strings.TrimRight(packDir, "/"))
	baseTS, err := s.getOrAssignPackBaseTS(packID)
	if err != nil {
		return IngestCounts{}, err
	}

	counts := IngestCounts{Packs: 1}
	localTS := int64(0)

	for _, rec := range iterJSONL(filepath.Join(packDir, "run.jsonl")) {
		if phase, _ := rec["phase"].(string); phase != "tool_execution" {
			continue
		}
		step := 0
		if sv, ok := rec["step"].(float64); ok {
			step = int(sv)
		}
		results, _ := rec["results"].([]any)
		for i, rv := range results {
			r, ok := rv.(map[string]any)
			if !ok {
				continue
			}
			tool, _ := r["tool"].(string)
			args, _ := r["args"].(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			result, _ := r["result"].(map[string]any)
			ok2, _ := result["ok"].(bool)
			outcome := model.OutcomeFail
			if ok2 {
				outcome = model.OutcomeSuccess
			}

			actionKey, err := model.ToolRequestSignature(tool, args)
			if err != nil {
				continue
			}
			actionJSON, err := json.Marshal(map[string]any{"tool": tool, "args": args})
			if err != nil {
				continue
			}
			score := ScoreAction(outcome, 0, 1, 0, 0)
			if err := s.Record(RecordInput{
				SourceRunID:      fmt.Sprintf("ingest:%s:step%d:tool%d", packID, step, i),
				Context:          ctx,
				ActionType:       model.ActionToolRequest,
				ActionKey:        actionKey,
				ActionJSON:       string(actionJSON),
				Outcome:          outcome,
				Score:            score,
				ConfidenceWeight: 1.0,
				CommandCount:     1,
				CreatedTs:        baseTS + localTS,
			}); err != nil {
				return counts, err
			}
			localTS++
			counts.ToolRecords++
		}
	}

	winnerDiff := readTextTolerant(filepath.Join(packDir, "winner.diff"))
	if strings.TrimSpace(winnerDiff) != "" {
		diffLines := model.DiffLineCount(winnerDiff)
		diffHash := sha256Hex(winnerDiff)
		actionJSON, _ := json.Marshal(map[string]any{"diff_hash": diffHash, "diff_lines": diffLines})
		score := ScoreAction(model.OutcomeSuccess, 0, 2, diffLines, 0)
		if err := s.Record(RecordInput{
			SourceRunID:      fmt.Sprintf("ingest:%s:winner", packID),
			Context:          ctx,
			ActionType:       model.ActionPatch,
			ActionKey:        diffHash,
			ActionJSON:       string(actionJSON),
			Outcome:          model.OutcomeSuccess,
			Score:            score,
			ConfidenceWeight: 1.0,
			CommandCount:     2,
			DiffLines:        diffLines,
			CreatedTs:        baseTS + localTS,
		}); err != nil {
			return counts, err
		}
		counts.PatchRecords++
	}

	return counts, nil
}

// getOrAssignPackBaseTS ports _get_or_assign_pack_base_ts: the first
// ingest of a pack_id stakes out created_ts starting just past the
// newest existing row; every later ingest of the same pack_id reuses
// that same base_ts.
func (s *Store) getOrAssignPackBaseTS(packID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing sql.NullInt64
	err := s.db.QueryRow("SELECT base_ts FROM ingest_offsets WHERE pack_id = ?", packID).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("memory: query ingest offset: %w", err)
	}
	if existing.Valid {
		return existing.Int64, nil
	}

	var newest sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(created_ts) FROM action_outcomes").Scan(&newest); err != nil {
		return 0, fmt.Errorf("memory: query newest created_ts: %w", err)
	}
	base := int64(1)
	if newest.Valid {
		base = newest.Int64 + 1
	}
	if _, err := s.db.Exec("INSERT OR REPLACE INTO ingest_offsets (pack_id, base_ts) VALUES (?, ?)", packID, base); err != nil {
		return 0, fmt.Errorf("memory: assign ingest offset: %w", err)
	}
	return base, nil
}

// buildIngestContext ports _build_context: derive a ContextSignature from
// a pack's state.json + before.txt the same way the live loop derives one
// from its in-memory state (engine/repair.go's buildContextSignature),
// substituting the pack's on-disk snapshot for live VerifyResult/decision
// state. attempt_bucket is always 0: a replayed pack has no live retry
// count to bucket.
func buildIngestContext(state map[string]any, beforeOutput string) model.ContextSignature {
	cfg, _ := state["config"].(map[string]any)
	if cfg == nil {
		cfg = map[string]any{}
	}
	projectType := firstNonEmptyString(state["project_type"], cfg["project_type"], "unknown")
	testCmd := firstNonEmptyString(state["effective_test_cmd"], cfg["test_cmd"], "pytest -q")

	failingTests := parsers.ParsePytestFailures(beforeOutput, 50)
	var failingTestFile string
	if len(failingTests) > 0 {
		failingTestFile = parsers.NormalizeTestPath(failingTests[0])
	}

	sig := parsers.ErrorSignature(beforeOutput, "")
	v := model.VerifyResult{OK: false, ExitCode: 1, Stdout: beforeOutput, FailingTests: failingTests, Sig: sig}
	decision := intentpolicy.Choose(testCmd, v)

	envJSON, _ := json.Marshal(map[string]any{
		"docker_image":     cfg["docker_image"],
		"unsafe_host_exec": boolField(cfg["unsafe_host_exec"]),
		"focus_timeout":    intField(cfg["focus_timeout"]),
		"full_timeout":     intField(cfg["full_timeout"]),
		"enable_sysdeps":   boolField(cfg["enable_sysdeps"]),
	})

	sigPrefix := sig
	if len(sigPrefix) > 12 {
		sigPrefix = sigPrefix[:12]
	}

	return model.ContextSignature{
		FailureClass:    decision.Intent,
		RepoType:        projectType,
		Language:        projectType,
		EnvFingerprint:  string(envJSON),
		AttemptBucket:   0,
		FailingTestFile: failingTestFile,
		SigPrefix:       sigPrefix,
		Stalled:         false,
	}
}

func firstNonEmptyString(vals ...any) string {
	for _, v := range vals {
		if sv, ok := v.(string); ok && sv != "" {
			return sv
		}
	}
	return ""
}

func boolField(v any) bool {
	b, _ := v.(bool)
	return b
}

func intField(v any) int {
	f, _ := v.(float64)
	return int(f)
}

// readJSONObject tolerantly reads a JSON object file, matching _read_json:
// a missing file, unreadable file, or non-object JSON all report ok=false
// rather than erroring.
func readJSONObject(path string) (map[string]any, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return v, true
}

// readTextTolerant matches _read_text: any read failure yields "".
func readTextTolerant(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

// iterJSONL matches _iter_jsonl: a missing file yields no records; a line
// that fails to parse as a JSON object is skipped, not fatal.
func iterJSONL(path string) []map[string]any {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// sha256Hex matches make_action_key_for_patch: sha256(diff or "").
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}
