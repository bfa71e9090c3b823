// Package model holds the data types shared across the controller (spec
// §3): Command, Diff, FailureInfo, VerifyResult, ContextSignature,
// ActionOutcomeRecord, ToolRequestSignature, Phase.
package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// ResourceCaps bounds a Command's execution resources.
type ResourceCaps struct {
	CPU      float64 `json:"cpu,omitempty"`
	MemMB    int     `json:"mem_mb,omitempty"`
	Pids     int     `json:"pids,omitempty"`
	ReadOnly bool    `json:"read_only,omitempty"`
}

// Command is the only unit of work the Executor accepts: an argv vector,
// never a shell string (spec §3).
type Command struct {
	Argv           []string     `json:"argv"`
	Cwd            string       `json:"cwd,omitempty"`
	TimeoutSec     int          `json:"timeout_sec"`
	NetworkAllowed bool         `json:"network_allowed"`
	ResourceCaps   ResourceCaps `json:"resource_caps"`
	// Phase is metadata for the command log (spec §6), not consulted by
	// the executor itself.
	Phase string `json:"phase,omitempty"`
}

func (c Command) String() string {
	b, _ := json.Marshal(c.Argv)
	return string(b)
}

// Phase enumerates the controller loop's state machine (spec §3, §4.11).
type Phase string

const (
	PhaseIngest      Phase = "INGEST"
	PhaseDetect      Phase = "DETECT"
	PhaseSetup       Phase = "SETUP"
	PhaseBaseline    Phase = "BASELINE"
	PhaseRepairLoop  Phase = "REPAIR_LOOP"
	PhaseFinalVerify Phase = "FINAL_VERIFY"
	PhaseEvidence    Phase = "EVIDENCE_PACK"
	PhaseBailout     Phase = "BAILOUT"
)

// PhaseTransition records a {from, to, reason} logged transition.
type PhaseTransition struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// FailureInfo is opaque to the core and populated by a buildpack.
type FailureInfo struct {
	FailingTests []string `json:"failing_tests"`
	LikelyFiles  []string `json:"likely_files"`
	Signature    string   `json:"signature"`
	ErrorType    string   `json:"error_type,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// VerifyResult is the outcome of running a test/verification command.
type VerifyResult struct {
	OK           bool     `json:"ok"`
	ExitCode     int      `json:"exit_code"`
	Stdout       string   `json:"stdout"`
	Stderr       string   `json:"stderr"`
	FailingTests []string `json:"failing_tests"`
	Sig          string   `json:"sig"`
}

// ContextSignature is the input to ActionMemory.queryPriors (spec §3,
// §4.15). Canonicalised to sorted-key JSON, hashed with SHA-256.
type ContextSignature struct {
	FailureClass    string `json:"failure_class"`
	RepoType        string `json:"repo_type"`
	Language        string `json:"language"`
	EnvFingerprint  string `json:"env_fingerprint"`
	AttemptBucket   int    `json:"attempt_bucket"` // 0..9
	FailingTestFile string `json:"failing_test_file,omitempty"`
	SigPrefix       string `json:"sig_prefix,omitempty"`
	Stalled         bool   `json:"stalled"`
}

// Hash returns sha256(sorted-key JSON(ContextSignature)).
func (c ContextSignature) Hash() (string, error) {
	b, err := canonicalJSON(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

// canonicalJSON marshals v to JSON with map keys sorted (encoding/json
// already sorts map[string]X keys; struct field order is declaration
// order, which is stable).
func canonicalJSON(v any) ([]byte, error) {
	// Round-trip through a generic map so that any nested maps are
	// guaranteed sorted-key (defensive; struct-only inputs already sort).
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ActionType enumerates ActionOutcomeRecord.ActionType.
type ActionType string

const (
	ActionToolRequest ActionType = "tool_request"
	ActionPatch       ActionType = "patch"
)

// Outcome enumerates ActionOutcomeRecord.Outcome.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFail    Outcome = "fail"
	OutcomeBlocked Outcome = "blocked"
)

// Value maps an Outcome to the numeric value used in scoring and
// prior aggregation (spec §4.15): success=1.0, partial=0.5, else 0.0.
func (o Outcome) Value() float64 {
	switch o {
	case OutcomeSuccess:
		return 1.0
	case OutcomePartial:
		return 0.5
	default:
		return 0.0
	}
}

// ActionOutcomeRecord is one row in the ActionMemory store (spec §3).
type ActionOutcomeRecord struct {
	EventHash       string     `json:"event_hash"`
	SourceRunID     string     `json:"source_run_id"`
	CreatedTs       int64      `json:"created_ts"`
	ContextHash     string     `json:"context_hash"`
	FailureClass    string     `json:"failure_class"`
	RepoType        string     `json:"repo_type"`
	Language        string     `json:"language"`
	EnvFingerprint  string     `json:"env_fingerprint"`
	AttemptBucket   int        `json:"attempt_bucket"`
	FailingTestFile string     `json:"failing_test_file,omitempty"`
	SigPrefix       string     `json:"sig_prefix,omitempty"`
	Stalled         bool       `json:"stalled"`
	ActionType      ActionType `json:"action_type"`
	ActionKey       string     `json:"action_key"`
	ActionJSON      string     `json:"action_json"`
	OutcomeStatus   Outcome    `json:"outcome"`
	Score           float64    `json:"score"`
	ConfidenceWeight float64   `json:"confidence_weight"`
	ExecTimeMs      int64      `json:"exec_time_ms"`
	CommandCount    int        `json:"command_count"`
	DiffLines       int        `json:"diff_lines"`
	Regressions     int        `json:"regressions"`
}

// EventHash computes sha256({createdTs, contextHash, actionType,
// actionKey, sourceRunId}), the ActionOutcomeRecord uniqueness key.
func EventHash(createdTs int64, contextHash string, actionType ActionType, actionKey, sourceRunID string) (string, error) {
	payload := map[string]any{
		"created_ts":    createdTs,
		"context_hash":  contextHash,
		"action_type":   string(actionType),
		"action_key":    actionKey,
		"source_run_id": sourceRunID,
	}
	b, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

// ToolRequestSignature computes sha256(tool || sortedJSON(args)),
// independent of key order (spec §3).
func ToolRequestSignature(tool string, args map[string]any) (string, error) {
	b, err := canonicalJSON(args)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// SortedKeys returns the sorted keys of a string-keyed map, a small
// helper used by several components that need deterministic iteration.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
