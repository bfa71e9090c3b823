// Package modelproto validates the model's raw JSON response against
// the three shapes the controller understands — tool_request, patch,
// feature_summary — and synthesizes a safe tool_request fallback on
// any deviation. Grounded on
// original_source/rfsn_controller/model_validator.py.
package modelproto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/commandpolicy"
	"github.com/dawsonblock/rfsnctl/internal/model"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchemaSrc holds the structural shape of each mode's JSON
// envelope (required keys, field types) as raw JSON Schema text. It
// runs before the semantic checks below (non-empty diff, known tool
// names, commandpolicy argv checks) so a malformed envelope is
// rejected with a schema error instead of a nil-map panic deeper in.
var envelopeSchemaSrc = map[Mode]string{
	ModeToolRequest: `{
		"type": "object",
		"required": ["mode", "requests"],
		"properties": {
			"requests": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["tool"],
					"properties": {"tool": {"type": "string", "minLength": 1}}
				}
			}
		}
	}`,
	ModePatch: `{
		"type": "object",
		"required": ["mode", "diff"],
		"properties": {"diff": {"type": "string", "minLength": 1}}
	}`,
	ModeFeatureSummary: `{
		"type": "object",
		"required": ["mode", "summary", "completion_status"],
		"properties": {
			"summary": {"type": "string", "minLength": 1},
			"completion_status": {"type": "string", "enum": ["complete", "partial", "blocked", "in_progress"]}
		}
	}`,
}

// envelopeSchemas compiles each envelopeSchemaSrc entry once at package
// init, following the teacher's compileSchema (internal/agent/tool_registry.go):
// a fresh compiler per schema, fed through AddResource then Compile.
var envelopeSchemas = compileEnvelopeSchemas()

func compileEnvelopeSchemas() map[Mode]*jsonschema.Schema {
	out := make(map[Mode]*jsonschema.Schema, len(envelopeSchemaSrc))
	for mode, src := range envelopeSchemaSrc {
		c := jsonschema.NewCompiler()
		url := string(mode) + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("modelproto: invalid envelope schema for %s: %v", mode, err))
		}
		schema, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("modelproto: compile envelope schema for %s: %v", mode, err))
		}
		out[mode] = schema
	}
	return out
}

// Mode identifies which of the three response shapes was validated.
type Mode string

const (
	ModeToolRequest    Mode = "tool_request"
	ModePatch          Mode = "patch"
	ModeFeatureSummary Mode = "feature_summary"
)

// ToolRequest is one requested sandbox tool invocation.
type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Output is the validated, normalized model response. On any
// validation failure it is a synthetic tool_request fallback asking
// to read README.md, with IsValid=false and ValidationError set.
type Output struct {
	Mode             Mode
	Requests         []ToolRequest
	Diff             string
	Why              string
	Summary          string
	CompletionStatus string
	IsValid          bool
	ValidationError  string
}

var validCompletionStatuses = map[string]bool{
	"complete": true, "partial": true, "blocked": true, "in_progress": true,
}

func fallback(why, validationError string) Output {
	return Output{
		Mode:            ModeToolRequest,
		Requests:        []ToolRequest{{Tool: "sandbox.read_file", Args: map[string]any{"path": "README.md"}}},
		Why:             why,
		IsValid:         false,
		ValidationError: validationError,
	}
}

// Validate parses and validates a raw model response string.
func Validate(raw string) Output {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fallback("Requesting clarification due to invalid JSON output", fmt.Sprintf("invalid JSON: %v", err))
	}

	mode, _ := data["mode"].(string)
	schema, known := envelopeSchemas[Mode(mode)]
	if !known {
		return fallback("Requesting clarification due to unknown mode", fmt.Sprintf("unknown mode: %v", mode))
	}
	if err := schema.Validate(data); err != nil {
		return fallback(fmt.Sprintf("Requesting clarification due to invalid %s envelope", mode), err.Error())
	}

	switch Mode(mode) {
	case ModeToolRequest:
		return validateToolRequest(data)
	case ModePatch:
		return validatePatch(data)
	default:
		return validateFeatureSummary(data)
	}
}

func validateToolRequest(data map[string]any) Output {
	why, _ := data["why"].(string)
	rawRequests, ok := data["requests"].([]any)
	if !ok {
		return fallback("Requesting clarification due to invalid requests format", "requests must be a list")
	}
	if len(rawRequests) == 0 {
		return fallback("Requesting clarification due to empty requests", "requests cannot be empty")
	}

	requests := make([]ToolRequest, 0, len(rawRequests))
	for i, r := range rawRequests {
		reqMap, ok := r.(map[string]any)
		if !ok {
			return fallback("Requesting clarification due to invalid request format", fmt.Sprintf("request %d must be a dict", i))
		}
		tool, ok := reqMap["tool"].(string)
		if !ok || tool == "" {
			return fallback("Requesting clarification due to missing tool field", fmt.Sprintf("request %d missing 'tool' field", i))
		}
		args, _ := reqMap["args"].(map[string]any)
		if cmd, ok := args["cmd"].(string); ok {
			if d := commandpolicy.CheckText(cmd); !d.Allowed {
				return fallback(
					"Requesting argv-only commands: pass args as a literal argv list, shell=False — "+d.Reason,
					fmt.Sprintf("request %d cmd rejected: %s", i, d.Reason),
				)
			}
		}
		requests = append(requests, ToolRequest{Tool: tool, Args: args})
	}

	return Output{Mode: ModeToolRequest, Requests: requests, Why: why, IsValid: true}
}

func validatePatch(data map[string]any) Output {
	diff, _ := data["diff"].(string)
	if strings.TrimSpace(diff) == "" {
		return fallback("Requesting clarification due to empty diff", "diff cannot be empty")
	}
	if !model.LooksLikeUnifiedDiff(diff) {
		return fallback("Requesting clarification due to invalid diff format", "diff missing file markers or hunks")
	}
	return Output{Mode: ModePatch, Diff: diff, IsValid: true}
}

func validateFeatureSummary(data map[string]any) Output {
	summary, _ := data["summary"].(string)
	completionStatus, _ := data["completion_status"].(string)
	if strings.TrimSpace(summary) == "" {
		return fallback("Requesting clarification due to empty summary", "summary cannot be empty")
	}
	if !validCompletionStatuses[completionStatus] {
		return fallback("Requesting clarification due to invalid completion_status", fmt.Sprintf("invalid completion_status: %s", completionStatus))
	}
	return Output{Mode: ModeFeatureSummary, Summary: summary, CompletionStatus: completionStatus, IsValid: true}
}

// ValidateWithRetry validates output and, if invalid and maxRetries
// allows it, returns a fresh fallback tagged with the original
// validation error (mirrors validate_with_retry's temp-0 retry path,
// which in this port is just a relabeled fallback since the actual
// re-query happens one layer up in the controller loop).
func ValidateWithRetry(raw string, maxRetries int) Output {
	result := Validate(raw)
	if result.IsValid || maxRetries == 0 {
		return result
	}
	return fallback(result.Why, result.ValidationError)
}
