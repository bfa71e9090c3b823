// Package gemini adapts the Gemini generateContent REST endpoint to
// llm.ProviderAdapter. Grounded on
// original_source/rfsn_controller/llm_gemini.py's client()/call_model,
// reworked from the google-genai SDK call into a raw net/http request
// the way the teacher's providers/google adapter talks to the same API
// surface without an SDK dependency.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dawsonblock/rfsnctl/internal/llm"
)

const (
	// ProviderName is the key this adapter registers under and the
	// prefix used in "provider:model" request strings.
	ProviderName = "gemini"
	defaultModel = "gemini-3.0-flash"
	defaultHost  = "https://generativelanguage.googleapis.com"
)

// Adapter calls the Gemini generateContent endpoint with
// response_mime_type=application/json so the controller's JSON-shaped
// agent contract comes back without markdown fencing.
type Adapter struct {
	apiKey     string
	host       string
	httpClient *http.Client
}

// NewFromEnv constructs an Adapter reading GEMINI_API_KEY (falling
// back to GOOGLE_API_KEY), mirroring llm_gemini.py's client() factory,
// which raises if neither is set.
func NewFromEnv() (*Adapter, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		return nil, &llm.ConfigurationError{Message: "GEMINI_API_KEY (or GOOGLE_API_KEY) is not set"}
	}
	return &Adapter{
		apiKey:     key,
		host:       defaultHost,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Name implements llm.ProviderAdapter.
func (a *Adapter) Name() string { return ProviderName }

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete implements llm.ProviderAdapter. It posts the rendered
// system and user prompt as a single-turn generateContent call and
// returns the model's raw JSON text as Response.RawJSON — validated
// downstream by internal/modelproto, never here.
func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	body := generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: req.UserPrompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:      req.Temperature,
			ResponseMIMEType: "application/json",
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.host, model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return llm.Response{}, llm.ErrorFromHTTPStatus(ProviderName, resp.StatusCode, string(raw), raw, nil)
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return llm.Response{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if parsed.Error != nil {
		return llm.Response{}, llm.ErrorFromHTTPStatus(ProviderName, parsed.Error.Code, parsed.Error.Message, raw, nil)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		// Mirrors call_model's fallback to an empty patch on parse
		// failure: hand back a minimally-valid patch JSON
		// rather than erroring the whole step.
		return llm.Response{Provider: ProviderName, Model: model, RawJSON: `{"mode":"patch","diff":""}`}, nil
	}

	return llm.Response{Provider: ProviderName, Model: model, RawJSON: parsed.Candidates[0].Content.Parts[0].Text}, nil
}

// Register constructs an Adapter from the environment and registers it
// with client if GEMINI_API_KEY or GOOGLE_API_KEY is set. Unlike the
// teacher's providers/google package, this is NOT run from an init()
// blank import: the controller decides which providers to wire from
// its own config, so callers invoke Register explicitly from
// cmd/rfsnctl's provider wiring.
func Register(client *llm.Client) error {
	adapter, err := NewFromEnv()
	if err != nil {
		return err
	}
	client.Register(adapter)
	return nil
}
