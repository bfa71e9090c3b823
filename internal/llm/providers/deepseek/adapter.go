// Package deepseek adapts DeepSeek's OpenAI-compatible chat completions
// endpoint to llm.ProviderAdapter. Grounded on
// original_source/rfsn_controller/llm_deepseek.py's client()/call_model,
// reworked from the openai SDK call into a raw net/http request in the
// same style as the gemini adapter alongside it.
package deepseek

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
	ProviderName = "deepseek"
	defaultModel = "deepseek-chat"
	defaultHost  = "https://api.deepseek.com"
)

// Adapter calls DeepSeek's /chat/completions endpoint with
// response_format={"type":"json_object"} so the controller's
// JSON-shaped agent contract comes back without markdown fencing.
type Adapter struct {
	apiKey     string
	host       string
	httpClient *http.Client
}

// NewFromEnv constructs an Adapter reading DEEPSEEK_API_KEY, mirroring
// llm_deepseek.py's client() factory, which raises if it is unset.
func NewFromEnv() (*Adapter, error) {
	key := os.Getenv("DEEPSEEK_API_KEY")
	if key == "" {
		return nil, &llm.ConfigurationError{Message: "DEEPSEEK_API_KEY is not set"}
	}
	return &Adapter{
		apiKey:     key,
		host:       defaultHost,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Name implements llm.ProviderAdapter.
func (a *Adapter) Name() string { return ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete implements llm.ProviderAdapter. It posts the system and
// user prompt as a two-message chat completion and returns the raw
// JSON text of the assistant's reply — validated downstream by
// internal/modelproto, never here.
func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	body := chatCompletionsRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    req.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("deepseek: marshal request: %w", err)
	}

	url := a.host + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, fmt.Errorf("deepseek: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("deepseek: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("deepseek: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return llm.Response{}, llm.ErrorFromHTTPStatus(ProviderName, resp.StatusCode, string(raw), raw, nil)
	}

	var parsed chatCompletionsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return llm.Response{}, fmt.Errorf("deepseek: decode response: %w", err)
	}
	if parsed.Error != nil {
		return llm.Response{}, fmt.Errorf("deepseek: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		// Mirrors call_model's fallback to an empty patch when the
		// response has no content to parse.
		return llm.Response{Provider: ProviderName, Model: model, RawJSON: `{"mode":"patch","diff":""}`}, nil
	}

	return llm.Response{Provider: ProviderName, Model: model, RawJSON: parsed.Choices[0].Message.Content}, nil
}

// Register constructs an Adapter from the environment and registers it
// with client if DEEPSEEK_API_KEY is set.
func Register(client *llm.Client) error {
	adapter, err := NewFromEnv()
	if err != nil {
		return err
	}
	client.Register(adapter)
	return nil
}
