// Package llm is the minimal model-calling layer the controller uses
// to turn one prompt string into one raw JSON response string at a
// chosen temperature. Grounded on the teacher's internal/llm/client.go
// architecture (ProviderAdapter interface, provider registry,
// canonical provider naming, ConfigurationError) generalized from its
// full multi-modal chat-completions surface down to the single-shot
// JSON-mode call the controller actually needs — ported from
// original_source/rfsn_controller/llm_gemini.py and llm_deepseek.py's
// call_model(model_input, temperature) -> dict contract.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// ProviderAdapter is one backing model provider.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is one model call: a fully-rendered prompt string (built by
// internal/prompt) plus the sampling temperature the controller wants
// for this attempt.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
}

// Response is the provider's raw JSON text, validated downstream by
// internal/modelproto.
type Response struct {
	Provider string
	Model    string
	RawJSON  string
}

// Client dispatches Complete calls to registered provider adapters by
// name.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
}

// NewClient constructs an empty Client.
func NewClient() *Client {
	return &Client{providers: map[string]ProviderAdapter{}}
}

// Register adds an adapter, making it the default if none is set yet.
func (c *Client) Register(adapter ProviderAdapter) {
	if c.providers == nil {
		c.providers = map[string]ProviderAdapter{}
	}
	c.providers[adapter.Name()] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = adapter.Name()
	}
}

// SetDefaultProvider overrides which registered provider Complete uses
// when the request does not name one via Model's provider prefix.
func (c *Client) SetDefaultProvider(name string) {
	c.defaultProvider = name
}

// ProviderNames lists every registered provider.
func (c *Client) ProviderNames() []string {
	out := make([]string, 0, len(c.providers))
	for k := range c.providers {
		out = append(out, k)
	}
	return out
}

// Complete routes req to the provider named by req.Model's "provider:model"
// prefix, or to the default provider if no prefix is present.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	providerName, modelName := splitModel(req.Model)
	if providerName == "" {
		providerName = c.defaultProvider
	}
	if providerName == "" {
		return Response{}, &ConfigurationError{Message: "no provider specified and no default provider configured"}
	}
	adapter, ok := c.providers[providerName]
	if !ok {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("unknown provider: %s", providerName)}
	}
	req.Model = modelName
	return adapter.Complete(ctx, req)
}

// splitModel parses "provider:model" into its parts; a model string
// with no colon returns an empty provider.
func splitModel(model string) (provider, name string) {
	if idx := strings.IndexByte(model, ':'); idx >= 0 {
		return model[:idx], model[idx+1:]
	}
	return "", model
}
