package llm

import (
	"context"
	"testing"
)

type fakeAdapter struct {
	name string
	resp Response
	err  error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
}

func TestClientRegisterSetsFirstAdapterAsDefault(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "gemini", resp: Response{Provider: "gemini", RawJSON: "{}"}})
	c.Register(&fakeAdapter{name: "deepseek", resp: Response{Provider: "deepseek", RawJSON: "{}"}})

	resp, err := c.Complete(context.Background(), Request{Model: "gemini-3.0-flash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "gemini" {
		t.Fatalf("expected default provider gemini, got %s", resp.Provider)
	}
}

func TestClientCompleteRoutesByProviderPrefix(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "gemini", resp: Response{Provider: "gemini", RawJSON: "{}"}})
	c.Register(&fakeAdapter{name: "deepseek", resp: Response{Provider: "deepseek", RawJSON: "{}"}})

	resp, err := c.Complete(context.Background(), Request{Model: "deepseek:deepseek-chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "deepseek" {
		t.Fatalf("expected deepseek provider, got %s", resp.Provider)
	}
}

func TestClientCompleteUnknownProviderErrors(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "gemini"})

	_, err := c.Complete(context.Background(), Request{Model: "openai:gpt-4"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestClientCompleteNoDefaultProviderErrors(t *testing.T) {
	c := NewClient()
	_, err := c.Complete(context.Background(), Request{Model: "gpt-4"})
	if err == nil {
		t.Fatal("expected error when no provider configured")
	}
}

func TestClientSetDefaultProviderOverridesFirstRegistered(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "gemini", resp: Response{Provider: "gemini"}})
	c.Register(&fakeAdapter{name: "deepseek", resp: Response{Provider: "deepseek"}})
	c.SetDefaultProvider("deepseek")

	resp, err := c.Complete(context.Background(), Request{Model: "deepseek-chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "deepseek" {
		t.Fatalf("expected deepseek via overridden default, got %s", resp.Provider)
	}
}

func TestClientProviderNamesListsRegistered(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "gemini"})
	c.Register(&fakeAdapter{name: "deepseek"})

	names := c.ProviderNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 providers, got %v", names)
	}
}

func TestClientCompletePropagatesAdapterError(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "gemini", err: &ConfigurationError{Message: "boom"}})

	_, err := c.Complete(context.Background(), Request{Model: "gemini-3.0-flash"})
	if err == nil {
		t.Fatal("expected propagated adapter error")
	}
}

func TestSplitModelParsesProviderPrefix(t *testing.T) {
	provider, name := splitModel("deepseek:deepseek-chat")
	if provider != "deepseek" || name != "deepseek-chat" {
		t.Fatalf("unexpected split: %q %q", provider, name)
	}
}

func TestSplitModelNoPrefixReturnsEmptyProvider(t *testing.T) {
	provider, name := splitModel("gemini-3.0-flash")
	if provider != "" || name != "gemini-3.0-flash" {
		t.Fatalf("unexpected split: %q %q", provider, name)
	}
}
