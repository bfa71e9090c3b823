package deepseek

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dawsonblock/rfsnctl/internal/llm"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return &Adapter{apiKey: "test-key", host: srv.URL, httpClient: srv.Client()}, srv
}

func TestCompleteReturnsMessageContent(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header: %s", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"mode\":\"patch\",\"diff\":\"\"}"}}]}`))
	})
	defer srv.Close()

	resp, err := a.Complete(context.Background(), llm.Request{SystemPrompt: "sys", UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RawJSON != `{"mode":"patch","diff":""}` {
		t.Fatalf("unexpected RawJSON: %s", resp.RawJSON)
	}
}

func TestCompleteNoChoicesFallsBackToEmptyPatch(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	defer srv.Close()

	resp, err := a.Complete(context.Background(), llm.Request{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RawJSON != `{"mode":"patch","diff":""}` {
		t.Fatalf("expected fallback patch JSON, got %s", resp.RawJSON)
	}
}

func TestCompleteHTTPErrorStatusReturnsTypedError(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`invalid key`))
	})
	defer srv.Close()

	_, err := a.Complete(context.Background(), llm.Request{UserPrompt: "hi"})
	if err == nil {
		t.Fatal("expected error for 401 status")
	}
	if _, ok := err.(llm.Error); !ok {
		t.Fatalf("expected llm.Error, got %T", err)
	}
}

func TestCompleteAPIErrorBodyReturnsError(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"insufficient balance","type":"billing_error"}}`))
	})
	defer srv.Close()

	_, err := a.Complete(context.Background(), llm.Request{UserPrompt: "hi"})
	if err == nil {
		t.Fatal("expected error for embedded error body")
	}
}

func TestNewFromEnvErrorsWithoutAPIKey(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error when DEEPSEEK_API_KEY is unset")
	}
}

func TestCompleteDefaultsModelWhenUnset(t *testing.T) {
	var gotModel string
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		gotModel = body.Model
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	})
	defer srv.Close()

	if _, err := a.Complete(context.Background(), llm.Request{UserPrompt: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "deepseek-chat" {
		t.Fatalf("unexpected model: %s", gotModel)
	}
}
