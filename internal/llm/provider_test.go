package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
)

func TestOpenAIProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("unexpected model %v", body["model"])
		}
		if rf, ok := body["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
			t.Errorf("expected json_object response format, got %v", body["response_format"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"{\"risk_level\":\"Low\"}"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test", srv.URL+"/v1", time.Second)
	resp, err := p.Complete(context.Background(), Request{Model: "gpt-4o-mini", System: "s", Prompt: "p", JSON: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != `{"risk_level":"Low"}` || resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnthropicProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing auth headers")
		}
		var body anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.System != "sys" || len(body.Messages) != 1 || body.MaxTokens != anthropicDefaultMax {
			t.Errorf("unexpected body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"model":"claude","content":[{"type":"text","text":"{\"expanded_context\":"},{"type":"text","text":"\"x\"}"}],
"usage":{"input_tokens":7,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("anthropic", "key", srv.URL, time.Second, 0)
	resp, err := p.Complete(context.Background(), Request{Model: "claude", System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != `{"expanded_context":"x"}` || resp.InputTokens != 7 || resp.OutputTokens != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnthropicProviderSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("anthropic", "key", srv.URL, time.Second, 0)
	if _, err := p.Complete(context.Background(), Request{Model: "claude", Prompt: "hi"}); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestRouterUsesRoutingTableAndFallback(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai": {Type: "openai", APIKey: "k", Models: map[string]config.LLMModel{
				"small": {APIName: "gpt-4o-mini"},
			}},
			"anthropic": {Type: "anthropic", APIKey: "k", Models: map[string]config.LLMModel{
				"large": {APIName: "claude-sonnet", CostPer1K: 3, CostPer1KOutput: 15},
			}},
		},
		Routing: config.LLMRoutingConfig{Stepback: "large", Report: "missing", Fallback: "small"},
	}
	r, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if got := r.RouteFor("stepback"); got.Provider.Name() != "anthropic" || got.Model.APIName != "claude-sonnet" {
		t.Fatalf("stepback routed to %s/%s", got.Provider.Name(), got.Model.APIName)
	}
	if got := r.RouteFor("write_report"); got.Provider.Name() != "openai" {
		t.Fatalf("expected unresolved route to use fallback, got %s", got.Provider.Name())
	}
	if c := Cost(r.RouteFor("stepback").Model, 1000, 2000); c != 33 {
		t.Fatalf("unexpected cost %v", c)
	}
}
