package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/huangang/ideaminer/backend/internal/config"
)

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]ChatMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "complaint"},
		{Role: "system", Content: "answer in JSON"},
	})

	if system != "be terse\nanswer in JSON" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "complaint" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestNewLLMProvider_Selection(t *testing.T) {
	tests := []struct {
		provider string
		expected string
	}{
		{provider: "", expected: "openai"},
		{provider: "openai", expected: "openai"},
		{provider: "azure", expected: "azure"},
		{provider: "anthropic", expected: "anthropic"},
		{provider: "ollama", expected: "ollama"},
		{provider: "deepseek", expected: "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.LLMConfig{Provider: tt.provider, BaseURL: "http://127.0.0.1:1", APIKey: "test", Model: "m"}
			p, err := NewLLMProvider(cfg)
			if err != nil {
				t.Fatalf("NewLLMProvider() error = %v", err)
			}
			if p.Name() != tt.expected {
				t.Errorf("Name() = %q, expected %q", p.Name(), tt.expected)
			}
		})
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"idea\":\"x\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 80, "total_tokens": 200}
		}`))
	}))
	defer srv.Close()

	p := newOpenAIProvider(&config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Model:     "gpt-test",
		Messages:  []ChatMessage{{Role: "user", Content: "hello"}},
		MaxTokens: 200,
		ForceJSON: true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Content != `{"idea":"x"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 200 || resp.Usage.PromptTokens != 120 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if format, _ := got["response_format"].(map[string]any); format["type"] != "json_object" {
		t.Errorf("response_format = %v, expected json_object", got["response_format"])
	}
}

func TestOpenAIProvider_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	p := newOpenAIProvider(&config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "gpt-test", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("error = %v, expected *RateLimitError", err)
	}
	if rlErr.Provider != "openai" {
		t.Errorf("Provider = %q, expected openai", rlErr.Provider)
	}
}
