package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huangang/ideaminer/backend/internal/config"
)

const validIdeaJSON = `{"idea":"Autosave-first editor that never loses work","score_market":8,"score_tech":6,"score_competition":4,"score_monetisation":7,"score_feasibility":9,"score_overall":7}`

type fakeProvider struct {
	mu       sync.Mutex
	requests []*CompletionRequest
	respond  func(req *CompletionRequest) (*CompletionResponse, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func staticResponse(content string, tokens int) func(*CompletionRequest) (*CompletionResponse, error) {
	return func(*CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{
			Content: content,
			Model:   "gpt-3.5-turbo",
			Usage:   TokenUsage{PromptTokens: tokens - 50, CompletionTokens: 50, TotalTokens: tokens},
		}, nil
	}
}

func newTestGenerator(p LLMProvider) *IdeaGenerator {
	cfg := config.DefaultConfig().LLM
	cfg.PromptFile = ""
	g := NewIdeaGenerator(p, &cfg, 0.002)
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g
}

func TestIdeaGenerator_Generate(t *testing.T) {
	p := &fakeProvider{respond: staticResponse(validIdeaJSON, 450)}
	g := newTestGenerator(p)

	result, err := g.Generate(context.Background(), "This app keeps crashing when I try to save my work")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.TokensUsed != 450 {
		t.Errorf("TokensUsed = %d, expected 450", result.TokensUsed)
	}
	expected := IdeaScores{Market: 8, Tech: 6, Competition: 4, Monetisation: 7, Feasibility: 9, Overall: 7}
	if result.Scores != expected {
		t.Errorf("Scores = %+v, expected %+v", result.Scores, expected)
	}
	if result.Idea != "Autosave-first editor that never loses work" {
		t.Errorf("Idea = %q", result.Idea)
	}
	if result.RawResponse["content"] != validIdeaJSON || result.RawResponse["model"] != "gpt-3.5-turbo" {
		t.Errorf("RawResponse = %v", result.RawResponse)
	}

	req := p.requests[0]
	if !req.ForceJSON || req.MaxTokens != 200 || req.Temperature != 0.7 || req.Model != "gpt-3.5-turbo" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "This app keeps crashing when I try to save my work") {
		t.Error("prompt should contain the complaint text")
	}
	if strings.Contains(req.Messages[1].Content, "{complaint_text}") {
		t.Error("placeholder should be substituted")
	}
}

func TestIdeaGenerator_GenerateShortInput(t *testing.T) {
	p := &fakeProvider{respond: staticResponse(validIdeaJSON, 100)}
	g := newTestGenerator(p)

	_, err := g.Generate(context.Background(), "   too short  ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, expected *ValidationError", err)
	}
	if len(p.requests) != 0 {
		t.Error("provider should not be called for invalid input")
	}
}

func TestParseIdeaResponse(t *testing.T) {
	withScore := func(v string) string {
		return fmt.Sprintf(`{"idea":"x y z","score_market":%s,"score_tech":5,"score_competition":5,"score_monetisation":5,"score_feasibility":5,"score_overall":5}`, v)
	}

	tests := []struct {
		name      string
		content   string
		wantErr   error
		wantField string
	}{
		{name: "valid", content: validIdeaJSON},
		{name: "score upper bound", content: withScore("10")},
		{name: "score lower bound", content: withScore("1")},
		{name: "score too high", content: withScore("11"), wantField: "score_market"},
		{name: "score zero", content: withScore("0"), wantField: "score_market"},
		{name: "score float", content: withScore("7.5"), wantField: "score_market"},
		{name: "score float integral", content: withScore("7.0"), wantField: "score_market"},
		{name: "score string", content: withScore(`"7"`), wantField: "score_market"},
		{name: "score bool", content: withScore("true"), wantField: "score_market"},
		{name: "missing overall", content: `{"idea":"x","score_market":5,"score_tech":5,"score_competition":5,"score_monetisation":5,"score_feasibility":5}`, wantField: "score_overall"},
		{name: "missing idea", content: `{"score_market":5,"score_tech":5,"score_competition":5,"score_monetisation":5,"score_feasibility":5,"score_overall":5}`, wantField: "idea"},
		{name: "idea not string", content: `{"idea":3,"score_market":5,"score_tech":5,"score_competition":5,"score_monetisation":5,"score_feasibility":5,"score_overall":5}`, wantField: "idea"},
		{name: "empty idea", content: `{"idea":"   ","score_market":5,"score_tech":5,"score_competition":5,"score_monetisation":5,"score_feasibility":5,"score_overall":5}`, wantErr: ErrEmptyIdea},
		{name: "not json", content: "Here is your idea: build an app", wantErr: ErrInvalidJSON},
		{name: "json array", content: `[1,2,3]`, wantErr: ErrInvalidJSON},
		{name: "trailing text", content: validIdeaJSON + " trailing garbage", wantErr: ErrInvalidJSON},
		{name: "second object", content: validIdeaJSON + `{"idea":"again"}`, wantErr: ErrInvalidJSON},
		{name: "trailing whitespace", content: validIdeaJSON + "\n  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseIdeaResponse(tt.content)
			switch {
			case tt.wantField != "":
				var sErr *SchemaError
				if !errors.As(err, &sErr) {
					t.Fatalf("error = %v, expected *SchemaError", err)
				}
				if sErr.Field != tt.wantField {
					t.Errorf("Field = %q, expected %q", sErr.Field, tt.wantField)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, expected %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestParseIdeaResponse_LongIdeaAccepted(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 50))
	content := fmt.Sprintf(`{"idea":%q,"score_market":5,"score_tech":5,"score_competition":5,"score_monetisation":5,"score_feasibility":5,"score_overall":5}`, long)

	idea, _, err := ParseIdeaResponse(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idea != long {
		t.Error("long idea should be returned unchanged")
	}
}

func TestIdeaGenerator_RateLimitCooldownThenPropagates(t *testing.T) {
	rateErr := &RateLimitError{Provider: "fake", Err: errors.New("429")}
	p := &fakeProvider{respond: func(*CompletionRequest) (*CompletionResponse, error) { return nil, rateErr }}
	g := newTestGenerator(p)

	var slept []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := g.Generate(context.Background(), "The checkout flow fails every single time")
	if !errors.Is(err, rateErr) {
		t.Errorf("error = %v, expected the rate limit error", err)
	}
	if len(slept) != 1 || slept[0] != 60*time.Second {
		t.Errorf("sleeps = %v, expected [60s]", slept)
	}
	if len(p.requests) != 1 {
		t.Errorf("requests = %d, expected a single call", len(p.requests))
	}
}

func TestIdeaGenerator_OtherProviderErrorUnchanged(t *testing.T) {
	providerErr := errors.New("upstream exploded")
	p := &fakeProvider{respond: func(*CompletionRequest) (*CompletionResponse, error) { return nil, providerErr }}
	g := newTestGenerator(p)

	_, err := g.Generate(context.Background(), "The checkout flow fails every single time")
	if err != providerErr {
		t.Errorf("error = %v, expected provider error unchanged", err)
	}
}

func TestIdeaGenerator_TokenCounter(t *testing.T) {
	p := &fakeProvider{respond: staticResponse(validIdeaJSON, 500)}
	g := newTestGenerator(p)

	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), "Notifications arrive hours late on android"); err != nil {
			t.Fatal(err)
		}
	}
	if g.TotalTokens() != 1000 {
		t.Errorf("TotalTokens = %d, expected 1000", g.TotalTokens())
	}
	if got := g.TotalCost(); got < 0.00199 || got > 0.00201 {
		t.Errorf("TotalCost = %v, expected 0.002", got)
	}
	if got := g.EstimateCost(1500); got < 0.00299 || got > 0.00301 {
		t.Errorf("EstimateCost(1500) = %v, expected 0.003", got)
	}

	g.ResetTokenCounter()
	if g.TotalTokens() != 0 {
		t.Errorf("TotalTokens after reset = %d, expected 0", g.TotalTokens())
	}
}

func TestIdeaGenerator_BatchGenerate(t *testing.T) {
	var inFlight, peak int32
	p := &fakeProvider{respond: func(req *CompletionRequest) (*CompletionResponse, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		if strings.Contains(req.Messages[1].Content, "broken output") {
			return &CompletionResponse{Content: "not json", Usage: TokenUsage{TotalTokens: 10}}, nil
		}
		return staticResponse(validIdeaJSON, 300)(req)
	}}
	g := newTestGenerator(p)

	inputs := []string{
		"The calendar sync duplicates every event",
		"short",
		"This prompt yields broken output from the model",
		"Battery drains overnight with the app closed",
		"Search ignores accented characters completely",
	}
	items := g.BatchGenerate(context.Background(), inputs, 2)

	if len(items) != len(inputs) {
		t.Fatalf("items = %d, expected %d", len(items), len(inputs))
	}
	for i, it := range items {
		if it.Input != inputs[i] {
			t.Errorf("items[%d].Input = %q, expected input order", i, it.Input)
		}
	}

	var vErr *ValidationError
	if !errors.As(items[1].Err, &vErr) {
		t.Errorf("items[1].Err = %v, expected *ValidationError", items[1].Err)
	}
	if !errors.Is(items[2].Err, ErrInvalidJSON) {
		t.Errorf("items[2].Err = %v, expected ErrInvalidJSON", items[2].Err)
	}
	for _, i := range []int{0, 3, 4} {
		if items[i].Err != nil || items[i].Result == nil {
			t.Errorf("items[%d] = %+v, expected success", i, items[i])
		}
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, expected <= 2", peak)
	}
}

func TestLoadPromptTemplate(t *testing.T) {
	dir := t.TempDir()

	custom := filepath.Join(dir, "custom.txt")
	os.WriteFile(custom, []byte("Idea for: {complaint_text}"), 0644)
	noPlaceholder := filepath.Join(dir, "bad.txt")
	os.WriteFile(noPlaceholder, []byte("Give me an idea"), 0644)

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "empty path", path: "", expected: DefaultIdeaPrompt},
		{name: "missing file", path: filepath.Join(dir, "nope.txt"), expected: DefaultIdeaPrompt},
		{name: "custom file", path: custom, expected: "Idea for: {complaint_text}"},
		{name: "no placeholder", path: noPlaceholder, expected: DefaultIdeaPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LoadPromptTemplate(tt.path); got != tt.expected {
				t.Errorf("LoadPromptTemplate(%q) = %q", tt.path, got)
			}
		})
	}
}
