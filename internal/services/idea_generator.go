package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	minComplaintLen       = 10
	maxIdeaWords          = 35
	defaultRateLimitPause = 60 * time.Second
	ideaSystemMessage     = "You are a startup advisor who responds only with valid JSON."
	complaintPlaceholder  = "{complaint_text}"
)

const DefaultIdeaPrompt = `Analyze this user complaint and generate a startup idea that solves the problem.

Complaint: "{complaint_text}"

Respond with a JSON object in exactly this format:
{
  "idea": "A concise startup idea (max 35 words)",
  "score_market": 7,
  "score_tech": 6,
  "score_competition": 5,
  "score_monetisation": 8,
  "score_feasibility": 7,
  "score_overall": 7
}

Scoring criteria (1-10, integers only):
- score_market: size and urgency of the market need
- score_tech: technical complexity (10 = easy to build)
- score_competition: competitive landscape (10 = little competition)
- score_monetisation: revenue potential
- score_feasibility: how realistic it is for a small team to execute
- score_overall: overall attractiveness of the opportunity`

// ideaScoreFields lists the score keys in validation order.
var ideaScoreFields = []string{
	"score_market",
	"score_tech",
	"score_competition",
	"score_monetisation",
	"score_feasibility",
	"score_overall",
}

var (
	ErrInvalidJSON = errors.New("model response is not valid JSON")
	ErrEmptyIdea   = errors.New("idea text is empty")
)

// ValidationError rejects an input before any provider call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SchemaError names the response field that broke the output contract.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

type IdeaScores struct {
	Market       int `json:"score_market"`
	Tech         int `json:"score_tech"`
	Competition  int `json:"score_competition"`
	Monetisation int `json:"score_monetisation"`
	Feasibility  int `json:"score_feasibility"`
	Overall      int `json:"score_overall"`
}

type IdeaResult struct {
	Idea        string                 `json:"idea"`
	Scores      IdeaScores             `json:"scores"`
	TokensUsed  int                    `json:"tokens_used"`
	Usage       TokenUsage             `json:"usage"`
	Model       string                 `json:"model"`
	LatencyMs   int64                  `json:"latency_ms"`
	RawResponse map[string]interface{} `json:"raw_response"`
}

type BatchItem struct {
	Input  string
	Result *IdeaResult
	Err    error
}

// IdeaGenerator asks an LLM for one scored startup idea per complaint and
// keeps a running token total.
type IdeaGenerator struct {
	provider    LLMProvider
	model       string
	maxTokens   int
	temperature float64
	template    string
	costPer1K   float64
	cooldown    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	totalTokens int
}

func NewIdeaGenerator(provider LLMProvider, cfg *config.LLMConfig, costPer1K float64) *IdeaGenerator {
	return &IdeaGenerator{
		provider:    provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		template:    LoadPromptTemplate(cfg.PromptFile),
		costPer1K:   costPer1K,
		cooldown:    defaultRateLimitPause,
		sleep:       sleepContext,
	}
}

// LoadPromptTemplate reads the prompt file, falling back to the built-in
// template when the file is missing or lacks the complaint placeholder.
func LoadPromptTemplate(path string) string {
	if path == "" {
		return DefaultIdeaPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Debug().Str("path", path).Msg("[IdeaGen] prompt file not found, using default template")
		return DefaultIdeaPrompt
	}
	tmpl := string(data)
	if !strings.Contains(tmpl, complaintPlaceholder) {
		logger.Warnf("[IdeaGen] Prompt file %s has no %s placeholder, using default template", path, complaintPlaceholder)
		return DefaultIdeaPrompt
	}
	return tmpl
}

func (g *IdeaGenerator) Model() string { return g.model }

func (g *IdeaGenerator) ProviderName() string { return g.provider.Name() }

// Generate produces one idea for complaint. A provider rate limit pauses
// for the cooldown and is then returned to the caller.
func (g *IdeaGenerator) Generate(ctx context.Context, complaint string) (*IdeaResult, error) {
	text := strings.TrimSpace(complaint)
	if len([]rune(text)) < minComplaintLen {
		return nil, &ValidationError{Message: fmt.Sprintf("complaint text must be at least %d characters", minComplaintLen)}
	}

	prompt := strings.ReplaceAll(g.template, complaintPlaceholder, text)
	start := time.Now()
	resp, err := g.provider.Complete(ctx, &CompletionRequest{
		Model: g.model,
		Messages: []ChatMessage{
			{Role: "system", Content: ideaSystemMessage},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		ForceJSON:   true,
	})
	if err != nil {
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			logger.Warnf("[IdeaGen] Rate limited by %s, cooling down %v", rateErr.Provider, g.cooldown)
			if sleepErr := g.sleep(ctx, g.cooldown); sleepErr != nil {
				return nil, errors.Join(err, sleepErr)
			}
		}
		return nil, err
	}

	g.mu.Lock()
	g.totalTokens += resp.Usage.TotalTokens
	g.mu.Unlock()

	idea, scores, err := ParseIdeaResponse(resp.Content)
	if err != nil {
		logger.Warnf("[IdeaGen] Invalid model output: %v", err)
		return nil, err
	}

	return &IdeaResult{
		Idea:       idea,
		Scores:     scores,
		TokensUsed: resp.Usage.TotalTokens,
		Usage:      resp.Usage,
		Model:      resp.Model,
		LatencyMs:  time.Since(start).Milliseconds(),
		RawResponse: map[string]interface{}{
			"content": resp.Content,
			"model":   resp.Model,
			"usage": map[string]interface{}{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		},
	}, nil
}

// ParseIdeaResponse validates the model output: a JSON object with a
// non-empty string idea and six integer scores in [1, 10].
func ParseIdeaResponse(content string) (string, IdeaScores, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return "", IdeaScores{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	// The whole output must be the one object; trailing whitespace only.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return "", IdeaScores{}, fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidJSON)
	}

	for _, field := range append([]string{"idea"}, ideaScoreFields...) {
		if _, ok := obj[field]; !ok {
			return "", IdeaScores{}, &SchemaError{Field: field, Reason: "missing required field"}
		}
	}

	values := make([]int, len(ideaScoreFields))
	for i, field := range ideaScoreFields {
		v, err := scoreValue(obj[field])
		if err != nil {
			return "", IdeaScores{}, &SchemaError{Field: field, Reason: err.Error()}
		}
		values[i] = v
	}

	idea, ok := obj["idea"].(string)
	if !ok {
		return "", IdeaScores{}, &SchemaError{Field: "idea", Reason: "must be a string"}
	}
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return "", IdeaScores{}, ErrEmptyIdea
	}
	if words := len(strings.Fields(idea)); words > maxIdeaWords {
		logger.Warnf("[IdeaGen] Idea has %d words (limit %d)", words, maxIdeaWords)
	}

	return idea, IdeaScores{
		Market:       values[0],
		Tech:         values[1],
		Competition:  values[2],
		Monetisation: values[3],
		Feasibility:  values[4],
		Overall:      values[5],
	}, nil
}

func scoreValue(raw interface{}) (int, error) {
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("must be an integer, got %T", raw)
	}
	v, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("must be an integer, got %s", num)
	}
	if v < 1 || v > 10 {
		return 0, fmt.Errorf("must be between 1 and 10, got %d", v)
	}
	return int(v), nil
}

// BatchGenerate runs Generate for every input with at most maxConcurrent
// calls in flight. Failures stay with their item; order is preserved.
func (g *IdeaGenerator) BatchGenerate(ctx context.Context, inputs []string, maxConcurrent int) []BatchItem {
	items := make([]BatchItem, len(inputs))

	var eg errgroup.Group
	if maxConcurrent > 0 {
		eg.SetLimit(maxConcurrent)
	}
	for i, input := range inputs {
		eg.Go(func() error {
			result, err := g.Generate(ctx, input)
			items[i] = BatchItem{Input: input, Result: result, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var failed int
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	logger.Infof("[IdeaGen] Batch done: %d inputs, %d failed", len(inputs), failed)
	return items
}

func (g *IdeaGenerator) EstimateCost(tokens int) float64 {
	return float64(tokens) / 1000 * g.costPer1K
}

func (g *IdeaGenerator) TotalTokens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalTokens
}

func (g *IdeaGenerator) TotalCost() float64 {
	return g.EstimateCost(g.TotalTokens())
}

func (g *IdeaGenerator) ResetTokenCounter() {
	g.mu.Lock()
	g.totalTokens = 0
	g.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
