package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type ChatMessage struct {
	Role    string // system, user
	Content string
}

type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	ForceJSON   bool
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// LLMProvider is one chat-completion backend.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// RateLimitError means the provider throttled the request.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// NewLLMProvider builds the provider selected by cfg.Provider.
func NewLLMProvider(cfg *config.LLMConfig) (LLMProvider, error) {
	logger.Infof("[AI] Using provider: %s, model: %s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	case "ollama":
		return newOllamaProvider(cfg)
	case "gemini":
		return newGeminiProvider(cfg)
	case "azure":
		// Azure requires BaseURL format: https://{resource-name}.openai.azure.com
		// and uses the model as deployment name.
		return &openAIProvider{
			name:   "azure",
			client: openai.NewClientWithConfig(openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)),
		}, nil
	case "", "openai":
		return newOpenAIProvider(cfg), nil
	default:
		// other OpenAI-compatible services
		logger.Warnf("[AI] Unknown provider %q, treating as OpenAI-compatible", cfg.Provider)
		return newOpenAIProvider(cfg), nil
	}
}

func splitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system []string
	var rest []ChatMessage
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n"), rest
}

type openAIProvider struct {
	name   string
	client *openai.Client
}

func newOpenAIProvider(cfg *config.LLMConfig) *openAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &openAIProvider{name: "openai", client: openai.NewClientWithConfig(clientConfig)}
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.ForceJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if isOpenAIRateLimit(err) {
			return nil, &RateLimitError{Provider: p.name, Err: err}
		}
		logger.Infof("[AI] %s API error: %v", p.name, err)
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.name)
	}

	return &CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func isOpenAIRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests
}

type anthropicProvider struct {
	client anthropic.Client
}

func newAnthropicProvider(cfg *config.LLMConfig) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "openai.com") {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	system, rest := splitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{Provider: "anthropic", Err: err}
		}
		logger.Infof("[AI] Anthropic API error: %v", err)
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &CompletionResponse{
		Content: content.String(),
		Model:   string(resp.Model),
		Usage:   TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

type ollamaProvider struct {
	client *api.Client
}

func newOllamaProvider(cfg *config.LLMConfig) (*ollamaProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" || strings.Contains(baseURL, "openai.com") {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	return &ollamaProvider{client: api.NewClient(u, http.DefaultClient)}, nil
}

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	messages := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.ForceJSON {
		chatReq.Format = json.RawMessage(`"json"`)
	}

	var (
		content strings.Builder
		last    api.ChatResponse
	)
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		last = resp
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{Provider: "ollama", Err: err}
		}
		logger.Infof("[AI] Ollama API error: %v", err)
		return nil, fmt.Errorf("Ollama API error: %w", err)
	}

	return &CompletionResponse{
		Content: content.String(),
		Model:   last.Model,
		Usage: TokenUsage{
			PromptTokens:     last.PromptEvalCount,
			CompletionTokens: last.EvalCount,
			TotalTokens:      last.PromptEvalCount + last.EvalCount,
		},
	}, nil
}

type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(cfg *config.LLMConfig) (*geminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	system, rest := splitSystem(req.Messages)

	var prompt strings.Builder
	for i, m := range rest {
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		prompt.WriteString(m.Content)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.ForceJSON {
		genCfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(prompt.String()), genCfg)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429") {
			return nil, &RateLimitError{Provider: "gemini", Err: err}
		}
		logger.Infof("[AI] Gemini API error: %v", err)
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	out := &CompletionResponse{Content: resp.Text(), Model: req.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}
