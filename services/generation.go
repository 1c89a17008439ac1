package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"convoflow/runtime"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelConfig selects the model and sampling parameters for a completion.
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// TokenUsage reports the token accounting of one completion.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Completion is the generation service's response.
type Completion struct {
	Text       string     `json:"text"`
	TokenUsage TokenUsage `json:"tokenUsage"`
}

// Generator is the synchronous chat-completion contract.
type Generator interface {
	Complete(ctx context.Context, messages []Message, model ModelConfig) (Completion, error)
}

// GeneratorConfig configures the HTTP generation client. The client retries
// transient HTTP failures itself with backoff before the engine's own retry
// policy kicks in.
type GeneratorConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	Timeout      time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries   int           `yaml:"max_retries" default:"2" validate:"gte=0,lte=10"`
	RetryWaitMS  int           `yaml:"retry_wait_ms" default:"250" validate:"gte=0,lte=10000"`
	DefaultModel string        `yaml:"default_model" default:"gpt-4o-mini"`
}

// HTTPGenerator calls a chat-completion service over HTTP.
type HTTPGenerator struct {
	client       *resty.Client
	defaultModel string
}

var _ Generator = (*HTTPGenerator)(nil)

func NewHTTPGenerator(config GeneratorConfig) (*HTTPGenerator, error) {
	if err := runtime.InitializeConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(time.Duration(config.RetryWaitMS) * time.Millisecond)
	return &HTTPGenerator{client: client, defaultModel: config.DefaultModel}, nil
}

func (g *HTTPGenerator) Complete(ctx context.Context, messages []Message, model ModelConfig) (Completion, error) {
	if model.Model == "" {
		model.Model = g.defaultModel
	}

	var result Completion
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"messages": messages,
			"model":    model,
		}).
		SetResult(&result).
		Post("/complete")
	if err != nil {
		return Completion{}, runtime.NewTransientError("", fmt.Errorf("generation request failed: %w", err))
	}
	if resp.IsError() {
		err := fmt.Errorf("generation service returned %s", resp.Status())
		if resp.StatusCode() >= 500 {
			return Completion{}, runtime.NewTransientError("", err)
		}
		return Completion{}, runtime.NewPermanentError("", err)
	}
	return result, nil
}
