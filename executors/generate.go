package executors

import (
	"context"

	"convoflow/runtime"
	"convoflow/services"
)

// GenerateConfig is the typed config of a "generate" state. System and
// Prompt arrive interpolated, so they may embed any context value.
type GenerateConfig struct {
	System      string  `json:"system"`
	Prompt      string  `json:"prompt" validate:"required"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" validate:"gte=0"`
}

// GenerateExecutor produces text through the chat-completion service.
type GenerateExecutor struct {
	generator services.Generator
}

var _ runtime.Executor = (*GenerateExecutor)(nil)

func NewGenerateExecutor(generator services.Generator) *GenerateExecutor {
	return &GenerateExecutor{generator: generator}
}

func (e *GenerateExecutor) Execute(ctx context.Context, config map[string]any, _ *runtime.Context) (runtime.Result, error) {
	var cfg GenerateConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return runtime.Result{}, err
	}

	var messages []services.Message
	if cfg.System != "" {
		messages = append(messages, services.Message{Role: "system", Content: cfg.System})
	}
	messages = append(messages, services.Message{Role: "user", Content: cfg.Prompt})

	completion, err := e.generator.Complete(ctx, messages, services.ModelConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return runtime.Result{}, err
	}

	return runtime.Result{
		Updates: map[string]any{
			"text": completion.Text,
			"tokens": map[string]any{
				"prompt":     completion.TokenUsage.Prompt,
				"completion": completion.TokenUsage.Completion,
				"total":      completion.TokenUsage.Total,
			},
		},
	}, nil
}
