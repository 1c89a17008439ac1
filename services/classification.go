// Package services holds the clients for the engine's external
// collaborators: the classification service, the generation service, and
// the tool registry.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"convoflow/runtime"
)

// Classification is the result of intent/entity extraction for one message.
type Classification struct {
	Intent     string           `json:"intent"`
	Confidence float64          `json:"confidence"`
	Entities   []map[string]any `json:"entities"`
}

// Classifier is the synchronous classification contract.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// ClassifierConfig configures the HTTP classifier client.
type ClassifierConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" default:"10s" validate:"gte=1s"`
}

// HTTPClassifier calls a classification service over HTTP.
type HTTPClassifier struct {
	client *resty.Client
}

var _ Classifier = (*HTTPClassifier)(nil)

func NewHTTPClassifier(config ClassifierConfig) (*HTTPClassifier, error) {
	if err := runtime.InitializeConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)
	return &HTTPClassifier{client: client}, nil
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	var result Classification

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"text": text}).
		SetResult(&result).
		Post("/classify")
	if err != nil {
		return Classification{}, runtime.NewTransientError("", fmt.Errorf("classification request failed: %w", err))
	}
	if resp.IsError() {
		err := fmt.Errorf("classification service returned %s", resp.Status())
		if resp.StatusCode() >= 500 {
			return Classification{}, runtime.NewTransientError("", err)
		}
		return Classification{}, runtime.NewPermanentError("", err)
	}
	return result, nil
}
