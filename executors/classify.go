package executors

import (
	"context"

	"convoflow/runtime"
	"convoflow/services"
)

// ClassifyConfig is the typed config of a "classify" state.
type ClassifyConfig struct {
	Text string `json:"text" validate:"required"`
}

// ClassifyExecutor runs intent/entity extraction on the configured text,
// usually "{{input.text}}".
type ClassifyExecutor struct {
	classifier services.Classifier
}

var _ runtime.Executor = (*ClassifyExecutor)(nil)

func NewClassifyExecutor(classifier services.Classifier) *ClassifyExecutor {
	return &ClassifyExecutor{classifier: classifier}
}

func (e *ClassifyExecutor) Execute(ctx context.Context, config map[string]any, _ *runtime.Context) (runtime.Result, error) {
	var cfg ClassifyConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return runtime.Result{}, err
	}

	classification, err := e.classifier.Classify(ctx, cfg.Text)
	if err != nil {
		return runtime.Result{}, err
	}

	entities := classification.Entities
	if entities == nil {
		entities = []map[string]any{}
	}
	return runtime.Result{
		Updates: map[string]any{
			"intent":     classification.Intent,
			"confidence": classification.Confidence,
			"entities":   entities,
		},
	}, nil
}
