// Package executors implements the node types the engine dispatches on:
// classify, generate, tool, decision, and respond. Each executor receives
// its state config fully interpolated and returns context updates; the
// engine is the only writer of the context store.
package executors

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"convoflow/runtime"
	"convoflow/services"
)

// decodeConfig converts an interpolated state config into a typed config
// struct using json tags, then validates it. Weak typing lets YAML authors
// write numbers where the struct wants floats and vice versa.
func decodeConfig(config map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode state config: %w", err)
	}
	return runtime.ValidateConfig(target)
}

// Register installs the standard node types on an executor registry.
func Register(registry *runtime.ExecutorRegistry, deps Deps) {
	registry.Register("classify", NewClassifyExecutor(deps.Classifier))
	registry.Register("generate", NewGenerateExecutor(deps.Generator))
	registry.Register("tool", NewToolExecutor(deps.Tools))
	registry.Register("decision", NewDecisionExecutor())
	registry.Register("respond", NewRespondExecutor())
}

// Deps bundles the external collaborators the standard executors call.
type Deps struct {
	Classifier services.Classifier
	Generator  services.Generator
	Tools      services.ToolRegistry
}
