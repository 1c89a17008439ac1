package executors

import (
	"context"

	"convoflow/runtime"
	"convoflow/services"
)

// ToolConfig is the typed config of a "tool" state.
type ToolConfig struct {
	Tool   string         `json:"tool" validate:"required"`
	Params map[string]any `json:"params"`
}

// ToolExecutor invokes a named operation on the tool registry. A tool
// reporting success: false is written into the context like any other
// result, so the flow routes the business failure through its edges; only
// transport-level failures become step errors.
type ToolExecutor struct {
	tools services.ToolRegistry
}

var _ runtime.Executor = (*ToolExecutor)(nil)

func NewToolExecutor(tools services.ToolRegistry) *ToolExecutor {
	return &ToolExecutor{tools: tools}
}

func (e *ToolExecutor) Execute(ctx context.Context, config map[string]any, _ *runtime.Context) (runtime.Result, error) {
	var cfg ToolConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return runtime.Result{}, err
	}

	result, err := e.tools.Execute(ctx, cfg.Tool, cfg.Params)
	if err != nil {
		return runtime.Result{}, err
	}

	data := result.Data
	if data == nil {
		data = map[string]any{}
	}
	return runtime.Result{
		Updates: map[string]any{
			"success": result.Success,
			"data":    data,
			"error":   result.Error,
		},
	}, nil
}
