package executors

import (
	"context"

	"convoflow/runtime"
)

// DecisionConfig is the typed config of a "decision" state. Expression is
// evaluated against the raw context, not interpolated text, so it can use
// the full expression language.
type DecisionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

// DecisionExecutor evaluates a pure expression over the run context, with
// no I/O. It exists for branching that needs a computed value on the
// context rather than a bare edge condition.
type DecisionExecutor struct {
	evaluator *runtime.Evaluator
}

var _ runtime.Executor = (*DecisionExecutor)(nil)

func NewDecisionExecutor() *DecisionExecutor {
	return &DecisionExecutor{evaluator: runtime.NewEvaluator()}
}

func (e *DecisionExecutor) Execute(_ context.Context, config map[string]any, runCtx *runtime.Context) (runtime.Result, error) {
	var cfg DecisionConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return runtime.Result{}, err
	}

	value, err := e.evaluator.Eval(cfg.Expression, runCtx)
	if err != nil {
		return runtime.Result{}, err
	}

	return runtime.Result{
		Updates: map[string]any{"value": value},
	}, nil
}
