package runtime

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Evaluator evaluates edge conditions and decision expressions over a run
// context using the expr-lang library. Expressions reference context paths
// directly ("input.intent == 'greet'") and may not have side effects.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Eval compiles and runs an expression against the context. Missing
// variables evaluate to nil instead of failing compilation, so conditions
// can probe values that earlier states may not have produced.
func (e *Evaluator) Eval(expression string, ctx *Context) (any, error) {
	env := ctx.Data()

	// defined() checks whether a path exists, distinguishing missing from null.
	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			path, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects string path argument, got %T", params[0])
			}
			_, exists := ctx.Get(path)
			return exists, nil
		},
		new(func(string) bool),
	)

	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		definedFn,
	)
	if err != nil {
		return nil, fmt.Errorf("error compiling expression %q: %w", expression, err)
	}

	return expr.Run(program, env)
}

// EvalBool runs an expression that must produce a boolean.
func (e *Evaluator) EvalBool(expression string, ctx *Context) (bool, error) {
	result, err := e.Eval(expression, ctx)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, expected boolean", expression, result)
	}
	return b, nil
}
