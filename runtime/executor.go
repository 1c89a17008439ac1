package runtime

import "context"

// Result is what an executor hands back to the engine. Executors never
// mutate the context store directly; Updates is merged by the engine under
// the state's output variable so every mutation shows up on the audit trail.
type Result struct {
	// Updates are context writes keyed by relative path.
	Updates map[string]any
	// Suspend stops the auto-advance loop after this state's transition; the
	// run is checkpointed as suspended until the next user message.
	Suspend bool
	// Reply, when set, is delivered to the caller as the outbound payload.
	Reply *Reply
}

// Executor is the uniform node-execution contract. Config arrives fully
// interpolated. Implementations may block on network I/O and must honor
// ctx cancellation; the engine applies a per-invocation timeout.
type Executor interface {
	Execute(ctx context.Context, config map[string]any, runCtx *Context) (Result, error)
}

// ExecutorRegistry maps a state's declared type to its executor. Lookup of
// an unknown type is a structural flow error, surfaced by the engine.
type ExecutorRegistry struct {
	executors map[string]Executor
}

func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]Executor)}
}

// Register binds a state type to an executor. Later registrations replace
// earlier ones, which tests use to install fakes.
func (r *ExecutorRegistry) Register(stateType string, executor Executor) {
	r.executors[stateType] = executor
}

// Get returns the executor for a state type.
func (r *ExecutorRegistry) Get(stateType string) (Executor, bool) {
	e, ok := r.executors[stateType]
	return e, ok
}

// Types returns the registered state types, for validation diagnostics.
func (r *ExecutorRegistry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
