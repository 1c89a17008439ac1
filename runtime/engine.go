package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Input is one inbound user message with its externally resolved intent.
type Input struct {
	Text       string           `json:"text"`
	Intent     string           `json:"intent,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Entities   []map[string]any `json:"entities,omitempty"`
}

// EngineConfig tunes step execution and failure behavior.
type EngineConfig struct {
	// StepTimeout bounds every executor invocation.
	StepTimeout time.Duration `default:"15s" validate:"gte=1s"`
	// MaxAttempts is the total attempt count for transient step failures
	// when the state declares no retry policy of its own.
	MaxAttempts int `default:"3" validate:"gte=1,lte=10"`
	// RetryDelay is the base delay between attempts; it doubles per attempt.
	RetryDelay time.Duration `default:"200ms" validate:"gte=1ms"`
	// FallbackReply is surfaced to the user when a run fails fatally.
	FallbackReply string `default:"Sorry, something went wrong on our side. Please try again in a moment."`
}

// Engine drives flow runs to completion or suspension. Each run advances
// synchronously within one inbound-message handling, executing as many
// states as possible before yielding; a state that awaits user input
// checkpoints the run as suspended. Runs for different sessions advance
// concurrently; a per-session lock serializes messages within a session.
type Engine struct {
	config       EngineConfig
	registry     *DefinitionRegistry
	executors    *ExecutorRegistry
	versions     *VersionManager
	interpolator *Interpolator
	evaluator    *Evaluator
	runs         RunStore
	steps        StepStore
	sessions     sessionLocks
	l            *slog.Logger
}

func NewEngine(
	config EngineConfig,
	registry *DefinitionRegistry,
	executors *ExecutorRegistry,
	versions *VersionManager,
	runs RunStore,
	steps StepStore,
	l *slog.Logger,
) (*Engine, error) {
	if err := InitializeConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Engine{
		config:       config,
		registry:     registry,
		executors:    executors,
		versions:     versions,
		interpolator: NewInterpolator(),
		evaluator:    NewEvaluator(),
		runs:         runs,
		steps:        steps,
		sessions:     sessionLocks{locks: make(map[string]*sessionLock)},
		l:            l,
	}, nil
}

// Start begins a run of the flow for the session, or resumes the session's
// active run for that flow if one exists: a trigger firing twice while a
// conversation is in progress must not fork it. The session's flow version
// is selected once, on run creation, never on resume.
func (e *Engine) Start(ctx context.Context, flowID, sessionID string, input Input) (*FlowRun, *Reply, error) {
	unlock := e.sessions.lock(sessionID)
	defer unlock()

	if active, err := e.runs.ActiveRun(sessionID, flowID); err == nil {
		e.l.Info("start requested with active run, resuming", "flow", flowID, "session", sessionID, "run", active.ID)
		return e.resumeRun(ctx, active, input)
	} else if !errors.Is(err, ErrRunNotFound) {
		return nil, nil, fmt.Errorf("error looking up active run: %w", err)
	}

	def, err := e.versions.SelectVersion(flowID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	rctx := NewContext()
	if err := e.applyProperties(def, rctx); err != nil {
		return nil, nil, err
	}
	if err := applyInput(rctx, input); err != nil {
		return nil, nil, err
	}

	run := &FlowRun{
		ID:           uuid.New().String(),
		FlowID:       def.ID,
		FlowVersion:  def.Version,
		SessionID:    sessionID,
		Status:       RunStatusRunning,
		CurrentState: def.InitialState,
		StartedAt:    time.Now().UTC(),
	}
	run.ContextSnapshot = rctx.Snapshot()
	if err := e.runs.SaveRun(run); err != nil {
		return nil, nil, fmt.Errorf("error persisting new run: %w", err)
	}

	e.l.Info("started flow run", "flow", def.ID, "version", def.Version, "session", sessionID, "run", run.ID)
	reply, err := e.advance(ctx, def, run, rctx, false)
	return run, reply, err
}

// Resume feeds the next user message to the session's suspended run. The
// new input is merged under the fixed input key, the suspended state's
// outgoing edges are evaluated against it, and the loop continues from the
// selected target.
func (e *Engine) Resume(ctx context.Context, sessionID string, input Input) (*FlowRun, *Reply, error) {
	unlock := e.sessions.lock(sessionID)
	defer unlock()

	run, err := e.runs.ActiveSessionRun(sessionID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, nil, ErrRunNotFound
		}
		return nil, nil, fmt.Errorf("error looking up session run: %w", err)
	}
	return e.resumeRun(ctx, run, input)
}

func (e *Engine) resumeRun(ctx context.Context, run *FlowRun, input Input) (*FlowRun, *Reply, error) {
	def, err := e.registry.GetVersion(run.FlowID, run.FlowVersion)
	if err != nil {
		return nil, nil, err
	}

	rctx, err := RestoreContext(run.ContextSnapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("error restoring checkpoint for run %s: %w", run.ID, err)
	}
	if err := applyInput(rctx, input); err != nil {
		return nil, nil, err
	}

	// A run suspended on an await state does not re-execute that state; the
	// new input only drives its edge selection.
	skipExecute := run.Status == RunStatusSuspended
	run.Status = RunStatusRunning

	e.l.Info("resuming flow run", "flow", run.FlowID, "session", run.SessionID, "run", run.ID, "state", run.CurrentState)
	reply, err := e.advance(ctx, def, run, rctx, skipExecute)
	return run, reply, err
}

// Cancel marks a run cancelled. The engine rechecks the stored status
// before executing each node and again at every checkpoint, so a cancel
// landing while a node is in flight aborts the run at the next boundary
// instead of completing further state transitions.
func (e *Engine) Cancel(runID string) error {
	run, err := e.runs.GetRun(runID)
	if err != nil {
		return err
	}
	if !run.Status.Active() {
		return fmt.Errorf("run %s is %s, only active runs can be cancelled", runID, run.Status)
	}
	now := time.Now().UTC()
	run.Status = RunStatusCancelled
	run.CompletedAt = &now
	return e.runs.UpdateRun(run)
}

// advance is the state transition loop. When skipExecute is set the current
// state's node is not executed on the first iteration; the loop goes
// straight to edge evaluation (resumption of a suspended run).
func (e *Engine) advance(ctx context.Context, def *FlowDefinition, run *FlowRun, rctx *Context, skipExecute bool) (*Reply, error) {
	var reply *Reply

	for {
		if cancelled, err := e.checkCancelled(run); err != nil {
			return reply, err
		} else if cancelled {
			e.l.Info("run cancelled, aborting", "run", run.ID, "state", run.CurrentState)
			return reply, nil
		}

		if !skipExecute {
			state, ok := def.StateByName(run.CurrentState)
			if !ok {
				ferr := NewStructuralError(ErrorCodeUnknownState, run.CurrentState,
					fmt.Sprintf("run %s is checkpointed at unknown state %s", run.ID, run.CurrentState))
				return e.failRun(run, rctx, ferr)
			}

			result, ferr := e.executeState(ctx, def, run, state, rctx)
			if ferr != nil {
				return e.failRun(run, rctx, ferr)
			}

			if err := rctx.Merge(state.OutputVar, result.Updates); err != nil {
				return e.failRun(run, rctx, NewPermanentError(state.Name, err))
			}
			if result.Reply != nil {
				reply = result.Reply
			}

			if def.IsFinal(state.Name) {
				e.complete(run, rctx)
				return reply, nil
			}

			if result.Suspend || state.AwaitInput {
				run.Status = RunStatusSuspended
				if e.checkpoint(run, rctx) {
					e.l.Info("run cancelled, aborting", "run", run.ID, "state", state.Name)
					return reply, nil
				}
				e.l.Info("run suspended awaiting input", "run", run.ID, "state", state.Name)
				return reply, nil
			}
		}
		skipExecute = false

		next, ferr := e.selectEdge(def, run.CurrentState, rctx)
		if ferr != nil {
			return e.failRun(run, rctx, ferr)
		}

		e.l.Debug("transition", "run", run.ID, "from", run.CurrentState, "to", next)
		run.CurrentState = next
		if e.checkpoint(run, rctx) {
			e.l.Info("run cancelled, aborting", "run", run.ID, "state", next)
			return reply, nil
		}
	}
}

// executeState runs one node with timeout and transient-failure retry, and
// appends its audit record(s).
func (e *Engine) executeState(ctx context.Context, def *FlowDefinition, run *FlowRun, state State, rctx *Context) (Result, *FlowError) {
	executor, ok := e.executors.Get(state.Type)
	if !ok {
		return Result{}, NewStructuralError(ErrorCodeUnknownExecutor, state.Name,
			fmt.Sprintf("no executor registered for state type %q", state.Type))
	}

	for _, path := range state.Required {
		if v, ok := rctx.Get(path); !ok || IsUnset(v) {
			return Result{}, &FlowError{
				Type:    ErrorTypePermanent,
				Code:    ErrorCodeRequiredVariableUnset,
				Message: fmt.Sprintf("state %s requires context variable %s which is unset", state.Name, path),
				State:   state.Name,
			}
		}
	}

	config := e.interpolator.InterpolateConfig(state.Config, rctx)

	maxAttempts := e.config.MaxAttempts
	delay := e.config.RetryDelay
	backoff := true
	if state.Retry != nil {
		maxAttempts = state.Retry.MaxAttempts
		delay = time.Duration(state.Retry.DelayMS) * time.Millisecond
		backoff = state.Retry.Backoff
	}

	var lastErr *FlowError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now().UTC()
		stepCtx, cancel := context.WithTimeout(ctx, e.config.StepTimeout)
		result, err := executor.Execute(stepCtx, config, rctx)
		cancel()

		if err == nil {
			e.recordStep(run, state, config, result.Updates, StepStatusSuccess, attempt, started, nil)
			return result, nil
		}

		lastErr = classifyError(state.Name, err)
		lastErr.Retries = attempt - 1

		if lastErr.Retriable() && attempt < maxAttempts {
			e.recordStep(run, state, config, nil, StepStatusRetried, attempt, started, lastErr)
			e.l.Warn("step failed, retrying", "run", run.ID, "state", state.Name, "attempt", attempt, "error", err)
			wait := delay
			if backoff {
				wait = delay << (attempt - 1)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				lastErr = NewTimeoutError(state.Name, ctx.Err())
				e.recordStep(run, state, config, nil, StepStatusFailed, attempt, started, lastErr)
				return Result{}, lastErr
			}
			continue
		}

		e.recordStep(run, state, config, nil, StepStatusFailed, attempt, started, lastErr)
		return Result{}, lastErr
	}
	return Result{}, lastErr
}

// selectEdge picks the next state: non-default edges in declaration order,
// first true condition wins; the default edge last regardless of where it
// was declared. No applicable edge is a structural error, not a retry.
func (e *Engine) selectEdge(def *FlowDefinition, from string, rctx *Context) (string, *FlowError) {
	var defaultEdge *Edge
	for _, edge := range def.EdgesFrom(from) {
		if edge.Default || edge.Condition == "" {
			if defaultEdge == nil {
				ec := edge
				defaultEdge = &ec
			}
			continue
		}
		match, err := e.evaluator.EvalBool(edge.Condition, rctx)
		if err != nil {
			return "", &FlowError{
				Type:    ErrorTypeStructural,
				Code:    ErrorCodeConditionError,
				Message: fmt.Sprintf("error evaluating edge %s -> %s: %v", edge.From, edge.To, err),
				State:   from,
				Cause:   err,
			}
		}
		if match {
			return edge.To, nil
		}
	}
	if defaultEdge != nil {
		return defaultEdge.To, nil
	}
	return "", NewStructuralError(ErrorCodeNoMatchingEdge, from,
		fmt.Sprintf("state %s has no matching edge and no default", from))
}

func (e *Engine) complete(run *FlowRun, rctx *Context) {
	now := time.Now().UTC()
	run.Status = RunStatusCompleted
	run.CompletedAt = &now
	if e.checkpoint(run, rctx) {
		e.l.Info("run cancelled, aborting", "run", run.ID, "state", run.CurrentState)
		return
	}
	e.l.Info("run completed", "run", run.ID, "flow", run.FlowID, "state", run.CurrentState)
}

// failRun marks the run failed, preserves its last checkpoint for offline
// diagnosis, and degrades to the generic fallback reply. The flow error is
// recorded on the run, not returned: a broken step must not look like a
// broken engine to the caller.
func (e *Engine) failRun(run *FlowRun, rctx *Context, ferr *FlowError) (*Reply, error) {
	now := time.Now().UTC()
	run.Status = RunStatusFailed
	run.Error = ferr.Error()
	run.CompletedAt = &now
	if e.checkpoint(run, rctx) {
		e.l.Info("run cancelled, dropping step failure", "run", run.ID, "state", ferr.State)
		return nil, nil
	}
	e.l.Error("run failed", "run", run.ID, "flow", run.FlowID, "state", ferr.State, "error", ferr)
	return &Reply{Text: e.config.FallbackReply}, nil
}

// checkpoint persists the run unless an external Cancel landed since the
// last store read. Cancellation wins over any in-memory status: a cancelled
// run must never be written back as running, suspended, completed, or
// failed. Returns true when the run turned out to be cancelled.
func (e *Engine) checkpoint(run *FlowRun, rctx *Context) bool {
	if stored, err := e.runs.GetRun(run.ID); err == nil && stored.Status == RunStatusCancelled {
		run.Status = RunStatusCancelled
		run.CompletedAt = stored.CompletedAt
		return true
	}
	run.ContextSnapshot = rctx.Snapshot()
	if err := e.runs.UpdateRun(run); err != nil {
		e.l.Error("error persisting run checkpoint", "run", run.ID, "error", err)
	}
	return false
}

// checkCancelled reloads the run so an external Cancel lands before the
// next node starts.
func (e *Engine) checkCancelled(run *FlowRun) (bool, error) {
	stored, err := e.runs.GetRun(run.ID)
	if err != nil {
		return false, fmt.Errorf("error reloading run %s: %w", run.ID, err)
	}
	if stored.Status == RunStatusCancelled {
		run.Status = RunStatusCancelled
		run.CompletedAt = stored.CompletedAt
		return true, nil
	}
	return false, nil
}

func (e *Engine) recordStep(run *FlowRun, state State, input, output map[string]any, status StepStatus, attempts int, started time.Time, ferr *FlowError) {
	step := &FlowRunStep{
		FlowRunID:      run.ID,
		StateName:      state.Name,
		Status:         status,
		InputSnapshot:  input,
		OutputSnapshot: output,
		Attempts:       attempts,
		StartedAt:      started,
		CompletedAt:    time.Now().UTC(),
	}
	if ferr != nil {
		step.Error = ferr.Error()
	}
	if err := e.steps.AppendStep(step); err != nil {
		e.l.Error("error appending run step", "run", run.ID, "state", state.Name, "error", err)
	}
}

func (e *Engine) applyProperties(def *FlowDefinition, rctx *Context) error {
	for k, v := range def.Properties {
		resolved, err := ResolveEnvVar(v)
		if err != nil {
			return fmt.Errorf("flow %s property %s: %w", def.ID, k, err)
		}
		if err := rctx.Set("properties."+k, resolved); err != nil {
			return err
		}
	}
	return nil
}

func applyInput(rctx *Context, input Input) error {
	if err := rctx.Set(InputTextKey, input.Text); err != nil {
		return err
	}
	if err := rctx.Set(InputIntentKey, input.Intent); err != nil {
		return err
	}
	if err := rctx.Set(InputConfidenceKey, input.Confidence); err != nil {
		return err
	}
	entities := input.Entities
	if entities == nil {
		entities = []map[string]any{}
	}
	return rctx.Set(InputEntitiesKey, entities)
}

// classifyError maps executor errors onto the flow taxonomy. Executors
// signal retriability by returning a *FlowError; everything else defaults
// to permanent except deadline expiry, which is retriable.
func classifyError(state string, err error) *FlowError {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		if ferr.State == "" {
			ferr.State = state
		}
		return ferr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(state, err)
	}
	return NewPermanentError(state, err)
}

// sessionLocks serializes engine invocations per session: a message
// arriving while a prior one for the same session is still processing
// queues behind it instead of interleaving. Entries are reference counted
// and removed once no invocation holds or waits on them, so the map does
// not grow with the number of sessions ever seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (s *sessionLocks) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
