package runtime

import "time"

// RunStatus is the lifecycle state of a FlowRun.
type RunStatus string

const (
	// RunStatusRunning means the engine is advancing through states.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuspended means the run is checkpointed, waiting for the next
	// user message.
	RunStatusSuspended RunStatus = "suspended"
	// RunStatusCompleted means a final state was reached.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed means a step failed fatally; the last checkpoint is
	// retained for inspection and manual resume.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled means the run was externally aborted.
	RunStatusCancelled RunStatus = "cancelled"
)

// Active reports whether the run still owns its session's conversation. At
// most one active run exists per session per flow.
func (s RunStatus) Active() bool {
	return s == RunStatusRunning || s == RunStatusSuspended
}

// FlowRun is one execution of a FlowDefinition for one session. The engine
// checkpoints it after every node execution; ContextSnapshot holds the
// serialized context store.
type FlowRun struct {
	ID              string     `json:"id"`
	FlowID          string     `json:"flowId"`
	FlowVersion     string     `json:"flowVersion"`
	SessionID       string     `json:"sessionId"`
	Status          RunStatus  `json:"status"`
	CurrentState    string     `json:"currentState"`
	ContextSnapshot []byte     `json:"context"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// StepStatus is the outcome of one node execution.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusRetried StepStatus = "retried"
)

// FlowRunStep is one append-only audit record per node execution. Steps are
// strictly ordered by StartedAt within a run and never rewritten; this is
// the replay and debug trail.
type FlowRunStep struct {
	FlowRunID      string         `json:"flowRunId"`
	StateName      string         `json:"stateName"`
	Status         StepStatus     `json:"status"`
	InputSnapshot  map[string]any `json:"inputSnapshot,omitempty"`
	OutputSnapshot map[string]any `json:"outputSnapshot,omitempty"`
	Error          string         `json:"error,omitempty"`
	Attempts       int            `json:"attempts"`
	StartedAt      time.Time      `json:"startedAt"`
	CompletedAt    time.Time      `json:"completedAt"`
}

// Reply is the structured outbound payload produced at a suspension or
// terminal state. Rendering it for a specific channel is a collaborator's
// responsibility.
type Reply struct {
	Text     string         `json:"text"`
	Elements []ReplyElement `json:"elements,omitempty"`
}

// ReplyElement is an optional interactive element attached to a reply
// (quick reply buttons, cards). Payload is channel-agnostic.
type ReplyElement struct {
	Type    string         `json:"type"`
	Title   string         `json:"title,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}
