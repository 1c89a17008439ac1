package runtime

import "errors"

// ErrRunNotFound is returned by run stores when no run matches a lookup.
var ErrRunNotFound = errors.New("flow run not found")

// RunStore persists FlowRun checkpoints. SaveRun inserts, UpdateRun mutates
// in place; a run row is never deleted by normal execution.
type RunStore interface {
	SaveRun(run *FlowRun) error
	UpdateRun(run *FlowRun) error
	GetRun(id string) (*FlowRun, error)
	// ActiveRun returns the running or suspended run for a session and flow,
	// or ErrRunNotFound.
	ActiveRun(sessionID, flowID string) (*FlowRun, error)
	// ActiveSessionRun returns the running or suspended run for a session
	// across all flows, or ErrRunNotFound.
	ActiveSessionRun(sessionID string) (*FlowRun, error)
}

// StepStore records the append-only audit trail of node executions.
type StepStore interface {
	AppendStep(step *FlowRunStep) error
	ListSteps(runID string) ([]*FlowRunStep, error)
}

// VersionStats aggregates experiment outcomes for one flow version.
type VersionStats struct {
	Sessions  int64 `json:"sessions"`
	Outcomes  int64 `json:"outcomes"`
	Converted int64 `json:"converted"`
}

// AssignmentStore persists session-to-version assignments and their
// recorded experiment outcomes.
type AssignmentStore interface {
	// Assignment returns the stored version for a (flow, session) pair;
	// ok is false when the session has not been assigned yet.
	Assignment(flowID, sessionID string) (version string, ok bool, err error)
	PutAssignment(flowID, sessionID, version string) error
	RecordOutcome(flowID, sessionID, version string, converted bool, metric string) error
	Results(flowID string) (map[string]VersionStats, error)
}
