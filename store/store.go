// Package store provides the durable persistence layer for flow
// definitions, runs, the step audit trail, and experiment assignments.
package store

import (
	"errors"

	"convoflow/runtime"
)

// ErrDefinitionNotFound is returned when a flow definition is not stored.
var ErrDefinitionNotFound = errors.New("flow definition not found")

// DefinitionStore persists flow definitions across restarts. Definitions
// are written on registration and read back at startup; a version is never
// updated in place, and re-saving a stored version is a no-op.
type DefinitionStore interface {
	SaveDefinition(def *runtime.FlowDefinition) error
	GetDefinition(flowID, version string) (*runtime.FlowDefinition, error)
	// ListDefinitions returns every stored definition, oldest first, so
	// replaying them through the registry restores the latest-version order.
	ListDefinitions() ([]*runtime.FlowDefinition, error)
}

// RunFilter selects runs for listing. Zero values mean "no filter".
type RunFilter struct {
	FlowID    string
	SessionID string
	Status    runtime.RunStatus
}

// Store is the full persistence surface the service wires together.
type Store interface {
	runtime.RunStore
	runtime.StepStore
	runtime.AssignmentStore
	DefinitionStore
	ListRuns(filter RunFilter) ([]*runtime.FlowRun, error)
}
