package runtime

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefinitionRegistry loads, validates, and indexes flow definitions. It is
// read-mostly after startup and safe for concurrent use. Registries are
// constructed per instance (and per test) rather than shared globally.
type DefinitionRegistry struct {
	mu        sync.RWMutex
	flows     map[string]map[string]*FlowDefinition // flowID -> version -> definition
	latest    map[string]string                     // flowID -> most recently registered version
	order     []string                              // flowIDs in first-registration order
	executors *ExecutorRegistry
	l         *slog.Logger
}

func NewDefinitionRegistry(executors *ExecutorRegistry, l *slog.Logger) *DefinitionRegistry {
	return &DefinitionRegistry{
		flows:     make(map[string]map[string]*FlowDefinition),
		latest:    make(map[string]string),
		executors: executors,
		l:         l,
	}
}

// Register validates a definition and makes it the latest version of its
// flow. Structural defects are rejected here so they never surface as
// runtime failures mid-conversation.
func (r *DefinitionRegistry) Register(def *FlowDefinition) error {
	if err := r.Validate(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flows[def.ID] == nil {
		r.flows[def.ID] = make(map[string]*FlowDefinition)
		r.order = append(r.order, def.ID)
	}
	if _, exists := r.flows[def.ID][def.Version]; exists {
		return fmt.Errorf("flow %s version %s is already registered", def.ID, def.Version)
	}
	r.flows[def.ID][def.Version] = def
	r.latest[def.ID] = def.Version

	r.l.Info("registered flow definition", "flow", def.ID, "version", def.Version, "states", len(def.States))
	return nil
}

// Get returns the latest registered version of a flow.
func (r *DefinitionRegistry) Get(flowID string) (*FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.latest[flowID]
	if !ok {
		return nil, NewStructuralError(ErrorCodeUnknownFlow, "", fmt.Sprintf("flow %s is not registered", flowID))
	}
	return r.flows[flowID][version], nil
}

// GetVersion returns a specific version of a flow.
func (r *DefinitionRegistry) GetVersion(flowID, version string) (*FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.flows[flowID]
	if !ok {
		return nil, NewStructuralError(ErrorCodeUnknownFlow, "", fmt.Sprintf("flow %s is not registered", flowID))
	}
	def, ok := versions[version]
	if !ok {
		return nil, NewStructuralError(ErrorCodeUnknownFlow, "", fmt.Sprintf("flow %s has no version %s", flowID, version))
	}
	return def, nil
}

// FindByTrigger returns the first flow (latest version) whose trigger
// matches the intent. Flows are checked in registration order, so when
// two flows share a trigger the one registered first wins every time.
func (r *DefinitionRegistry) FindByTrigger(intent string) (*FlowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, flowID := range r.order {
		def := r.flows[flowID][r.latest[flowID]]
		if def.Triggers(intent) {
			return def, true
		}
	}
	return nil, false
}

// FlowIDs returns the IDs of all registered flows in registration order.
func (r *DefinitionRegistry) FlowIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Validate checks the structural invariants of a definition: named states
// are unique, edges reference existing states, the initial state exists and
// is not final, every non-final state has exactly one default edge, and
// final states have no outgoing edges. Unreachable states are logged as a
// warning but do not fail validation.
func (r *DefinitionRegistry) Validate(def *FlowDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("flow definition is missing an id")
	}
	if def.Version == "" {
		return fmt.Errorf("flow %s is missing a version", def.ID)
	}
	if len(def.States) == 0 {
		return fmt.Errorf("flow %s has no states", def.ID)
	}

	states := make(map[string]State, len(def.States))
	for _, s := range def.States {
		if _, dup := states[s.Name]; dup {
			return fmt.Errorf("flow %s declares state %s twice", def.ID, s.Name)
		}
		if s.Type == "" {
			return fmt.Errorf("flow %s state %s has no type", def.ID, s.Name)
		}
		if r.executors != nil {
			if _, ok := r.executors.Get(s.Type); !ok {
				return NewStructuralError(ErrorCodeUnknownExecutor, s.Name,
					fmt.Sprintf("flow %s state %s uses unknown executor type %q", def.ID, s.Name, s.Type))
			}
		}
		states[s.Name] = s
	}

	if _, ok := states[def.InitialState]; !ok {
		return fmt.Errorf("flow %s initial state %s does not exist", def.ID, def.InitialState)
	}
	if def.IsFinal(def.InitialState) {
		return fmt.Errorf("flow %s initial state %s must not be final", def.ID, def.InitialState)
	}
	for _, f := range def.FinalStates {
		if _, ok := states[f]; !ok {
			return fmt.Errorf("flow %s final state %s does not exist", def.ID, f)
		}
	}

	for _, e := range def.Edges {
		if _, ok := states[e.From]; !ok {
			return fmt.Errorf("flow %s edge references unknown source state %s", def.ID, e.From)
		}
		if _, ok := states[e.To]; !ok {
			return fmt.Errorf("flow %s edge %s -> %s references unknown target state", def.ID, e.From, e.To)
		}
		if def.IsFinal(e.From) {
			return fmt.Errorf("flow %s final state %s must not have outgoing edges", def.ID, e.From)
		}
	}

	for name := range states {
		if def.IsFinal(name) {
			continue
		}
		defaults := 0
		for _, e := range def.EdgesFrom(name) {
			if e.Default || e.Condition == "" {
				defaults++
			}
		}
		if defaults == 0 {
			return fmt.Errorf("flow %s state %s has no default edge", def.ID, name)
		}
		if defaults > 1 {
			return fmt.Errorf("flow %s state %s has %d default edges, want exactly one", def.ID, name, defaults)
		}
	}

	for _, name := range unreachableStates(def) {
		r.l.Warn("flow state is unreachable from initial state", "flow", def.ID, "state", name)
	}

	return nil
}

func unreachableStates(def *FlowDefinition) []string {
	visited := map[string]bool{def.InitialState: true}
	queue := []string{def.InitialState}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range def.EdgesFrom(current) {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	var unreachable []string
	for _, s := range def.States {
		if !visited[s.Name] {
			unreachable = append(unreachable, s.Name)
		}
	}
	return unreachable
}
