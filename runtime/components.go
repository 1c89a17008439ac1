package runtime

// FlowDefinition is an immutable, versioned description of a conversational
// state machine. A new version of a flow is a new FlowDefinition sharing the
// same ID; definitions are never mutated after registration.
type FlowDefinition struct {
	ID           string         `yaml:"id" json:"id"`
	Version      string         `yaml:"version" json:"version"`
	Trigger      Trigger        `yaml:"trigger" json:"trigger"`
	States       []State        `yaml:"states" json:"states"`
	Edges        []Edge         `yaml:"edges" json:"edges"`
	InitialState string         `yaml:"initialState" json:"initialState"`
	FinalStates  []string       `yaml:"finalStates" json:"finalStates"`
	Properties   map[string]any `yaml:"properties" json:"properties"`
}

// Trigger declares which resolved intents start this flow.
type Trigger struct {
	Intents []string `yaml:"intents" json:"intents"`
}

// State is a single node in the flow. Type selects the executor, Config is
// its raw (un-interpolated) configuration. OutputVar names the context path
// the engine writes the executor's updates under; empty means the updates
// are merged at the context root. AwaitInput marks the state as a suspension
// point: the engine checkpoints there and waits for the next user message.
// Required lists context paths that must be set before the state may run.
type State struct {
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type" json:"type"`
	Config     map[string]any `yaml:"config" json:"config"`
	OutputVar  string         `yaml:"outputVar,omitempty" json:"outputVar,omitempty"`
	AwaitInput bool           `yaml:"awaitInput,omitempty" json:"awaitInput,omitempty"`
	Required   []string       `yaml:"required,omitempty" json:"required,omitempty"`
	Retry      *RetryConfig   `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// Edge is a directed transition between two states. Condition is an
// expression over the run context; Default marks the catch-all edge, which
// is evaluated last regardless of where it is declared. Non-default edges
// are evaluated in declaration order and the first true condition wins.
type Edge struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Default   bool   `yaml:"default,omitempty" json:"default,omitempty"`
}

// RetryConfig controls retry behavior for transient step failures.
type RetryConfig struct {
	MaxAttempts int  `yaml:"maxAttempts" json:"maxAttempts"`
	DelayMS     int  `yaml:"delayMs" json:"delayMs"`
	Backoff     bool `yaml:"backoff" json:"backoff"`
}

// StateByName returns the named state, or false when the definition has no
// such state.
func (d *FlowDefinition) StateByName(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

// EdgesFrom returns the outgoing edges of a state in declaration order.
func (d *FlowDefinition) EdgesFrom(state string) []Edge {
	var edges []Edge
	for _, e := range d.Edges {
		if e.From == state {
			edges = append(edges, e)
		}
	}
	return edges
}

// IsFinal reports whether the named state is a terminal state.
func (d *FlowDefinition) IsFinal(state string) bool {
	for _, f := range d.FinalStates {
		if f == state {
			return true
		}
	}
	return false
}

// Triggers reports whether the definition's trigger matches the intent.
func (d *FlowDefinition) Triggers(intent string) bool {
	for _, i := range d.Trigger.Intents {
		if i == intent {
			return true
		}
	}
	return false
}
