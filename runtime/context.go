package runtime

import (
	"fmt"

	"github.com/Jeffail/gabs/v2"
)

// Context keys the engine writes on every inbound message.
const (
	InputTextKey       = "input.text"
	InputIntentKey     = "input.intent"
	InputConfidenceKey = "input.confidence"
	InputEntitiesKey   = "input.entities"
)

// Context is the typed key/value bag owned by exactly one FlowRun. Values
// are addressed by dotted paths ("order.address.street"). The engine is the
// single writer: executors return update maps and never touch the store
// directly. The store serializes to JSON at checkpoint boundaries.
type Context struct {
	container *gabs.Container
}

// NewContext returns an empty context store.
func NewContext() *Context {
	return &Context{container: gabs.New()}
}

// RestoreContext rebuilds a context store from a checkpoint snapshot.
func RestoreContext(snapshot []byte) (*Context, error) {
	if len(snapshot) == 0 {
		return NewContext(), nil
	}
	c, err := gabs.ParseJSON(snapshot)
	if err != nil {
		return nil, fmt.Errorf("error parsing context snapshot: %w", err)
	}
	return &Context{container: c}, nil
}

// Set stores a value at a dotted path, creating intermediate objects.
func (c *Context) Set(path string, value any) error {
	if _, err := c.container.SetP(value, path); err != nil {
		return fmt.Errorf("error setting context path %s: %w", path, err)
	}
	return nil
}

// Get returns the value at a dotted path and whether the path exists.
func (c *Context) Get(path string) (any, bool) {
	if !c.container.ExistsP(path) {
		return nil, false
	}
	return c.container.Path(path).Data(), true
}

// Merge writes every entry of updates under the given prefix. An empty
// prefix merges at the context root.
func (c *Context) Merge(prefix string, updates map[string]any) error {
	for k, v := range updates {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if err := c.Set(path, v); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the value at a dotted path. Missing paths are a no-op.
func (c *Context) Delete(path string) {
	_ = c.container.DeleteP(path)
}

// Data returns the full nested map for expression evaluation. Callers must
// treat the result as read-only.
func (c *Context) Data() map[string]any {
	if m, ok := c.container.Data().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Snapshot serializes the store to JSON for checkpointing.
func (c *Context) Snapshot() []byte {
	return c.container.Bytes()
}

func (c *Context) String() string {
	return c.container.String()
}
