package runtime

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func linearDef(id, version string) *FlowDefinition {
	return &FlowDefinition{
		ID:      id,
		Version: version,
		Trigger: Trigger{Intents: []string{id}},
		States: []State{
			{Name: "first", Type: "respond", Config: map[string]any{"text": "hi"}},
			{Name: "last", Type: "respond", Config: map[string]any{"text": "bye"}},
		},
		Edges:        []Edge{{From: "first", To: "last"}},
		InitialState: "first",
		FinalStates:  []string{"last"},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewDefinitionRegistry(nil, testLogger())

	if err := r.Register(linearDef("greeting", "v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(linearDef("greeting", "v2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, err := r.Get("greeting")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != "v2" {
		t.Errorf("latest version: got %q, want %q", def.Version, "v2")
	}

	def, err = r.GetVersion("greeting", "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != "v1" {
		t.Errorf("got %q, want %q", def.Version, "v1")
	}

	if err := r.Register(linearDef("greeting", "v1")); err == nil {
		t.Error("expected error registering duplicate version")
	}

	if _, err := r.Get("unknown"); err == nil {
		t.Error("expected error for unregistered flow")
	}
}

func TestRegistryFindByTrigger(t *testing.T) {
	r := NewDefinitionRegistry(nil, testLogger())
	if err := r.Register(linearDef("greeting", "v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def, ok := r.FindByTrigger("greeting"); !ok || def.ID != "greeting" {
		t.Errorf("got %v %v, want greeting flow", def, ok)
	}
	if _, ok := r.FindByTrigger("smalltalk"); ok {
		t.Error("unexpected trigger match")
	}
}

func TestRegistryFindByTriggerRegistrationOrder(t *testing.T) {
	r := NewDefinitionRegistry(nil, testLogger())

	// Two flows share the trigger; the one registered first always wins.
	first := linearDef("returns", "v1")
	first.Trigger = Trigger{Intents: []string{"order_help"}}
	second := linearDef("order_status", "v1")
	second.Trigger = Trigger{Intents: []string{"order_help"}}

	if err := r.Register(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 50; i++ {
		def, ok := r.FindByTrigger("order_help")
		if !ok || def.ID != "returns" {
			t.Fatalf("lookup %d: got %v %v, want first registered flow", i, def, ok)
		}
	}
}

func TestRegistryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FlowDefinition)
		wantErr string
	}{
		{
			name:    "valid definition",
			mutate:  func(d *FlowDefinition) {},
			wantErr: "",
		},
		{
			name:    "missing id",
			mutate:  func(d *FlowDefinition) { d.ID = "" },
			wantErr: "missing an id",
		},
		{
			name:    "missing version",
			mutate:  func(d *FlowDefinition) { d.Version = "" },
			wantErr: "missing a version",
		},
		{
			name:    "no states",
			mutate:  func(d *FlowDefinition) { d.States = nil },
			wantErr: "has no states",
		},
		{
			name: "duplicate state name",
			mutate: func(d *FlowDefinition) {
				d.States = append(d.States, State{Name: "first", Type: "respond"})
			},
			wantErr: "declares state first twice",
		},
		{
			name:    "unknown initial state",
			mutate:  func(d *FlowDefinition) { d.InitialState = "nowhere" },
			wantErr: "initial state nowhere does not exist",
		},
		{
			name:    "final initial state",
			mutate:  func(d *FlowDefinition) { d.FinalStates = []string{"first", "last"} },
			wantErr: "must not be final",
		},
		{
			name:    "unknown final state",
			mutate:  func(d *FlowDefinition) { d.FinalStates = append(d.FinalStates, "ghost") },
			wantErr: "final state ghost does not exist",
		},
		{
			name: "edge to unknown state",
			mutate: func(d *FlowDefinition) {
				d.Edges = append(d.Edges, Edge{From: "first", To: "ghost", Condition: "true == true"})
			},
			wantErr: "unknown target state",
		},
		{
			name: "outgoing edge from final state",
			mutate: func(d *FlowDefinition) {
				d.Edges = append(d.Edges, Edge{From: "last", To: "first"})
			},
			wantErr: "must not have outgoing edges",
		},
		{
			name: "no default edge",
			mutate: func(d *FlowDefinition) {
				d.Edges = []Edge{{From: "first", To: "last", Condition: "input.intent == 'x'"}}
			},
			wantErr: "has no default edge",
		},
		{
			name: "two default edges",
			mutate: func(d *FlowDefinition) {
				d.Edges = append(d.Edges, Edge{From: "first", To: "last", Default: true})
			},
			wantErr: "default edges, want exactly one",
		},
	}

	r := NewDefinitionRegistry(nil, testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := linearDef("greeting", "v1")
			tt.mutate(def)
			err := r.Validate(def)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryValidateUnknownExecutor(t *testing.T) {
	execs := NewExecutorRegistry()
	r := NewDefinitionRegistry(execs, testLogger())

	def := linearDef("greeting", "v1")
	err := r.Validate(def)
	if err == nil {
		t.Fatal("expected error for unknown executor type")
	}
	var ferr *FlowError
	if !errors.As(err, &ferr) || ferr.Code != ErrorCodeUnknownExecutor {
		t.Errorf("got %v, want %s flow error", err, ErrorCodeUnknownExecutor)
	}
}
