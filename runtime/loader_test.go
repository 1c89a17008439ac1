package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleFlowYAML = `id: greeting
version: v1
trigger:
  intents:
    - greeting
states:
  - name: greet
    type: respond
    config:
      text: "Hi there!"
  - name: bye
    type: respond
    awaitInput: true
    config:
      text: "Anything else?"
edges:
  - from: greet
    to: bye
initialState: greet
finalStates:
  - bye
`

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.yaml")
	if err := os.WriteFile(path, []byte(sampleFlowYAML), 0o644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.ID != "greeting" || def.Version != "v1" {
		t.Errorf("identity: got %s/%s", def.ID, def.Version)
	}
	if len(def.States) != 2 || def.States[0].Name != "greet" {
		t.Errorf("states: got %+v", def.States)
	}
	if def.States[0].Config["text"] != "Hi there!" {
		t.Errorf("config: got %v", def.States[0].Config)
	}
	if !def.States[1].AwaitInput {
		t.Error("awaitInput not parsed")
	}
	if !def.Triggers("greeting") {
		t.Error("trigger intent not parsed")
	}
	if def.InitialState != "greet" || !def.IsFinal("bye") {
		t.Errorf("topology: initial %q, finals %v", def.InitialState, def.FinalStates)
	}
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(sampleFlowYAML), 0o644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	defs, err := LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 1 {
		t.Errorf("got %d definitions, want 1", len(defs))
	}
}

func TestLoadDefinitionBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}
	if _, err := LoadDefinition(path); err == nil {
		t.Error("expected parse error")
	}
}
