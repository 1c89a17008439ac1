package runtime

import (
	"fmt"
	"testing"
)

// fakeAssignments is an in-memory AssignmentStore for version manager tests.
type fakeAssignments struct {
	assignments map[string]string
	outcomes    []string
	putCalls    int
}

func newFakeAssignments() *fakeAssignments {
	return &fakeAssignments{assignments: make(map[string]string)}
}

func (f *fakeAssignments) Assignment(flowID, sessionID string) (string, bool, error) {
	v, ok := f.assignments[flowID+"/"+sessionID]
	return v, ok, nil
}

func (f *fakeAssignments) PutAssignment(flowID, sessionID, version string) error {
	f.putCalls++
	f.assignments[flowID+"/"+sessionID] = version
	return nil
}

func (f *fakeAssignments) RecordOutcome(flowID, sessionID, version string, converted bool, metric string) error {
	f.outcomes = append(f.outcomes, flowID+"/"+sessionID+"/"+version)
	return nil
}

func (f *fakeAssignments) Results(flowID string) (map[string]VersionStats, error) {
	return map[string]VersionStats{}, nil
}

func newTestVersionManager(t *testing.T) (*VersionManager, *fakeAssignments) {
	t.Helper()
	registry := NewDefinitionRegistry(nil, testLogger())
	assignments := newFakeAssignments()
	return NewVersionManager(registry, assignments, testLogger()), assignments
}

func TestSelectVersionStableAssignment(t *testing.T) {
	m, assignments := newTestVersionManager(t)
	if err := m.RegisterVersion(linearDef("greeting", "v1"), 50, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RegisterVersion(linearDef("greeting", "v2"), 50, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := m.SelectVersion("greeting", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		def, err := m.SelectVersion("greeting", "session-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if def.Version != first.Version {
			t.Fatalf("assignment changed: got %q, want %q", def.Version, first.Version)
		}
	}
	if assignments.putCalls != 1 {
		t.Errorf("assignment persisted %d times, want once", assignments.putCalls)
	}
}

func TestSelectVersionHonorsStoredAssignment(t *testing.T) {
	m, assignments := newTestVersionManager(t)
	if err := m.RegisterVersion(linearDef("greeting", "v1"), 100, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RegisterVersion(linearDef("greeting", "v2"), 0, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A session assigned before v2 shipped keeps running v2 if that is what
	// the store says, regardless of current weights.
	assignments.assignments["greeting/session-old"] = "v2"

	def, err := m.SelectVersion("greeting", "session-old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != "v2" {
		t.Errorf("got %q, want stored assignment v2", def.Version)
	}
}

func TestSelectVersionDistribution(t *testing.T) {
	m, _ := newTestVersionManager(t)
	if err := m.RegisterVersion(linearDef("greeting", "v1"), 70, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RegisterVersion(linearDef("greeting", "v2"), 30, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		def, err := m.SelectVersion("greeting", fmt.Sprintf("session-%d", i))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[def.Version]++
	}

	// Hash bucketing is not exact; allow a generous band around 70/30.
	if counts["v1"] < 600 || counts["v1"] > 800 {
		t.Errorf("v1 share out of band: %d of 1000", counts["v1"])
	}
	if counts["v1"]+counts["v2"] != 1000 {
		t.Errorf("sessions lost: %v", counts)
	}
}

func TestSelectVersionWithoutVariants(t *testing.T) {
	m, _ := newTestVersionManager(t)

	// Registered directly on the registry, never enrolled in an experiment.
	if err := m.registry.Register(linearDef("greeting", "v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, err := m.SelectVersion("greeting", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != "v1" {
		t.Errorf("got %q, want %q", def.Version, "v1")
	}
}

func TestSelectVersionZeroTotalWeightUsesDefault(t *testing.T) {
	m, _ := newTestVersionManager(t)
	if err := m.RegisterVersion(linearDef("greeting", "v1"), 0, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RegisterVersion(linearDef("greeting", "v2"), 0, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, err := m.SelectVersion("greeting", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != "v2" {
		t.Errorf("got %q, want pinned default v2", def.Version)
	}
}

func TestRecordOutcomeRequiresAssignment(t *testing.T) {
	m, assignments := newTestVersionManager(t)
	if err := m.RegisterVersion(linearDef("greeting", "v1"), 100, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.RecordOutcome("greeting", "session-1", true, "converted"); err == nil {
		t.Error("expected error for session without assignment")
	}

	if _, err := m.SelectVersion("greeting", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RecordOutcome("greeting", "session-1", true, "converted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assignments.outcomes) != 1 {
		t.Errorf("got %d outcomes, want 1", len(assignments.outcomes))
	}
}

func TestRegisterVersionNegativeWeight(t *testing.T) {
	m, _ := newTestVersionManager(t)
	if err := m.RegisterVersion(linearDef("greeting", "v1"), -1, false); err == nil {
		t.Error("expected error for negative weight")
	}
}
