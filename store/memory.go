package store

import (
	"sort"
	"sync"

	"convoflow/runtime"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs unit tests and
// single-process deployments that can afford to lose state on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions []*runtime.FlowDefinition
	runs        map[string]*runtime.FlowRun
	steps       map[string][]*runtime.FlowRunStep
	assignments map[string]string // flowID/sessionID -> version
	outcomes    []outcome
}

type outcome struct {
	flowID    string
	sessionID string
	version   string
	converted bool
	metric    string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*runtime.FlowRun),
		steps:       make(map[string][]*runtime.FlowRunStep),
		assignments: make(map[string]string),
	}
}

func (s *MemoryStore) SaveDefinition(def *runtime.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.definitions {
		if existing.ID == def.ID && existing.Version == def.Version {
			return nil
		}
	}
	s.definitions = append(s.definitions, def)
	return nil
}

func (s *MemoryStore) GetDefinition(flowID, version string) (*runtime.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, def := range s.definitions {
		if def.ID == flowID && def.Version == version {
			return def, nil
		}
	}
	return nil, ErrDefinitionNotFound
}

func (s *MemoryStore) ListDefinitions() ([]*runtime.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*runtime.FlowDefinition, len(s.definitions))
	copy(defs, s.definitions)
	return defs, nil
}

func (s *MemoryStore) SaveRun(run *runtime.FlowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *MemoryStore) UpdateRun(run *runtime.FlowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return runtime.ErrRunNotFound
	}
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *MemoryStore) GetRun(id string) (*runtime.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, runtime.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *MemoryStore) ActiveRun(sessionID, flowID string) (*runtime.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.SessionID == sessionID && run.FlowID == flowID && run.Status.Active() {
			copied := *run
			return &copied, nil
		}
	}
	return nil, runtime.ErrRunNotFound
}

func (s *MemoryStore) ActiveSessionRun(sessionID string) (*runtime.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.SessionID == sessionID && run.Status.Active() {
			copied := *run
			return &copied, nil
		}
	}
	return nil, runtime.ErrRunNotFound
}

func (s *MemoryStore) ListRuns(filter RunFilter) ([]*runtime.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []*runtime.FlowRun
	for _, run := range s.runs {
		if filter.FlowID != "" && run.FlowID != filter.FlowID {
			continue
		}
		if filter.SessionID != "" && run.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

func (s *MemoryStore) AppendStep(step *runtime.FlowRunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *step
	s.steps[step.FlowRunID] = append(s.steps[step.FlowRunID], &copied)
	return nil
}

func (s *MemoryStore) ListSteps(runID string) ([]*runtime.FlowRunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := make([]*runtime.FlowRunStep, len(s.steps[runID]))
	copy(steps, s.steps[runID])
	return steps, nil
}

func (s *MemoryStore) Assignment(flowID, sessionID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.assignments[flowID+"/"+sessionID]
	return version, ok, nil
}

func (s *MemoryStore) PutAssignment(flowID, sessionID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// First write wins: an assignment is never reassigned mid-run.
	key := flowID + "/" + sessionID
	if _, ok := s.assignments[key]; !ok {
		s.assignments[key] = version
	}
	return nil
}

func (s *MemoryStore) RecordOutcome(flowID, sessionID, version string, converted bool, metric string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome{flowID, sessionID, version, converted, metric})
	return nil
}

func (s *MemoryStore) Results(flowID string) (map[string]runtime.VersionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]runtime.VersionStats)
	for key, version := range s.assignments {
		if len(key) > len(flowID) && key[:len(flowID)+1] == flowID+"/" {
			stats := results[version]
			stats.Sessions++
			results[version] = stats
		}
	}
	for _, o := range s.outcomes {
		if o.flowID != flowID {
			continue
		}
		stats := results[o.version]
		stats.Outcomes++
		if o.converted {
			stats.Converted++
		}
		results[o.version] = stats
	}
	return results, nil
}
