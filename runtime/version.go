package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/spaolacci/murmur3"
)

// variant is one weighted version of a flow participating in an experiment.
type variant struct {
	version   string
	weight    uint64
	isDefault bool
}

// VersionManager assigns a flow version to each session and keeps the
// assignment stable for the session's lifetime. Bucketing hashes the
// (flow, session) pair, so the same session always lands on the same
// version without any coordination between instances.
type VersionManager struct {
	mu       sync.RWMutex
	variants map[string][]variant

	registry    *DefinitionRegistry
	assignments AssignmentStore
	cache       *gocache.Cache
	l           *slog.Logger
}

func NewVersionManager(registry *DefinitionRegistry, assignments AssignmentStore, l *slog.Logger) *VersionManager {
	return &VersionManager{
		variants:    make(map[string][]variant),
		registry:    registry,
		assignments: assignments,
		cache:       gocache.New(30*time.Minute, 10*time.Minute),
		l:           l,
	}
}

// RegisterVersion registers the definition and enrolls it in its flow's
// experiment with the given weight. Weight zero removes the version from
// bucketing; it can still be pinned as the default.
func (m *VersionManager) RegisterVersion(def *FlowDefinition, weight int, isDefault bool) error {
	if weight < 0 {
		return fmt.Errorf("flow %s version %s has negative weight %d", def.ID, def.Version, weight)
	}
	if err := m.registry.Register(def); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[def.ID] = append(m.variants[def.ID], variant{
		version:   def.Version,
		weight:    uint64(weight),
		isDefault: isDefault,
	})
	return nil
}

// SelectVersion returns the definition assigned to the session, assigning
// one on first call. The assignment is persisted and never changes, so a
// run started on V1 resumes on V1 even after new versions ship.
func (m *VersionManager) SelectVersion(flowID, sessionID string) (*FlowDefinition, error) {
	cacheKey := flowID + "/" + sessionID
	if v, ok := m.cache.Get(cacheKey); ok {
		return m.registry.GetVersion(flowID, v.(string))
	}

	if version, ok, err := m.assignments.Assignment(flowID, sessionID); err != nil {
		return nil, fmt.Errorf("error loading version assignment: %w", err)
	} else if ok {
		m.cache.SetDefault(cacheKey, version)
		return m.registry.GetVersion(flowID, version)
	}

	version, err := m.pickVersion(flowID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.assignments.PutAssignment(flowID, sessionID, version); err != nil {
		return nil, fmt.Errorf("error persisting version assignment: %w", err)
	}
	m.cache.SetDefault(cacheKey, version)
	m.l.Info("assigned flow version", "flow", flowID, "session", sessionID, "version", version)

	return m.registry.GetVersion(flowID, version)
}

// pickVersion buckets the session over the cumulative variant weights.
func (m *VersionManager) pickVersion(flowID, sessionID string) (string, error) {
	m.mu.RLock()
	variants := m.variants[flowID]
	m.mu.RUnlock()

	if len(variants) == 0 {
		// Flow registered directly on the registry, not experimented.
		def, err := m.registry.Get(flowID)
		if err != nil {
			return "", err
		}
		return def.Version, nil
	}

	var total uint64
	for _, v := range variants {
		total += v.weight
	}
	if total == 0 {
		return defaultVariant(variants).version, nil
	}

	bucket := murmur3.Sum64([]byte(flowID+":"+sessionID)) % total
	var cumulative uint64
	for _, v := range variants {
		cumulative += v.weight
		if bucket < cumulative {
			return v.version, nil
		}
	}
	return defaultVariant(variants).version, nil
}

func defaultVariant(variants []variant) variant {
	for _, v := range variants {
		if v.isDefault {
			return v
		}
	}
	return variants[0]
}

// RecordOutcome records an experiment event against the session's assigned
// version. Sessions that never went through SelectVersion are rejected so
// aggregates stay attributable.
func (m *VersionManager) RecordOutcome(flowID, sessionID string, converted bool, metric string) error {
	version, ok, err := m.assignments.Assignment(flowID, sessionID)
	if err != nil {
		return fmt.Errorf("error loading version assignment: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s has no version assignment for flow %s", sessionID, flowID)
	}
	return m.assignments.RecordOutcome(flowID, sessionID, version, converted, metric)
}

// Results returns per-version aggregate counts for a flow.
func (m *VersionManager) Results(flowID string) (map[string]VersionStats, error) {
	return m.assignments.Results(flowID)
}
