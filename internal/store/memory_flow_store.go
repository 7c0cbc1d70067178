package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stratoshift/orchestrator/internal/model"
)

// MemoryFlowStore implements FlowStore with an in-memory map. Used for
// embedded deployments and tests.
type MemoryFlowStore struct {
	mu    sync.RWMutex
	flows map[string]*model.Flow
}

// NewMemoryFlowStore creates an empty in-memory flow store
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: make(map[string]*model.Flow)}
}

// Create stores a new flow record
func (s *MemoryFlowStore) Create(_ context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flows[flow.ID]; exists {
		return ErrVersionConflict
	}
	s.flows[flow.ID] = cloneFlow(flow)
	return nil
}

// Get returns a copy of the stored flow
func (s *MemoryFlowStore) Get(_ context.Context, flowID string) (*model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFlow(flow), nil
}

// Update persists the flow with optimistic version checking
func (s *MemoryFlowStore) Update(_ context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.flows[flow.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != flow.Version {
		return ErrVersionConflict
	}
	next := cloneFlow(flow)
	next.Version++
	next.UpdatedAt = time.Now()
	s.flows[flow.ID] = next
	flow.Version = next.Version
	flow.UpdatedAt = next.UpdatedAt
	return nil
}

// UpdateStatus updates only the status of the stored flow
func (s *MemoryFlowStore) UpdateStatus(_ context.Context, flowID string, status model.FlowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.flows[flowID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = status
	stored.Version++
	stored.UpdatedAt = time.Now()
	return nil
}

// ListActive returns non-terminal, non-deleted flows, newest first
func (s *MemoryFlowStore) ListActive(_ context.Context, limit int) ([]*model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*model.Flow
	for _, flow := range s.flows {
		if flow.Status.IsTerminal() || flow.DeletedAt != nil {
			continue
		}
		active = append(active, cloneFlow(flow))
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

// Delete removes the flow record
func (s *MemoryFlowStore) Delete(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flowID]; !ok {
		return ErrNotFound
	}
	delete(s.flows, flowID)
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryFlowStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryFlowStore) Close() {}

// cloneFlow copies a flow deeply enough that callers cannot mutate
// stored state through shared maps.
func cloneFlow(f *model.Flow) *model.Flow {
	out := *f
	out.Configuration = cloneDoc(f.Configuration)
	out.PersistenceData = cloneDoc(f.PersistenceData)
	if f.PhaseDurations != nil {
		out.PhaseDurations = make(map[string]time.Duration, len(f.PhaseDurations))
		for k, v := range f.PhaseDurations {
			out.PhaseDurations[k] = v
		}
	}
	if f.StateBlob != nil {
		out.StateBlob = append([]byte(nil), f.StateBlob...)
	}
	return &out
}

// cloneDoc deep-copies the nested map-and-slice shapes produced by JSON
// decoding. Scalar leaves are immutable and shared.
func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
