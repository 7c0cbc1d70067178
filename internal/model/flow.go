package model

import "time"

// FlowStatus represents the lifecycle state of a flow
type FlowStatus string

const (
	FlowStatusCreated   FlowStatus = "created"
	FlowStatusRunning   FlowStatus = "running"
	FlowStatusPaused    FlowStatus = "paused"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
	FlowStatusCancelled FlowStatus = "cancelled"
	FlowStatusDeleted   FlowStatus = "deleted"
)

// validTransitions defines all legal status changes. Transitions are
// monotonic except for the paused/running pair. Soft deletion is handled
// separately because "deleted" is reachable from any state.
var validTransitions = map[FlowStatus][]FlowStatus{
	FlowStatusCreated: {FlowStatusRunning, FlowStatusCancelled},
	FlowStatusRunning: {FlowStatusPaused, FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled},
	FlowStatusPaused:  {FlowStatusRunning, FlowStatusCancelled},
}

// CanTransition reports whether a flow may move from one status to another.
func CanTransition(from, to FlowStatus) bool {
	if to == FlowStatusDeleted {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions
// other than deletion.
func (s FlowStatus) IsTerminal() bool {
	switch s {
	case FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled, FlowStatusDeleted:
		return true
	default:
		return false
	}
}

// Persistence data keys maintained by the orchestrator.
const (
	KeyLastCompletedPhase = "last_completed_phase"
	KeyPhaseResults       = "phases"
)

// Flow is the central mutable entity driven through an ordered phase
// sequence by the orchestrator.
type Flow struct {
	ID           string     `json:"id"`
	FlowType     string     `json:"flow_type"`
	Name         string     `json:"name"`
	Status       FlowStatus `json:"status"`
	CurrentPhase string     `json:"current_phase,omitempty"`

	// Configuration is set at creation and never mutated by the
	// orchestrator.
	Configuration map[string]any `json:"configuration,omitempty"`

	// PersistenceData accumulates phase outputs plus the resume marker
	// under KeyLastCompletedPhase.
	PersistenceData map[string]any `json:"persistence_data,omitempty"`

	// StateBlob is the durable, size-capped representation of
	// PersistenceData produced by the state serializer.
	StateBlob []byte `json:"-"`

	// PhaseDurations records wall-clock execution time per phase.
	PhaseDurations map[string]time.Duration `json:"phase_execution_times,omitempty"`

	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`

	PauseReason string `json:"pause_reason,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	Version   int64      `json:"version"` // For optimistic locking
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// LastCompletedPhase returns the resume marker, or "" when no phase has
// completed yet.
func (f *Flow) LastCompletedPhase() string {
	if f.PersistenceData == nil {
		return ""
	}
	if v, ok := f.PersistenceData[KeyLastCompletedPhase].(string); ok {
		return v
	}
	return ""
}

// PhaseResults returns the per-phase output documents recorded so far.
func (f *Flow) PhaseResults() map[string]any {
	if f.PersistenceData == nil {
		return nil
	}
	if v, ok := f.PersistenceData[KeyPhaseResults].(map[string]any); ok {
		return v
	}
	return nil
}

// PhaseCompleted reports whether a result document was recorded for the
// named phase.
func (f *Flow) PhaseCompleted(phase string) bool {
	results := f.PhaseResults()
	if results == nil {
		return false
	}
	_, ok := results[phase]
	return ok
}
