package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from FlowStatus
		to   FlowStatus
		want bool
	}{
		{FlowStatusCreated, FlowStatusRunning, true},
		{FlowStatusCreated, FlowStatusCancelled, true},
		{FlowStatusCreated, FlowStatusPaused, false},
		{FlowStatusCreated, FlowStatusCompleted, false},
		{FlowStatusRunning, FlowStatusPaused, true},
		{FlowStatusRunning, FlowStatusCompleted, true},
		{FlowStatusRunning, FlowStatusFailed, true},
		{FlowStatusRunning, FlowStatusCancelled, true},
		{FlowStatusPaused, FlowStatusRunning, true},
		{FlowStatusPaused, FlowStatusCancelled, true},
		{FlowStatusPaused, FlowStatusCompleted, false},
		{FlowStatusCompleted, FlowStatusRunning, false},
		{FlowStatusFailed, FlowStatusRunning, false},
		{FlowStatusCancelled, FlowStatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

// Deletion is orthogonal to the lifecycle: every status may be deleted.
func TestCanTransition_DeleteFromAnyStatus(t *testing.T) {
	all := []FlowStatus{
		FlowStatusCreated, FlowStatusRunning, FlowStatusPaused,
		FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled,
	}
	for _, from := range all {
		assert.True(t, CanTransition(from, FlowStatusDeleted), "from %s", from)
	}
}

func TestFlowStatus_IsTerminal(t *testing.T) {
	assert.False(t, FlowStatusCreated.IsTerminal())
	assert.False(t, FlowStatusRunning.IsTerminal())
	assert.False(t, FlowStatusPaused.IsTerminal())
	assert.True(t, FlowStatusCompleted.IsTerminal())
	assert.True(t, FlowStatusFailed.IsTerminal())
	assert.True(t, FlowStatusCancelled.IsTerminal())
	assert.True(t, FlowStatusDeleted.IsTerminal())
}

func TestFlow_PersistenceHelpers(t *testing.T) {
	f := &Flow{}
	assert.Empty(t, f.LastCompletedPhase())
	assert.Nil(t, f.PhaseResults())
	assert.False(t, f.PhaseCompleted("plan"))

	f.PersistenceData = map[string]any{
		KeyLastCompletedPhase: "plan",
		KeyPhaseResults: map[string]any{
			"plan": map[string]any{"hosts": 3},
		},
	}
	assert.Equal(t, "plan", f.LastCompletedPhase())
	assert.True(t, f.PhaseCompleted("plan"))
	assert.False(t, f.PhaseCompleted("cutover"))
}

func TestAccessContext_Target(t *testing.T) {
	a := AccessContext{TenantID: "t1"}
	assert.Equal(t, "t1", a.Target())

	a.TargetTenantID = "t2"
	assert.Equal(t, "t2", a.Target())
}
