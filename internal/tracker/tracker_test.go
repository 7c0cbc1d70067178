package tracker

import (
	"testing"
	"time"

	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTracker_StartEndOperation(t *testing.T) {
	tr := New(zap.NewNop())

	id := tr.StartOperation("create_flow", map[string]string{"flow_type": "discovery"})
	require.NotEmpty(t, id)
	require.NoError(t, tr.EndOperation(id, true, map[string]string{"flow_id": "f-1"}))

	m := tr.OperationMetrics("create_flow")
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.Successful)
	assert.Equal(t, 0, m.Failed)
	assert.Equal(t, 1.0, m.SuccessRate)
}

func TestTracker_EndOperationUnknownID(t *testing.T) {
	tr := New(zap.NewNop())

	err := tr.EndOperation("no-such-id", true, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation id")
}

func TestTracker_EndOperationTwice(t *testing.T) {
	tr := New(zap.NewNop())

	id := tr.StartOperation("execute_phase", nil)
	require.NoError(t, tr.EndOperation(id, true, nil))
	assert.Error(t, tr.EndOperation(id, true, nil))
}

func TestTracker_SuccessRate(t *testing.T) {
	tr := New(zap.NewNop())

	for i := 0; i < 3; i++ {
		id := tr.StartOperation("execute_phase", nil)
		require.NoError(t, tr.EndOperation(id, true, nil))
	}
	id := tr.StartOperation("execute_phase", nil)
	require.NoError(t, tr.EndOperation(id, false, nil))

	m := tr.OperationMetrics("execute_phase")
	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 3, m.Successful)
	assert.Equal(t, 1, m.Failed)
	assert.InDelta(t, 0.75, m.SuccessRate, 1e-9)
}

func TestTracker_MetricsPerOperationType(t *testing.T) {
	tr := New(zap.NewNop())

	id := tr.StartOperation("create_flow", nil)
	require.NoError(t, tr.EndOperation(id, true, nil))
	id = tr.StartOperation("delete_flow", nil)
	require.NoError(t, tr.EndOperation(id, false, nil))

	assert.Equal(t, 1, tr.OperationMetrics("create_flow").Total)
	assert.Equal(t, 1, tr.OperationMetrics("delete_flow").Total)
	assert.Equal(t, 0, tr.OperationMetrics("pause_flow").Total)

	summary := tr.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, 1, summary["create_flow"].Successful)
	assert.Equal(t, 1, summary["delete_flow"].Failed)
}

func TestTracker_WindowBounded(t *testing.T) {
	tr := New(zap.NewNop(), WithWindowSize(5))

	for i := 0; i < 8; i++ {
		id := tr.StartOperation("op", nil)
		require.NoError(t, tr.EndOperation(id, true, nil))
	}

	// Only the newest 5 records remain.
	assert.Equal(t, 5, tr.OperationMetrics("op").Total)
}

func TestTracker_AuditTrail(t *testing.T) {
	tr := New(zap.NewNop(), WithAuditSize(3))

	for i, action := range []string{"a", "b", "c", "d"} {
		tr.RecordAuditEvent(model.AuditEvent{
			Action: action,
			FlowID: "f-1",
			Details: map[string]string{
				"seq": string(rune('0' + i)),
			},
		})
	}

	events := tr.AuditEvents()
	require.Len(t, events, 3)
	assert.Equal(t, "b", events[0].Action)
	assert.Equal(t, "d", events[2].Action)
	for _, e := range events {
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestTracker_AuditEventKeepsExplicitTimestamp(t *testing.T) {
	tr := New(zap.NewNop())

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.RecordAuditEvent(model.AuditEvent{Action: "created", Timestamp: ts})

	events := tr.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, ts, events[0].Timestamp)
}
