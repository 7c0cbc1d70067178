package store

import (
	"context"
	"testing"

	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTenantStore_Quota(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	_, err := s.GetQuota(ctx, "tenant-1")
	assert.ErrorIs(t, err, ErrNotFound)

	quota := model.TenantQuota{MaxConcurrentFlows: 5, MaxTotalFlowsPerDay: 50, MaxStorageMB: 100}
	require.NoError(t, s.SetQuota(ctx, "tenant-1", quota))

	got, err := s.GetQuota(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, quota, *got)
}

func TestMemoryTenantStore_ApplyLifecycleEvents(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	m, err := s.Apply(ctx, "tenant-1", model.TenantEventCreated)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CurrentFlows)
	assert.Equal(t, 1, m.TotalFlowsToday)

	m, err = s.Apply(ctx, "tenant-1", model.TenantEventCreated)
	require.NoError(t, err)
	assert.Equal(t, 2, m.CurrentFlows)
	assert.Equal(t, 2, m.TotalFlowsToday)

	// Deleting frees a concurrent slot but the daily counter keeps
	// counting creations.
	m, err = s.Apply(ctx, "tenant-1", model.TenantEventDeleted)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CurrentFlows)
	assert.Equal(t, 2, m.TotalFlowsToday)
	assert.False(t, m.LastActivity.IsZero())
}

func TestMemoryTenantStore_DeleteClampsAtZero(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	m, err := s.Apply(ctx, "tenant-1", model.TenantEventDeleted)
	require.NoError(t, err)
	assert.Equal(t, 0, m.CurrentFlows)
}

func TestMemoryTenantStore_Storage(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	m, err := s.AddStorage(ctx, "tenant-1", 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, m.StorageUsedMB, 1e-9)

	m, err = s.AddStorage(ctx, "tenant-1", -1.0)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, m.StorageUsedMB, 1e-9)

	// Releases never drive the counter negative.
	m, err = s.AddStorage(ctx, "tenant-1", -10)
	require.NoError(t, err)
	assert.Zero(t, m.StorageUsedMB)
}

func TestMemoryTenantStore_Owners(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	_, err := s.GetOwner(ctx, "f-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetOwner(ctx, "f-1", "tenant-1"))
	owner, err := s.GetOwner(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", owner)

	require.NoError(t, s.RemoveOwner(ctx, "f-1"))
	_, err = s.GetOwner(ctx, "f-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTenantStore_MetricsIsolatedPerTenant(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	_, err := s.Apply(ctx, "tenant-1", model.TenantEventCreated)
	require.NoError(t, err)

	m, err := s.GetMetrics(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Zero(t, m.CurrentFlows)
	assert.Equal(t, "tenant-2", m.TenantID)
	assert.NotEmpty(t, m.Day)
}
