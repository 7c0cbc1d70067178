package store

import (
	"context"
	"sync"
	"time"

	"github.com/stratoshift/orchestrator/internal/model"
)

// MemoryTenantStore implements TenantStateStore with in-memory maps.
// Counter mutations take the store lock, giving single-writer-per-tenant
// semantics within the process.
type MemoryTenantStore struct {
	mu      sync.Mutex
	quotas  map[string]model.TenantQuota
	metrics map[string]*model.TenantMetrics
	owners  map[string]string
}

// NewMemoryTenantStore creates an empty in-memory tenant store
func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{
		quotas:  make(map[string]model.TenantQuota),
		metrics: make(map[string]*model.TenantMetrics),
		owners:  make(map[string]string),
	}
}

// GetQuota returns the quota set for a tenant
func (s *MemoryTenantStore) GetQuota(_ context.Context, tenantID string) (*model.TenantQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quota, ok := s.quotas[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &quota, nil
}

// SetQuota stores the quota for a tenant
func (s *MemoryTenantStore) SetQuota(_ context.Context, tenantID string, quota model.TenantQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[tenantID] = quota
	return nil
}

// GetMetrics returns a copy of the tenant's live counters
func (s *MemoryTenantStore) GetMetrics(_ context.Context, tenantID string) (*model.TenantMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(tenantID, time.Now())
	out := *m
	return &out, nil
}

// metricsLocked returns the live counter record, lazily rolling the daily
// counter over when the UTC day changed.
func (s *MemoryTenantStore) metricsLocked(tenantID string, now time.Time) *model.TenantMetrics {
	m, ok := s.metrics[tenantID]
	if !ok {
		m = &model.TenantMetrics{TenantID: tenantID, Day: model.DayBucket(now)}
		s.metrics[tenantID] = m
	}
	if day := model.DayBucket(now); m.Day != day {
		m.Day = day
		m.TotalFlowsToday = 0
	}
	return m
}

// Apply atomically mutates counters for one lifecycle event
func (s *MemoryTenantStore) Apply(_ context.Context, tenantID string, event model.TenantEvent) (*model.TenantMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	m := s.metricsLocked(tenantID, now)
	switch event {
	case model.TenantEventCreated:
		m.CurrentFlows++
		m.TotalFlowsToday++
	case model.TenantEventDeleted:
		if m.CurrentFlows > 0 {
			m.CurrentFlows--
		}
	}
	m.LastActivity = now

	out := *m
	return &out, nil
}

// AddStorage atomically adjusts the storage counter
func (s *MemoryTenantStore) AddStorage(_ context.Context, tenantID string, deltaMB float64) (*model.TenantMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	m := s.metricsLocked(tenantID, now)
	m.StorageUsedMB += deltaMB
	if m.StorageUsedMB < 0 {
		m.StorageUsedMB = 0
	}
	m.LastActivity = now

	out := *m
	return &out, nil
}

// SetOwner records the flow-to-tenant mapping
func (s *MemoryTenantStore) SetOwner(_ context.Context, flowID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[flowID] = tenantID
	return nil
}

// GetOwner returns the tenant owning a flow
func (s *MemoryTenantStore) GetOwner(_ context.Context, flowID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenantID, ok := s.owners[flowID]
	if !ok {
		return "", ErrNotFound
	}
	return tenantID, nil
}

// RemoveOwner drops the flow-to-tenant mapping
func (s *MemoryTenantStore) RemoveOwner(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, flowID)
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryTenantStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryTenantStore) Close() error {
	return nil
}
