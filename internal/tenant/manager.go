// Package tenant enforces caller-to-tenant-to-flow ownership and
// per-tenant resource quotas.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stratoshift/orchestrator/internal/metrics"
	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stratoshift/orchestrator/internal/store"
	"go.uber.org/zap"
)

// RoleChecker is the identity/role collaborator consulted for admin
// operations.
type RoleChecker interface {
	IsPlatformAdmin(ctx context.Context, userID string) (bool, error)
}

// QuotaOp describes the operation a quota check admits.
type QuotaOp struct {
	// Kind is "create_flow" or "store_state".
	Kind string
	// StorageDeltaMB is the storage growth a store_state operation would
	// cause.
	StorageDeltaMB float64
}

// Manager validates tenant access and enforces quotas. Quota checks and
// counter updates for one tenant are serialized through a per-tenant
// lock, so two concurrent creations cannot both pass a one-slot-left
// check.
type Manager struct {
	stateStore store.TenantStateStore
	roles      RoleChecker
	defaults   model.TenantQuota

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewManager creates a tenant manager. defaults apply to tenants without
// an explicit quota.
func NewManager(
	stateStore store.TenantStateStore,
	roles RoleChecker,
	defaults model.TenantQuota,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		stateStore: stateStore,
		roles:      roles,
		defaults:   defaults,
		locks:      make(map[string]*sync.Mutex),
		metrics:    m,
		logger:     logger,
	}
}

// tenantLock returns the mutex serializing counter mutations for one
// tenant.
func (m *Manager) tenantLock(tenantID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[tenantID] = mu
	}
	return mu
}

// ValidateAccess checks that the caller may act on the addressed tenant.
func (m *Manager) ValidateAccess(_ context.Context, access model.AccessContext) error {
	if access.TenantID == "" {
		return orcherr.TenantIsolation("access context is missing a tenant id")
	}
	if access.TargetTenantID != "" && access.TargetTenantID != access.TenantID &&
		access.Isolation == model.IsolationStrict {
		return orcherr.TenantIsolation(
			fmt.Sprintf("strict isolation forbids tenant %s acting on tenant %s",
				access.TenantID, access.TargetTenantID)).
			WithDetail("tenant_id", access.TenantID).
			WithDetail("target_tenant_id", access.TargetTenantID)
	}
	return nil
}

// ValidateOwnership reports whether the flow belongs to the tenant.
func (m *Manager) ValidateOwnership(ctx context.Context, tenantID, flowID string) (bool, error) {
	owner, err := m.stateStore.GetOwner(ctx, flowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve flow owner: %w", err)
	}
	return owner == tenantID, nil
}

// Quota returns the effective quota for a tenant.
func (m *Manager) Quota(ctx context.Context, tenantID string) (model.TenantQuota, error) {
	quota, err := m.stateStore.GetQuota(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return m.defaults, nil
		}
		return model.TenantQuota{}, fmt.Errorf("failed to load quota: %w", err)
	}
	return *quota, nil
}

// CheckQuota fails with QuotaExceeded, naming the violated dimension,
// when post-operation metrics would exceed the tenant's quota.
func (m *Manager) CheckQuota(ctx context.Context, access model.AccessContext, op QuotaOp) error {
	tenantID := access.Target()
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	return m.checkQuotaLocked(ctx, tenantID, op)
}

func (m *Manager) checkQuotaLocked(ctx context.Context, tenantID string, op QuotaOp) error {
	quota, err := m.Quota(ctx, tenantID)
	if err != nil {
		return err
	}
	current, err := m.stateStore.GetMetrics(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant metrics: %w", err)
	}

	var violated *orcherr.Error
	switch op.Kind {
	case "create_flow":
		if quota.MaxConcurrentFlows > 0 && current.CurrentFlows+1 > quota.MaxConcurrentFlows {
			violated = orcherr.QuotaExceeded(tenantID, orcherr.DimConcurrentFlows,
				float64(current.CurrentFlows+1), float64(quota.MaxConcurrentFlows))
		} else if quota.MaxTotalFlowsPerDay > 0 && current.TotalFlowsToday+1 > quota.MaxTotalFlowsPerDay {
			violated = orcherr.QuotaExceeded(tenantID, orcherr.DimDailyFlows,
				float64(current.TotalFlowsToday+1), float64(quota.MaxTotalFlowsPerDay))
		}
	case "store_state":
		if quota.MaxStorageMB > 0 && current.StorageUsedMB+op.StorageDeltaMB > quota.MaxStorageMB {
			violated = orcherr.QuotaExceeded(tenantID, orcherr.DimStorageMB,
				current.StorageUsedMB+op.StorageDeltaMB, quota.MaxStorageMB)
		}
	default:
		return orcherr.InvalidArgument("unknown quota operation: "+op.Kind, nil)
	}

	if violated != nil {
		if m.metrics != nil {
			dimension, _ := violated.Details["dimension"].(string)
			m.metrics.QuotaRejections.WithLabelValues(tenantID, dimension).Inc()
		}
		m.logger.Info("Quota check rejected operation",
			zap.String("tenant_id", tenantID),
			zap.String("operation", op.Kind),
			zap.String("dimension", fmt.Sprint(violated.Details["dimension"])))
		return violated
	}
	return nil
}

// Track atomically updates tenant counters and the flow-to-tenant
// mapping for one lifecycle event.
func (m *Manager) Track(ctx context.Context, tenantID, flowID string, event model.TenantEvent) error {
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	return m.trackLocked(ctx, tenantID, flowID, event)
}

func (m *Manager) trackLocked(ctx context.Context, tenantID, flowID string, event model.TenantEvent) error {
	switch event {
	case model.TenantEventCreated:
		if err := m.stateStore.SetOwner(ctx, flowID, tenantID); err != nil {
			return fmt.Errorf("failed to record flow ownership: %w", err)
		}
	case model.TenantEventDeleted:
		if err := m.stateStore.RemoveOwner(ctx, flowID); err != nil {
			return fmt.Errorf("failed to remove flow ownership: %w", err)
		}
	default:
		return orcherr.InvalidArgument("unknown tenant event: "+string(event), nil)
	}

	if _, err := m.stateStore.Apply(ctx, tenantID, event); err != nil {
		return fmt.Errorf("failed to apply tenant event: %w", err)
	}

	m.logger.Debug("Tracked tenant event",
		zap.String("tenant_id", tenantID),
		zap.String("flow_id", flowID),
		zap.String("event", string(event)))
	return nil
}

// Admit performs the create-flow quota check and the created-event
// tracking as one atomic step under the tenant lock. On admission
// failure no counter is touched.
func (m *Manager) Admit(ctx context.Context, access model.AccessContext, flowID string) error {
	tenantID := access.Target()
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	if err := m.checkQuotaLocked(ctx, tenantID, QuotaOp{Kind: "create_flow"}); err != nil {
		return err
	}
	return m.trackLocked(ctx, tenantID, flowID, model.TenantEventCreated)
}

// RecordStorage adjusts the tenant's storage counter after a state write.
func (m *Manager) RecordStorage(ctx context.Context, tenantID string, deltaMB float64) error {
	if deltaMB == 0 {
		return nil
	}
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	if _, err := m.stateStore.AddStorage(ctx, tenantID, deltaMB); err != nil {
		return fmt.Errorf("failed to record storage usage: %w", err)
	}
	return nil
}

// Metrics returns the live counters for a tenant.
func (m *Manager) Metrics(ctx context.Context, tenantID string) (*model.TenantMetrics, error) {
	return m.stateStore.GetMetrics(ctx, tenantID)
}

// SetQuota updates a tenant's quota. Requires the caller to be a
// platform admin per the identity collaborator.
func (m *Manager) SetQuota(ctx context.Context, admin model.AccessContext, targetTenant string, quota model.TenantQuota) error {
	if admin.UserID == "" {
		return orcherr.PermissionDenied("quota changes require an authenticated user")
	}
	isAdmin, err := m.roles.IsPlatformAdmin(ctx, admin.UserID)
	if err != nil {
		return fmt.Errorf("failed to check admin role: %w", err)
	}
	if !isAdmin {
		return orcherr.PermissionDenied(
			fmt.Sprintf("user %s is not a platform admin", admin.UserID))
	}

	if err := m.stateStore.SetQuota(ctx, targetTenant, quota); err != nil {
		return fmt.Errorf("failed to store quota: %w", err)
	}

	m.logger.Info("Updated tenant quota",
		zap.String("tenant_id", targetTenant),
		zap.Int("max_concurrent_flows", quota.MaxConcurrentFlows),
		zap.Int("max_total_flows_per_day", quota.MaxTotalFlowsPerDay),
		zap.Float64("max_storage_mb", quota.MaxStorageMB))
	return nil
}
