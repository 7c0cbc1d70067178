package store

import (
	"context"
	"errors"

	"github.com/stratoshift/orchestrator/internal/model"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic update loses a race
var ErrVersionConflict = errors.New("version conflict")

// FlowStore is the persistence collaborator for flow records. All
// durable storage is delegated here.
type FlowStore interface {
	Create(ctx context.Context, flow *model.Flow) error
	Get(ctx context.Context, flowID string) (*model.Flow, error)
	// Update persists the flow, bumping its version. Fails with
	// ErrVersionConflict when the stored version moved on.
	Update(ctx context.Context, flow *model.Flow) error
	UpdateStatus(ctx context.Context, flowID string, status model.FlowStatus) error
	// ListActive returns non-terminal, non-deleted flows, newest first.
	ListActive(ctx context.Context, limit int) ([]*model.Flow, error)
	Delete(ctx context.Context, flowID string) error
	Ping(ctx context.Context) error
	Close()
}

// TenantStateStore holds per-tenant quotas, live counters, and the
// flow-to-tenant ownership mapping.
type TenantStateStore interface {
	// GetQuota returns the quota for a tenant, or ErrNotFound when none
	// was set.
	GetQuota(ctx context.Context, tenantID string) (*model.TenantQuota, error)
	SetQuota(ctx context.Context, tenantID string, quota model.TenantQuota) error

	GetMetrics(ctx context.Context, tenantID string) (*model.TenantMetrics, error)
	// Apply atomically mutates the tenant's counters for one lifecycle
	// event and returns the updated metrics.
	Apply(ctx context.Context, tenantID string, event model.TenantEvent) (*model.TenantMetrics, error)
	// AddStorage atomically adjusts the tenant's storage counter by
	// deltaMB (which may be negative).
	AddStorage(ctx context.Context, tenantID string, deltaMB float64) (*model.TenantMetrics, error)

	SetOwner(ctx context.Context, flowID, tenantID string) error
	GetOwner(ctx context.Context, flowID string) (string, error)
	RemoveOwner(ctx context.Context, flowID string) error

	Ping(ctx context.Context) error
	Close() error
}
