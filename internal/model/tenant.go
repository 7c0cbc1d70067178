package model

import "time"

// IsolationLevel controls how strictly tenant boundaries are enforced.
type IsolationLevel string

const (
	IsolationRelaxed IsolationLevel = "relaxed"
	IsolationStrict  IsolationLevel = "strict"
)

// TenantEvent is a flow lifecycle event tracked against tenant metrics.
type TenantEvent string

const (
	TenantEventCreated TenantEvent = "created"
	TenantEventDeleted TenantEvent = "deleted"
)

// TenantQuota is the per-tenant resource ceiling. A zero value for a
// dimension means that dimension is unlimited.
type TenantQuota struct {
	MaxConcurrentFlows  int     `json:"max_concurrent_flows"`
	MaxTotalFlowsPerDay int     `json:"max_total_flows_per_day"`
	MaxStorageMB        float64 `json:"max_storage_mb"`
}

// TenantMetrics holds the live per-tenant counters. Mutated only by the
// tenant manager on flow lifecycle events.
type TenantMetrics struct {
	TenantID        string    `json:"tenant_id"`
	CurrentFlows    int       `json:"current_flows"`
	TotalFlowsToday int       `json:"total_flows_today"`
	Day             string    `json:"day"` // UTC bucket for the daily counter, YYYY-MM-DD
	StorageUsedMB   float64   `json:"storage_used_mb"`
	LastActivity    time.Time `json:"last_activity"`
}

// AccessContext identifies the caller for tenant validation. TargetTenantID
// is set when the operation addresses a tenant other than the caller's own.
type AccessContext struct {
	TenantID       string
	UserID         string
	TargetTenantID string
	Isolation      IsolationLevel
}

// Target returns the tenant the operation acts on.
func (a AccessContext) Target() string {
	if a.TargetTenantID != "" {
		return a.TargetTenantID
	}
	return a.TenantID
}

// DayBucket formats a time as the UTC day key used for daily flow counters.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
