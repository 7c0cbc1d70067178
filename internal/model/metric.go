package model

import "time"

// MetricRecord is an immutable measurement appended to the performance
// tracker's rolling window.
type MetricRecord struct {
	Timestamp     time.Time         `json:"timestamp"`
	OperationType string            `json:"operation_type"`
	Value         float64           `json:"value"` // duration in seconds
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// AuditEvent is one entry in the audit trail, kept separate from the
// metric window.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	FlowID    string            `json:"flow_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}
