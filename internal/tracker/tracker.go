// Package tracker records operation timings, derives per-type success
// statistics, and keeps a separate audit trail.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stratoshift/orchestrator/internal/model"
	"go.uber.org/zap"
)

const (
	defaultWindowSize = 10000
	defaultAuditSize  = 10000
)

// OperationMetrics summarizes the rolling window for one operation type.
type OperationMetrics struct {
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

type activeOp struct {
	opType    string
	startedAt time.Time
	metadata  map[string]string
}

// Tracker is the in-memory performance tracker. An operation started but
// never ended is a caller error and is not auto-reconciled.
type Tracker struct {
	mu         sync.RWMutex
	active     map[string]*activeOp
	window     []model.MetricRecord
	windowSize int
	audit      []model.AuditEvent
	auditSize  int
	logger     *zap.Logger
}

// Option tunes a Tracker.
type Option func(*Tracker)

// WithWindowSize bounds the metric rolling window
func WithWindowSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.windowSize = n
		}
	}
}

// WithAuditSize bounds the audit trail
func WithAuditSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.auditSize = n
		}
	}
}

// New creates a Tracker
func New(logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		active:     make(map[string]*activeOp),
		windowSize: defaultWindowSize,
		auditSize:  defaultAuditSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartOperation opens a timing window and returns its id
func (t *Tracker) StartOperation(opType string, metadata map[string]string) string {
	id := uuid.New().String()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = &activeOp{
		opType:    opType,
		startedAt: time.Now(),
		metadata:  metadata,
	}
	return id
}

// EndOperation closes the timing window and appends a record to the
// rolling window. Fails for unknown operation ids.
func (t *Tracker) EndOperation(id string, success bool, resultMeta map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.active[id]
	if !ok {
		return fmt.Errorf("unknown operation id: %s", id)
	}
	delete(t.active, id)

	metadata := make(map[string]string, len(op.metadata)+len(resultMeta)+1)
	for k, v := range op.metadata {
		metadata[k] = v
	}
	for k, v := range resultMeta {
		metadata[k] = v
	}
	if success {
		metadata["success"] = "true"
	} else {
		metadata["success"] = "false"
	}

	t.window = append(t.window, model.MetricRecord{
		Timestamp:     time.Now(),
		OperationType: op.opType,
		Value:         time.Since(op.startedAt).Seconds(),
		Metadata:      metadata,
	})
	if len(t.window) > t.windowSize {
		t.window = t.window[len(t.window)-t.windowSize:]
	}
	return nil
}

// OperationMetrics derives statistics for one operation type from the
// rolling window.
func (t *Tracker) OperationMetrics(opType string) OperationMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.computeLocked(opType)
}

func (t *Tracker) computeLocked(opType string) OperationMetrics {
	var m OperationMetrics
	var totalDuration float64
	for _, rec := range t.window {
		if rec.OperationType != opType {
			continue
		}
		m.Total++
		totalDuration += rec.Value
		if rec.Metadata["success"] == "true" {
			m.Successful++
		} else {
			m.Failed++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.Successful) / float64(m.Total)
		m.AvgDuration = time.Duration(totalDuration / float64(m.Total) * float64(time.Second))
	}
	return m
}

// Summary derives statistics for every operation type in the window
func (t *Tracker) Summary() map[string]OperationMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	types := make(map[string]struct{})
	for _, rec := range t.window {
		types[rec.OperationType] = struct{}{}
	}
	summary := make(map[string]OperationMetrics, len(types))
	for opType := range types {
		summary[opType] = t.computeLocked(opType)
	}
	return summary
}

// RecordAuditEvent appends an event to the audit trail
func (t *Tracker) RecordAuditEvent(event model.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audit = append(t.audit, event)
	if len(t.audit) > t.auditSize {
		t.audit = t.audit[len(t.audit)-t.auditSize:]
	}
}

// AuditEvents returns a copy of the audit trail, oldest first
func (t *Tracker) AuditEvents() []model.AuditEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.AuditEvent, len(t.audit))
	copy(out, t.audit)
	return out
}
