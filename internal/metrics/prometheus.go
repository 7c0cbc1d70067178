package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestration core
type Metrics struct {
	// Flow lifecycle metrics
	FlowOperationsTotal *prometheus.CounterVec
	FlowOperationErrors *prometheus.CounterVec
	ActiveFlows         prometheus.Gauge

	// Phase execution metrics
	PhaseDuration *prometheus.HistogramVec
	PhaseRetries  *prometheus.CounterVec
	PhaseFailures *prometheus.CounterVec

	// Tenant metrics
	QuotaRejections *prometheus.CounterVec

	// State serialization metrics
	StateBytes prometheus.Histogram

	// Audit metrics
	AuditEventsTotal   prometheus.Counter
	AuditEventsDropped prometheus.Counter
}

// New creates and registers Prometheus metrics against the given
// registerer. Tests pass a fresh prometheus.NewRegistry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FlowOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_flow_operations_total",
				Help: "Total number of flow operations processed",
			},
			[]string{"operation", "flow_type"},
		),

		FlowOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_flow_operation_errors_total",
				Help: "Total number of flow operation errors",
			},
			[]string{"operation", "error_code"},
		),

		ActiveFlows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_flows",
				Help: "Number of flows currently tracked as active",
			},
		),

		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_phase_duration_seconds",
				Help:    "Duration of phase handler execution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"flow_type", "phase"},
		),

		PhaseRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_phase_retries_total",
				Help: "Total number of in-place phase retries",
			},
			[]string{"flow_type", "phase", "strategy"},
		),

		PhaseFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_phase_failures_total",
				Help: "Total number of phases that exhausted retries",
			},
			[]string{"flow_type", "phase", "error_type"},
		),

		QuotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_quota_rejections_total",
				Help: "Total number of operations rejected by tenant quota",
			},
			[]string{"tenant_id", "dimension"},
		),

		StateBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_state_bytes",
				Help:    "Serialized flow state size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
		),

		AuditEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_audit_events_total",
				Help: "Total number of audit events recorded",
			},
		),

		AuditEventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_audit_events_dropped_total",
				Help: "Total number of audit events dropped by the best-effort queue",
			},
		),
	}
}
