// Package service contains the orchestrator façade composing the type,
// validator, and handler registries, the tenant manager, the error
// classifier, the state serializer, and the performance tracker to drive
// flows through their phase sequences.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stratoshift/orchestrator/internal/classifier"
	"github.com/stratoshift/orchestrator/internal/metrics"
	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stratoshift/orchestrator/internal/registry"
	"github.com/stratoshift/orchestrator/internal/serializer"
	"github.com/stratoshift/orchestrator/internal/store"
	"github.com/stratoshift/orchestrator/internal/tenant"
	"github.com/stratoshift/orchestrator/internal/tracker"
	"github.com/stratoshift/orchestrator/internal/util/workerpool"
	"go.uber.org/zap"
)

const bytesPerMB = 1 << 20

// Config tunes orchestrator behavior
type Config struct {
	// MaxPhaseAttempts bounds in-place retries of a phase handler.
	MaxPhaseAttempts int
	// BackoffBase and BackoffMultiplier feed the classifier's retry
	// delay computation. Zero values fall back to classifier defaults.
	BackoffBase       time.Duration
	BackoffMultiplier float64
}

// Orchestrator is a stateless façade over many independently-progressing
// flow instances. Callers must serialize ExecutePhase calls per flow id;
// the orchestrator does not provide a per-flow lock itself.
type Orchestrator struct {
	types      *registry.TypeRegistry
	validators *registry.ValidatorRegistry
	handlers   *registry.HandlerRegistry
	flows      store.FlowStore
	tenants    *tenant.Manager
	classifier *classifier.Classifier
	tracker    *tracker.Tracker
	serializer *serializer.Serializer
	auditPool  *workerpool.Pool
	cfg        Config
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewOrchestrator creates the orchestrator façade
func NewOrchestrator(
	types *registry.TypeRegistry,
	validators *registry.ValidatorRegistry,
	handlers *registry.HandlerRegistry,
	flows store.FlowStore,
	tenants *tenant.Manager,
	cls *classifier.Classifier,
	trk *tracker.Tracker,
	ser *serializer.Serializer,
	auditPool *workerpool.Pool,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxPhaseAttempts <= 0 {
		cfg.MaxPhaseAttempts = 3
	}
	return &Orchestrator{
		types:      types,
		validators: validators,
		handlers:   handlers,
		flows:      flows,
		tenants:    tenants,
		classifier: cls,
		tracker:    trk,
		serializer: ser,
		auditPool:  auditPool,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// loadFlow fetches a flow and hydrates its persistence data from the
// serialized state blob.
func (o *Orchestrator) loadFlow(ctx context.Context, flowID string) (*model.Flow, error) {
	flow, err := o.flows.Get(ctx, flowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, orcherr.FlowNotFound(flowID)
		}
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}

	if flow.PersistenceData == nil && len(flow.StateBlob) > 0 {
		state, err := o.serializer.Deserialize(flow.StateBlob)
		if err != nil {
			return nil, fmt.Errorf("failed to restore flow state: %w", err)
		}
		if state, err = o.serializer.DecryptSensitive(state); err != nil {
			return nil, fmt.Errorf("failed to decrypt flow state: %w", err)
		}
		flow.PersistenceData = state
	}
	return flow, nil
}

// persistFlow encrypts and serializes the flow's persistence data,
// enforces the storage quota on growth, and writes the record. The
// serialized size is accounted against the tenant's storage counter.
func (o *Orchestrator) persistFlow(ctx context.Context, access model.AccessContext, flow *model.Flow) error {
	previousSize := len(flow.StateBlob)

	if flow.PersistenceData != nil {
		sealed, err := o.serializer.EncryptSensitive(flow.PersistenceData)
		if err != nil {
			return fmt.Errorf("failed to encrypt flow state: %w", err)
		}
		blob, err := o.serializer.Serialize(sealed)
		if err != nil {
			return err
		}
		deltaMB := float64(len(blob)-previousSize) / bytesPerMB
		if deltaMB > 0 {
			// Storage is charged to the flow's owning tenant, so the
			// growth check must consult that tenant's quota, not the
			// caller's.
			owner := access
			owner.TargetTenantID = flow.TenantID
			if err := o.tenants.CheckQuota(ctx, owner, tenant.QuotaOp{
				Kind:           "store_state",
				StorageDeltaMB: deltaMB,
			}); err != nil {
				return err
			}
		}
		flow.StateBlob = blob
		if o.metrics != nil {
			o.metrics.StateBytes.Observe(float64(len(blob)))
		}
	}

	if err := o.flows.Update(ctx, flow); err != nil {
		return fmt.Errorf("failed to persist flow: %w", err)
	}

	if delta := float64(len(flow.StateBlob)-previousSize) / bytesPerMB; delta != 0 {
		if err := o.tenants.RecordStorage(ctx, flow.TenantID, delta); err != nil {
			o.logger.Warn("Failed to record storage usage",
				zap.String("flow_id", flow.ID),
				zap.Error(err))
		}
	}
	return nil
}

// authorize checks tenant access against the flow's owning tenant.
// Flows outside the caller's reach surface as FlowNotFound to avoid
// leaking their existence across tenants.
func (o *Orchestrator) authorize(ctx context.Context, access model.AccessContext, flow *model.Flow) error {
	if access.TenantID != "" && access.TenantID != flow.TenantID &&
		access.Isolation == model.IsolationStrict {
		return orcherr.FlowNotFound(flow.ID)
	}
	scoped := access
	scoped.TargetTenantID = flow.TenantID
	return o.tenants.ValidateAccess(ctx, scoped)
}

// audit submits an audit event to the best-effort background queue. A
// full queue or a stopped pool drops the event without failing the
// primary operation.
func (o *Orchestrator) audit(event model.AuditEvent) {
	if o.auditPool == nil {
		o.tracker.RecordAuditEvent(event)
		if o.metrics != nil {
			o.metrics.AuditEventsTotal.Inc()
		}
		return
	}
	accepted := o.auditPool.TrySubmit(workerpool.Task{
		ID: "audit:" + event.Action + ":" + event.FlowID,
		Fn: func(context.Context) error {
			o.tracker.RecordAuditEvent(event)
			return nil
		},
	})
	if o.metrics != nil {
		if accepted {
			o.metrics.AuditEventsTotal.Inc()
		} else {
			o.metrics.AuditEventsDropped.Inc()
		}
	}
}

func (o *Orchestrator) countOperation(operation, flowType string) {
	if o.metrics != nil {
		o.metrics.FlowOperationsTotal.WithLabelValues(operation, flowType).Inc()
	}
}

func (o *Orchestrator) countError(operation string, err error) {
	if o.metrics != nil {
		o.metrics.FlowOperationErrors.WithLabelValues(operation,
			fmt.Sprintf("%d", orcherr.CodeOf(err))).Inc()
	}
}
