package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stratoshift/orchestrator/internal/registry"
	"github.com/stratoshift/orchestrator/internal/store"
	"go.uber.org/zap"
)

// CreateFlow admits a new flow against the tenant's quota, persists it,
// runs the type's initialization handler if one is configured, and moves
// it to running.
func (o *Orchestrator) CreateFlow(
	ctx context.Context,
	access model.AccessContext,
	flowType, name string,
	configuration map[string]any,
) (*model.Flow, error) {
	opID := o.tracker.StartOperation("create_flow", map[string]string{"flow_type": flowType})

	flow, err := o.createFlow(ctx, access, flowType, name, configuration)
	if trackErr := o.tracker.EndOperation(opID, err == nil, nil); trackErr != nil {
		o.logger.Warn("Failed to close operation timing", zap.Error(trackErr))
	}
	if err != nil {
		o.countError("create_flow", err)
		return nil, err
	}

	o.countOperation("create_flow", flowType)
	if o.metrics != nil {
		o.metrics.ActiveFlows.Inc()
	}
	o.audit(model.AuditEvent{
		Action:   "flow_created",
		FlowID:   flow.ID,
		TenantID: flow.TenantID,
		Details:  map[string]string{"flow_type": flowType, "name": name},
	})
	return flow, nil
}

func (o *Orchestrator) createFlow(
	ctx context.Context,
	access model.AccessContext,
	flowType, name string,
	configuration map[string]any,
) (*model.Flow, error) {
	typeCfg, err := o.types.GetConfig(flowType)
	if err != nil {
		return nil, err
	}
	if err := o.tenants.ValidateAccess(ctx, access); err != nil {
		return nil, err
	}

	now := time.Now()
	flow := &model.Flow{
		ID:              uuid.New().String(),
		FlowType:        flowType,
		Name:            name,
		Status:          model.FlowStatusCreated,
		Configuration:   configuration,
		PersistenceData: map[string]any{},
		PhaseDurations:  map[string]time.Duration{},
		TenantID:        access.Target(),
		UserID:          access.UserID,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Quota check and counter update happen as one atomic step; a
	// rejected admission touches no counter.
	if err := o.tenants.Admit(ctx, access, flow.ID); err != nil {
		return nil, err
	}

	if err := o.flows.Create(ctx, flow); err != nil {
		o.abandonFlow(ctx, flow)
		return nil, fmt.Errorf("failed to create flow record: %w", err)
	}

	if typeCfg.InitHandler != "" {
		if err := o.runInitHandler(ctx, flow, typeCfg.InitHandler); err != nil {
			o.abandonFlow(ctx, flow)
			return nil, err
		}
	}

	flow.Status = model.FlowStatusRunning
	if err := o.persistFlow(ctx, access, flow); err != nil {
		o.abandonFlow(ctx, flow)
		return nil, err
	}

	o.logger.Info("Created flow",
		zap.String("flow_id", flow.ID),
		zap.String("flow_type", flowType),
		zap.String("tenant_id", flow.TenantID))
	return flow, nil
}

// abandonFlow rolls back a partially created flow: the stored record is
// removed and the admission counters are released so the failed creation
// does not occupy a quota slot.
func (o *Orchestrator) abandonFlow(ctx context.Context, flow *model.Flow) {
	if err := o.flows.Delete(ctx, flow.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Error("Failed to remove abandoned flow record",
			zap.String("flow_id", flow.ID),
			zap.Error(err))
	}
	if err := o.tenants.Track(ctx, flow.TenantID, flow.ID, model.TenantEventDeleted); err != nil {
		o.logger.Error("Failed to compensate admission after create failure",
			zap.String("flow_id", flow.ID),
			zap.Error(err))
	}
}

func (o *Orchestrator) runInitHandler(ctx context.Context, flow *model.Flow, handlerName string) error {
	handler, err := o.handlers.Get(handlerName)
	if err != nil {
		return err
	}
	result, err := handler(ctx, registry.HandlerRequest{
		FlowID:   flow.ID,
		FlowType: flow.FlowType,
		Input:    flow.Configuration,
		State:    flow.PersistenceData,
	})
	if err != nil {
		return fmt.Errorf("initialization handler failed: %w", err)
	}
	for k, v := range result {
		flow.PersistenceData[k] = v
	}
	return nil
}

// PauseFlow suspends a running flow, stamping the reason. Legal only
// from running.
func (o *Orchestrator) PauseFlow(ctx context.Context, access model.AccessContext, flowID, reason string) (*model.Flow, error) {
	flow, err := o.loadFlow(ctx, flowID)
	if err != nil {
		o.countError("pause_flow", err)
		return nil, err
	}
	if err := o.authorize(ctx, access, flow); err != nil {
		return nil, err
	}

	if flow.Status != model.FlowStatusRunning {
		err := orcherr.InvalidStateTransition(flowID, string(flow.Status), string(model.FlowStatusPaused))
		o.countError("pause_flow", err)
		return nil, err
	}

	flow.Status = model.FlowStatusPaused
	flow.PauseReason = reason
	if err := o.persistFlow(ctx, access, flow); err != nil {
		return nil, err
	}

	o.countOperation("pause_flow", flow.FlowType)
	o.audit(model.AuditEvent{
		Action:   "flow_paused",
		FlowID:   flow.ID,
		TenantID: flow.TenantID,
		Details:  map[string]string{"reason": reason},
	})
	o.logger.Info("Paused flow",
		zap.String("flow_id", flowID),
		zap.String("reason", reason))
	return flow, nil
}

// ResumeFlow returns a paused flow to running. The resume phase is the
// phase immediately after the flow's last completed phase; it is
// returned to the caller, which drives subsequent ExecutePhase calls.
func (o *Orchestrator) ResumeFlow(ctx context.Context, access model.AccessContext, flowID string) (*model.Flow, string, error) {
	flow, err := o.loadFlow(ctx, flowID)
	if err != nil {
		o.countError("resume_flow", err)
		return nil, "", err
	}
	if err := o.authorize(ctx, access, flow); err != nil {
		return nil, "", err
	}

	if flow.Status != model.FlowStatusPaused {
		err := orcherr.InvalidStateTransition(flowID, string(flow.Status), string(model.FlowStatusRunning))
		o.countError("resume_flow", err)
		return nil, "", err
	}

	resumePhase, err := o.types.NextPhase(flow.FlowType, flow.LastCompletedPhase())
	if err != nil {
		return nil, "", err
	}

	flow.Status = model.FlowStatusRunning
	flow.PauseReason = ""
	if err := o.persistFlow(ctx, access, flow); err != nil {
		return nil, "", err
	}

	o.countOperation("resume_flow", flow.FlowType)
	o.audit(model.AuditEvent{
		Action:   "flow_resumed",
		FlowID:   flow.ID,
		TenantID: flow.TenantID,
		Details:  map[string]string{"resume_phase": resumePhase},
	})
	o.logger.Info("Resumed flow",
		zap.String("flow_id", flowID),
		zap.String("resume_phase", resumePhase))
	return flow, resumePhase, nil
}

// CancelFlow marks a flow cancelled. Cancellation is cooperative:
// in-flight handler work is not interrupted beyond context cancellation
// performed by the caller.
func (o *Orchestrator) CancelFlow(ctx context.Context, access model.AccessContext, flowID, reason string) (*model.Flow, error) {
	flow, err := o.loadFlow(ctx, flowID)
	if err != nil {
		o.countError("cancel_flow", err)
		return nil, err
	}
	if err := o.authorize(ctx, access, flow); err != nil {
		return nil, err
	}

	if !model.CanTransition(flow.Status, model.FlowStatusCancelled) {
		err := orcherr.InvalidStateTransition(flowID, string(flow.Status), string(model.FlowStatusCancelled))
		o.countError("cancel_flow", err)
		return nil, err
	}

	flow.Status = model.FlowStatusCancelled
	if reason != "" {
		flow.LastError = reason
	}
	if err := o.persistFlow(ctx, access, flow); err != nil {
		return nil, err
	}

	o.countOperation("cancel_flow", flow.FlowType)
	if o.metrics != nil {
		o.metrics.ActiveFlows.Dec()
	}
	o.audit(model.AuditEvent{
		Action:   "flow_cancelled",
		FlowID:   flow.ID,
		TenantID: flow.TenantID,
		Details:  map[string]string{"reason": reason},
	})
	return flow, nil
}

// DeleteFlow removes a flow. Soft deletion marks the record deleted but
// keeps it queryable; hard deletion removes it entirely. Both release
// the flow's quota slot and storage accounting.
func (o *Orchestrator) DeleteFlow(ctx context.Context, access model.AccessContext, flowID string, softDelete bool) error {
	flow, err := o.loadFlow(ctx, flowID)
	if err != nil {
		o.countError("delete_flow", err)
		return err
	}
	if err := o.authorize(ctx, access, flow); err != nil {
		return err
	}
	// A soft-deleted record has already released its quota slot and
	// storage; a second delete must not release them again.
	if flow.DeletedAt != nil || flow.Status == model.FlowStatusDeleted {
		err := orcherr.FlowNotFound(flowID)
		o.countError("delete_flow", err)
		return err
	}

	wasActive := !flow.Status.IsTerminal()

	if softDelete {
		now := time.Now()
		flow.Status = model.FlowStatusDeleted
		flow.DeletedAt = &now
		if err := o.flows.Update(ctx, flow); err != nil {
			return fmt.Errorf("failed to soft-delete flow: %w", err)
		}
	} else {
		if err := o.flows.Delete(ctx, flowID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to delete flow: %w", err)
		}
	}

	if err := o.tenants.Track(ctx, flow.TenantID, flowID, model.TenantEventDeleted); err != nil {
		o.logger.Error("Failed to untrack deleted flow",
			zap.String("flow_id", flowID),
			zap.Error(err))
	}
	if len(flow.StateBlob) > 0 {
		if err := o.tenants.RecordStorage(ctx, flow.TenantID, -float64(len(flow.StateBlob))/bytesPerMB); err != nil {
			o.logger.Warn("Failed to release storage accounting",
				zap.String("flow_id", flowID),
				zap.Error(err))
		}
	}

	o.countOperation("delete_flow", flow.FlowType)
	if o.metrics != nil && wasActive {
		o.metrics.ActiveFlows.Dec()
	}
	o.audit(model.AuditEvent{
		Action:   "flow_deleted",
		FlowID:   flowID,
		TenantID: flow.TenantID,
		Details:  map[string]string{"soft": fmt.Sprintf("%t", softDelete)},
	})
	o.logger.Info("Deleted flow",
		zap.String("flow_id", flowID),
		zap.Bool("soft", softDelete))
	return nil
}

// StatusReport is the read-only projection returned by FlowStatus.
type StatusReport struct {
	FlowID       string           `json:"flow_id"`
	FlowType     string           `json:"flow_type"`
	Name         string           `json:"name"`
	Status       model.FlowStatus `json:"status"`
	CurrentPhase string           `json:"current_phase,omitempty"`
	NextPhase    string           `json:"next_phase,omitempty"`
	PauseReason  string           `json:"pause_reason,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Details      *StatusDetails   `json:"details,omitempty"`
}

// StatusDetails carries the heavier projection included on request.
type StatusDetails struct {
	PersistenceData map[string]any           `json:"persistence_data,omitempty"`
	PhaseDurations  map[string]time.Duration `json:"phase_execution_times,omitempty"`
	Configuration   map[string]any           `json:"configuration,omitempty"`
}

// FlowStatus returns a read-only projection of a flow, safe concurrently
// with any other operation.
func (o *Orchestrator) FlowStatus(ctx context.Context, access model.AccessContext, flowID string, includeDetails bool) (*StatusReport, error) {
	flow, err := o.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, access, flow); err != nil {
		return nil, err
	}

	nextPhase, err := o.types.NextPhase(flow.FlowType, flow.LastCompletedPhase())
	if err != nil && !orcherr.IsCode(err, orcherr.ErrCodeUnknownType) {
		return nil, err
	}

	report := &StatusReport{
		FlowID:       flow.ID,
		FlowType:     flow.FlowType,
		Name:         flow.Name,
		Status:       flow.Status,
		CurrentPhase: flow.CurrentPhase,
		NextPhase:    nextPhase,
		PauseReason:  flow.PauseReason,
		LastError:    flow.LastError,
		CreatedAt:    flow.CreatedAt,
		UpdatedAt:    flow.UpdatedAt,
	}
	if includeDetails {
		report.Details = &StatusDetails{
			PersistenceData: flow.PersistenceData,
			PhaseDurations:  flow.PhaseDurations,
			Configuration:   flow.Configuration,
		}
	}
	return report, nil
}

// ActiveFlows returns the caller-visible non-terminal flows, newest
// first.
func (o *Orchestrator) ActiveFlows(ctx context.Context, access model.AccessContext, limit int) ([]*model.Flow, error) {
	if err := o.tenants.ValidateAccess(ctx, access); err != nil {
		return nil, err
	}

	flows, err := o.flows.ListActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active flows: %w", err)
	}

	visible := flows[:0]
	for _, flow := range flows {
		if flow.TenantID == access.Target() || access.Isolation != model.IsolationStrict {
			visible = append(visible, flow)
		}
	}
	return visible, nil
}
