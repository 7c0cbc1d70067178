package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stratoshift/orchestrator/internal/classifier"
	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stratoshift/orchestrator/internal/registry"
	"go.uber.org/zap"
)

// PhaseResult is the structured outcome of an ExecutePhase call. A
// validation failure is reported here rather than as an error, leaving
// the flow unchanged so the caller can correct input and re-call
// idempotently.
type PhaseResult struct {
	FlowID           string              `json:"flow_id"`
	Phase            string              `json:"phase"`
	Valid            bool                `json:"valid"`
	ValidationErrors []string            `json:"validation_errors,omitempty"`
	Output           map[string]any      `json:"output,omitempty"`
	Attempts         int                 `json:"attempts"`
	Duration         time.Duration       `json:"duration"`
	FlowStatus       model.FlowStatus    `json:"flow_status"`
	Decision         *classifier.Decision `json:"decision,omitempty"`
}

// ExecutePhase runs one phase of a flow: validators first (any invalid
// result aborts without mutating persistence data), then the phase
// handler, with classified in-place retries. Callers must serialize
// calls per flow id.
func (o *Orchestrator) ExecutePhase(
	ctx context.Context,
	access model.AccessContext,
	flowID, phaseName string,
	phaseInput map[string]any,
) (*PhaseResult, error) {
	opID := o.tracker.StartOperation("execute_phase", map[string]string{"phase": phaseName})

	result, err := o.executePhase(ctx, access, flowID, phaseName, phaseInput)
	success := err == nil && result != nil && result.Valid && result.FlowStatus != model.FlowStatusFailed
	if trackErr := o.tracker.EndOperation(opID, success, nil); trackErr != nil {
		o.logger.Warn("Failed to close operation timing", zap.Error(trackErr))
	}
	if err != nil {
		o.countError("execute_phase", err)
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) executePhase(
	ctx context.Context,
	access model.AccessContext,
	flowID, phaseName string,
	phaseInput map[string]any,
) (*PhaseResult, error) {
	flow, err := o.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, access, flow); err != nil {
		return nil, err
	}
	if flow.DeletedAt != nil || flow.Status == model.FlowStatusDeleted {
		return nil, orcherr.FlowNotFound(flowID)
	}
	if flow.Status != model.FlowStatusRunning {
		return nil, orcherr.InvalidStateTransition(flowID, string(flow.Status), "executing "+phaseName)
	}

	phaseCfg, err := o.types.GetPhaseConfig(flow.FlowType, phaseName)
	if err != nil {
		return nil, err
	}

	result := &PhaseResult{
		FlowID:     flowID,
		Phase:      phaseName,
		FlowStatus: flow.Status,
	}

	// Run every configured validator, aggregating errors. Any invalid
	// result aborts the phase without touching persistence data.
	validationErrors, err := o.runValidators(ctx, phaseCfg, phaseInput, flow.PersistenceData)
	if err != nil {
		return nil, err
	}
	if len(validationErrors) > 0 {
		result.Valid = false
		result.ValidationErrors = validationErrors
		o.logger.Info("Phase input rejected by validators",
			zap.String("flow_id", flowID),
			zap.String("phase", phaseName),
			zap.Strings("errors", validationErrors))
		return result, nil
	}
	result.Valid = true

	handlerStart := time.Now()
	output, attempts, decision, handlerErr := o.invokeHandler(ctx, flow, phaseCfg, phaseInput)
	result.Duration = time.Since(handlerStart)
	result.Attempts = attempts
	result.Decision = decision

	if handlerErr != nil && decision == nil {
		// Handler resolution failed before any execution: a caller
		// error, surfaced without touching the flow.
		return nil, handlerErr
	}

	if handlerErr != nil {
		// Retries exhausted or a non-retryable classification: the flow
		// fails with the classified error recorded.
		flow.Status = model.FlowStatusFailed
		flow.LastError = decision.Message
		if persistErr := o.persistFlow(ctx, access, flow); persistErr != nil {
			o.logger.Error("Failed to persist failed flow",
				zap.String("flow_id", flowID),
				zap.Error(persistErr))
		}
		result.FlowStatus = flow.Status

		if o.metrics != nil {
			o.metrics.PhaseFailures.WithLabelValues(flow.FlowType, phaseName, decision.ErrorType).Inc()
			o.metrics.ActiveFlows.Dec()
		}
		o.audit(model.AuditEvent{
			Action:   "phase_failed",
			FlowID:   flowID,
			TenantID: flow.TenantID,
			Details: map[string]string{
				"phase":      phaseName,
				"error_type": decision.ErrorType,
				"strategy":   string(decision.Strategy),
			},
		})
		return result, orcherr.New(orcherr.ErrCodeHandler,
			fmt.Sprintf("phase %s failed after %d attempts", phaseName, attempts), handlerErr).
			WithDetail("flow_id", flowID).
			WithDetail("phase", phaseName)
	}

	o.recordPhaseSuccess(flow, phaseCfg, output, result)
	if err := o.persistFlow(ctx, access, flow); err != nil {
		return nil, err
	}
	result.FlowStatus = flow.Status
	result.Output = output

	o.countOperation("execute_phase", flow.FlowType)
	if o.metrics != nil {
		o.metrics.PhaseDuration.WithLabelValues(flow.FlowType, phaseName).Observe(result.Duration.Seconds())
		if flow.Status == model.FlowStatusCompleted {
			o.metrics.ActiveFlows.Dec()
		}
	}
	o.audit(model.AuditEvent{
		Action:   "phase_completed",
		FlowID:   flowID,
		TenantID: flow.TenantID,
		Details:  map[string]string{"phase": phaseName},
	})
	return result, nil
}

// runValidators resolves and runs every validator named by the phase
// configuration, collecting all errors across validators.
func (o *Orchestrator) runValidators(
	ctx context.Context,
	phaseCfg *model.PhaseConfig,
	input, state map[string]any,
) ([]string, error) {
	var aggregated []string
	for _, name := range phaseCfg.Validators {
		validator, err := o.validators.Get(name)
		if err != nil {
			return nil, err
		}
		res := validator(ctx, input, state, phaseCfg.ValidatorOverrides)
		if !res.Valid {
			aggregated = append(aggregated, res.Errors...)
		}
	}
	return aggregated, nil
}

// invokeHandler runs the phase handler, retrying in place per the error
// classifier's decision. Returns the last decision alongside the error
// when attempts are exhausted.
func (o *Orchestrator) invokeHandler(
	ctx context.Context,
	flow *model.Flow,
	phaseCfg *model.PhaseConfig,
	input map[string]any,
) (output map[string]any, attempts int, decision *classifier.Decision, err error) {
	if phaseCfg.Handler == "" {
		// Phases without a handler record an empty result document.
		return map[string]any{}, 1, nil, nil
	}

	handler, handlerErr := o.handlers.Get(phaseCfg.Handler)
	if handlerErr != nil {
		return nil, 0, nil, handlerErr
	}

	req := registry.HandlerRequest{
		FlowID:   flow.ID,
		FlowType: flow.FlowType,
		Phase:    phaseCfg.Name,
		Input:    input,
		State:    flow.PersistenceData,
	}
	operation := flow.FlowType + ":" + phaseCfg.Name

	for attempt := 0; ; attempt++ {
		start := time.Now()
		result, execErr := handler(ctx, req)
		if execErr == nil {
			o.classifier.ReportSuccess(operation)
			return result, attempt + 1, decision, nil
		}

		d := o.classifier.Classify(execErr, classifier.Context{
			Operation:  operation,
			Attempt:    attempt,
			MaxRetries: o.cfg.MaxPhaseAttempts - 1,
			BaseDelay:  o.cfg.BackoffBase,
			Multiplier: o.cfg.BackoffMultiplier,
		})
		decision = &d

		o.logger.Warn("Phase handler failed",
			zap.String("flow_id", flow.ID),
			zap.String("phase", phaseCfg.Name),
			zap.Int("attempt", attempt+1),
			zap.String("strategy", string(d.Strategy)),
			zap.Duration("handler_duration", time.Since(start)),
			zap.Error(execErr))

		// The classifier's default retry budget never overrides the
		// orchestrator's own attempt bound.
		if !d.ShouldRetry || attempt+1 >= o.cfg.MaxPhaseAttempts {
			return nil, attempt + 1, decision, execErr
		}

		if o.metrics != nil {
			o.metrics.PhaseRetries.WithLabelValues(flow.FlowType, phaseCfg.Name, string(d.Strategy)).Inc()
		}

		select {
		case <-ctx.Done():
			return nil, attempt + 1, decision, ctx.Err()
		case <-time.After(d.RetryDelay):
		}
	}
}

// recordPhaseSuccess merges the handler output into persistence data,
// advances the resume marker and current phase, stores the duration, and
// derives flow completion.
func (o *Orchestrator) recordPhaseSuccess(
	flow *model.Flow,
	phaseCfg *model.PhaseConfig,
	output map[string]any,
	result *PhaseResult,
) {
	if flow.PersistenceData == nil {
		flow.PersistenceData = map[string]any{}
	}
	results, _ := flow.PersistenceData[model.KeyPhaseResults].(map[string]any)
	if results == nil {
		results = map[string]any{}
		flow.PersistenceData[model.KeyPhaseResults] = results
	}
	results[phaseCfg.Name] = output
	flow.PersistenceData[model.KeyLastCompletedPhase] = phaseCfg.Name
	flow.CurrentPhase = phaseCfg.Name

	if flow.PhaseDurations == nil {
		flow.PhaseDurations = map[string]time.Duration{}
	}
	flow.PhaseDurations[phaseCfg.Name] = result.Duration

	if o.flowComplete(flow, phaseCfg) {
		flow.Status = model.FlowStatusCompleted
	}
}

// flowComplete reports whether executing this phase finished the flow:
// it is the type's final phase and every required phase has a recorded
// result.
func (o *Orchestrator) flowComplete(flow *model.Flow, executed *model.PhaseConfig) bool {
	typeCfg, err := o.types.GetConfig(flow.FlowType)
	if err != nil {
		return false
	}
	final := typeCfg.FinalPhase()
	if final == nil || final.Name != executed.Name {
		return false
	}
	for _, phase := range typeCfg.Phases {
		if phase.Required && !flow.PhaseCompleted(phase.Name) {
			return false
		}
	}
	return true
}
