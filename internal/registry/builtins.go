package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stratoshift/orchestrator/internal/model"
	"go.uber.org/zap"
)

// Built-in registry entry names.
const (
	ValidatorRequiredFields  = "required_fields"
	ValidatorDataFormat      = "data_format"
	ValidatorPhaseTransition = "phase_transition"
	ValidatorResourceLimits  = "resource_limits"

	HandlerAuditLogging = "audit_logging"
)

// defaultMaxInputBytes bounds phase input size for the resource_limits
// validator when no override is configured.
const defaultMaxInputBytes = 1 << 20

func registerBuiltinValidators(r *ValidatorRegistry) {
	r.Register(ValidatorRequiredFields, requiredFieldsValidator)
	r.Register(ValidatorDataFormat, dataFormatValidator)
	r.Register(ValidatorPhaseTransition, phaseTransitionValidator)
	r.Register(ValidatorResourceLimits, resourceLimitsValidator)
}

func registerBuiltinHandlers(r *HandlerRegistry, logger *zap.Logger) {
	r.Register(HandlerAuditLogging, auditLoggingHandler(logger))
}

// requiredFieldsValidator checks that every field named by the
// "required_fields" override is present and non-nil in the phase input.
func requiredFieldsValidator(_ context.Context, input, _, overrides map[string]any) ValidationResult {
	fields := stringSlice(overrides["required_fields"])
	var errs []string
	for _, field := range fields {
		if v, ok := input[field]; !ok || v == nil {
			errs = append(errs, fmt.Sprintf("missing required field: %s", field))
		}
	}
	if len(errs) > 0 {
		return Invalid(errs...)
	}
	return Valid()
}

// dataFormatValidator checks input field kinds against the "formats"
// override, a map of field name to one of: string, number, bool, list, map.
func dataFormatValidator(_ context.Context, input, _, overrides map[string]any) ValidationResult {
	formats, ok := overrides["formats"].(map[string]any)
	if !ok {
		return Valid()
	}
	var errs []string
	for field, want := range formats {
		v, present := input[field]
		if !present {
			continue
		}
		kind, _ := want.(string)
		if !matchesKind(v, kind) {
			errs = append(errs, fmt.Sprintf("field %s: expected %s", field, kind))
		}
	}
	if len(errs) > 0 {
		return Invalid(errs...)
	}
	return Valid()
}

func matchesKind(v any, kind string) bool {
	switch kind {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "list":
		_, ok := v.([]any)
		return ok
	case "map":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// phaseTransitionValidator checks the flow's resume marker against the
// "allowed_after" override: the phase may only run once one of the listed
// phases has completed. An empty list places no constraint.
func phaseTransitionValidator(_ context.Context, _, state, overrides map[string]any) ValidationResult {
	allowed := stringSlice(overrides["allowed_after"])
	if len(allowed) == 0 {
		return Valid()
	}
	last, _ := state[model.KeyLastCompletedPhase].(string)
	for _, phase := range allowed {
		if phase == last {
			return Valid()
		}
	}
	return Invalid(fmt.Sprintf("phase not allowed after %q", last))
}

// resourceLimitsValidator bounds the encoded size of the phase input.
func resourceLimitsValidator(_ context.Context, input, _, overrides map[string]any) ValidationResult {
	limit := defaultMaxInputBytes
	if v, ok := asInt(overrides["max_input_bytes"]); ok && v > 0 {
		limit = v
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return Invalid(fmt.Sprintf("phase input is not encodable: %v", err))
	}
	if len(encoded) > limit {
		return Invalid(fmt.Sprintf("phase input size %d exceeds limit %d", len(encoded), limit))
	}
	return Valid()
}

// auditLoggingHandler records the invocation through the structured log
// and returns an acknowledgement document.
func auditLoggingHandler(logger *zap.Logger) HandlerFunc {
	return func(_ context.Context, req HandlerRequest) (map[string]any, error) {
		logger.Info("Audit handler invoked",
			zap.String("flow_id", req.FlowID),
			zap.String("flow_type", req.FlowType),
			zap.String("phase", req.Phase))
		return map[string]any{
			"audited":    true,
			"audited_at": time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	}
}

// stringSlice coerces an override value that may arrive as []string or,
// after a JSON round trip, as []any.
func stringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
