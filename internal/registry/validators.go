package registry

import (
	"context"
	"sync"

	"github.com/stratoshift/orchestrator/internal/orcherr"
)

// ValidationResult is the structured outcome of a validator run.
// Validators never fail the calling operation; an invalid result is
// returned to the caller with the flow left in its prior state.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Valid returns a passing result
func Valid() ValidationResult {
	return ValidationResult{Valid: true}
}

// Invalid returns a failing result carrying the given messages
func Invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// ValidatorFunc is a pluggable pre-condition check run before a phase
// executes. It receives the phase input, the flow's accumulated state,
// and per-phase overrides from the phase configuration.
type ValidatorFunc func(ctx context.Context, input, state, overrides map[string]any) ValidationResult

// ValidatorRegistry is a name-to-validator map populated at process start
type ValidatorRegistry struct {
	mu         sync.RWMutex
	validators map[string]ValidatorFunc
}

// NewValidatorRegistry creates a registry pre-populated with the built-in
// validators so a fresh registry is immediately usable.
func NewValidatorRegistry() *ValidatorRegistry {
	r := &ValidatorRegistry{validators: make(map[string]ValidatorFunc)}
	registerBuiltinValidators(r)
	return r
}

// Register adds or replaces a named validator
func (r *ValidatorRegistry) Register(name string, fn ValidatorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = fn
}

// Has reports whether a validator is registered under the name
func (r *ValidatorRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validators[name]
	return ok
}

// Get returns the named validator, failing with UnknownName if absent
func (r *ValidatorRegistry) Get(name string) (ValidatorFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.validators[name]
	if !ok {
		return nil, orcherr.UnknownName("validator", name)
	}
	return fn, nil
}
