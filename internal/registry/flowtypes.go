package registry

import (
	"sort"
	"sync"

	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"go.uber.org/zap"
)

// TypeRegistry is the static catalog of flow types. Registration is
// permanent for the process lifetime; there is no unregister.
type TypeRegistry struct {
	mu     sync.RWMutex
	types  map[string]*model.FlowTypeConfig
	logger *zap.Logger
}

// NewTypeRegistry creates an empty type registry
func NewTypeRegistry(logger *zap.Logger) *TypeRegistry {
	return &TypeRegistry{
		types:  make(map[string]*model.FlowTypeConfig),
		logger: logger,
	}
}

// Register adds a flow type to the catalog. Fails with DuplicateType if
// the name is already present.
func (r *TypeRegistry) Register(cfg *model.FlowTypeConfig) error {
	if cfg == nil || cfg.Name == "" {
		return orcherr.InvalidArgument("flow type config requires a name", nil)
	}
	if err := validatePhaseOrder(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[cfg.Name]; exists {
		return orcherr.DuplicateType(cfg.Name)
	}
	r.types[cfg.Name] = cfg

	r.logger.Info("Registered flow type",
		zap.String("flow_type", cfg.Name),
		zap.Int("phases", len(cfg.Phases)))
	return nil
}

// validatePhaseOrder enforces unique names and strictly increasing order
// values within a type.
func validatePhaseOrder(cfg *model.FlowTypeConfig) error {
	seen := make(map[string]struct{}, len(cfg.Phases))
	lastOrder := -1
	phases := append([]model.PhaseConfig(nil), cfg.Phases...)
	sort.Slice(phases, func(i, j int) bool { return phases[i].Order < phases[j].Order })
	for _, p := range phases {
		if p.Name == "" {
			return orcherr.InvalidArgument("phase name must not be empty", nil)
		}
		if _, dup := seen[p.Name]; dup {
			return orcherr.InvalidArgument("duplicate phase name: "+p.Name, nil)
		}
		seen[p.Name] = struct{}{}
		if p.Order <= lastOrder {
			return orcherr.InvalidArgument("phase order values must be strictly increasing", nil).
				WithDetail("phase", p.Name)
		}
		lastOrder = p.Order
	}
	return nil
}

// IsRegistered reports whether the named flow type exists
func (r *TypeRegistry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// GetConfig returns the configuration for the named flow type. Fails
// with UnknownType if absent.
func (r *TypeRegistry) GetConfig(name string) (*model.FlowTypeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[name]
	if !ok {
		return nil, orcherr.UnknownType(name)
	}
	return cfg, nil
}

// GetPhaseConfig returns the configuration for one phase of a type
func (r *TypeRegistry) GetPhaseConfig(flowType, phase string) (*model.PhaseConfig, error) {
	cfg, err := r.GetConfig(flowType)
	if err != nil {
		return nil, err
	}
	pc := cfg.Phase(phase)
	if pc == nil {
		return nil, orcherr.InvalidPhase(flowType, phase)
	}
	return pc, nil
}

// NextPhase computes the phase that follows current purely from phase
// order: the lowest-order phase whose order is greater than current's.
// An empty current names the first phase. Returns "" when current is the
// last phase or is not recognized.
func (r *TypeRegistry) NextPhase(flowType, current string) (string, error) {
	cfg, err := r.GetConfig(flowType)
	if err != nil {
		return "", err
	}

	currentOrder := -1
	if current != "" {
		pc := cfg.Phase(current)
		if pc == nil {
			return "", nil
		}
		currentOrder = pc.Order
	}

	var next *model.PhaseConfig
	for i := range cfg.Phases {
		p := &cfg.Phases[i]
		if p.Order <= currentOrder {
			continue
		}
		if next == nil || p.Order < next.Order {
			next = p
		}
	}
	if next == nil {
		return "", nil
	}
	return next.Name, nil
}

// Types returns the names of all registered flow types
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
