package model

// PhaseConfig describes one named, ordered unit of work within a flow
// type. Validator and handler names are resolved at execution time, not
// baked in at registration, so implementations stay hot-swappable.
type PhaseConfig struct {
	Name       string   `json:"name"`
	Order      int      `json:"order"`
	Required   bool     `json:"required"`
	Validators []string `json:"validators,omitempty"`
	Handler    string   `json:"handler,omitempty"`

	// ValidatorOverrides carries per-phase parameters consumed by the
	// named validators (required field lists, format maps, limits).
	ValidatorOverrides map[string]any `json:"validator_overrides,omitempty"`
}

// FlowTypeConfig is the static catalog entry for a flow type. Immutable
// once registered.
type FlowTypeConfig struct {
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Phases      []PhaseConfig `json:"phases"`

	// InitHandler, when set, is invoked once during flow creation before
	// the flow moves to running.
	InitHandler string `json:"init_handler,omitempty"`
}

// Phase returns the configuration for the named phase, or nil if the
// phase is not part of this type.
func (c *FlowTypeConfig) Phase(name string) *PhaseConfig {
	for i := range c.Phases {
		if c.Phases[i].Name == name {
			return &c.Phases[i]
		}
	}
	return nil
}

// FinalPhase returns the highest-order phase of the type, or nil for an
// empty phase list.
func (c *FlowTypeConfig) FinalPhase() *PhaseConfig {
	var final *PhaseConfig
	for i := range c.Phases {
		if final == nil || c.Phases[i].Order > final.Order {
			final = &c.Phases[i]
		}
	}
	return final
}
