package registry

import (
	"context"
	"sync"

	"github.com/stratoshift/orchestrator/internal/orcherr"
	"go.uber.org/zap"
)

// HandlerRequest carries everything a phase handler needs: the flow
// identity, the caller-supplied phase input, and the state accumulated by
// previously completed phases.
type HandlerRequest struct {
	FlowID   string
	FlowType string
	Phase    string
	Input    map[string]any
	State    map[string]any
}

// HandlerFunc is pluggable business logic invoked by name. The returned
// document is merged into the flow's persistence data. Handlers must
// honor context cancellation; the orchestrator does not interrupt them
// forcibly.
type HandlerFunc func(ctx context.Context, req HandlerRequest) (map[string]any, error)

// HandlerRegistry is a name-to-handler map populated at process start
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates a registry pre-populated with the built-in
// handlers.
func NewHandlerRegistry(logger *zap.Logger) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
	registerBuiltinHandlers(r, logger)
	return r
}

// Register adds or replaces a named handler
func (r *HandlerRegistry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Has reports whether a handler is registered under the name
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Get returns the named handler, failing with UnknownName if absent
func (r *HandlerRegistry) Get(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	if !ok {
		return nil, orcherr.UnknownName("handler", name)
	}
	return fn, nil
}
