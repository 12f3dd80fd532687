package modules

import (
	"fmt"
	"sync"

	"github.com/ignite/sendfabric/internal/domain"
)

// Registry is the process-local map of module type to capability set,
// grounded on the teacher's SenderFactory.SenderFor lookup but keyed by
// module type instead of sending profile, since provider selection now
// happens inside each module via its config.
type Registry struct {
	mu      sync.RWMutex
	modules map[domain.Module]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[domain.Module]Module)}
}

// Register adds a module implementation under its declared type, replacing
// any existing registration for that type.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Type()] = m
}

// Lookup resolves the module for a given type.
func (r *Registry) Lookup(t domain.Module) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[t]
	if !ok {
		return nil, fmt.Errorf("no module registered for type %q", t)
	}
	return m, nil
}

// Types returns the set of registered module types.
func (r *Registry) Types() []domain.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Module, 0, len(r.modules))
	for t := range r.modules {
		out = append(out, t)
	}
	return out
}
