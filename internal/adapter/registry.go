package adapter

import (
	"fmt"
	"sync"

	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Registry caches constructed Adapters by module ID, building one lazily
// from its registration record and variant factory the first time it is
// needed, then reusing it for every subsequent dispatch.
type Registry struct {
	mu        sync.RWMutex
	factories map[types.AdapterVariant]Factory
	instances map[string]Adapter
	regs      map[string]types.AdapterRegistration
}

// NewRegistry creates an empty adapter registry. Call RegisterFactory for
// every variant the process supports before calling Get.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[types.AdapterVariant]Factory),
		instances: make(map[string]Adapter),
		regs:      make(map[string]types.AdapterRegistration),
	}
}

// RegisterFactory binds a variant's constructor into the registry.
func (r *Registry) RegisterFactory(variant types.AdapterVariant, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[variant] = f
}

// Put installs or replaces a module's registration record, invalidating any
// previously constructed Adapter for it so the next Get rebuilds from the
// new record.
func (r *Registry) Put(reg types.AdapterRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[reg.ModuleID] = reg
	delete(r.instances, reg.ModuleID)
}

// Remove drops a module's registration and any cached Adapter.
func (r *Registry) Remove(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, moduleID)
	delete(r.instances, moduleID)
}

// Get returns the cached Adapter for moduleID, constructing it on first use.
func (r *Registry) Get(moduleID string) (Adapter, error) {
	r.mu.RLock()
	if a, ok := r.instances[moduleID]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	reg, ok := r.regs[moduleID]
	r.mu.RUnlock()
	if !ok {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, fmt.Sprintf("no adapter registration for module %q", moduleID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.instances[moduleID]; ok {
		return a, nil
	}
	factory, ok := r.factories[reg.Variant]
	if !ok {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, fmt.Sprintf("no adapter factory registered for variant %q", reg.Variant))
	}
	a, err := factory(reg)
	if err != nil {
		return nil, err
	}
	r.instances[moduleID] = a
	return a, nil
}

// RegistrationFor returns the registration record installed for moduleID,
// letting callers (the dispatcher's breaker/retry wiring) address a module
// by its endpoint coordinates without constructing the Adapter itself.
func (r *Registry) RegistrationFor(moduleID string) (types.AdapterRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[moduleID]
	return reg, ok
}

// Registrations returns a snapshot of every installed module registration.
func (r *Registry) Registrations() []types.AdapterRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AdapterRegistration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	return out
}
