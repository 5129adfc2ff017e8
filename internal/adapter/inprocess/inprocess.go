// Package inprocess implements the Adapter variant that calls a registered
// native function directly — no transport, no framing, scope envelope only.
package inprocess

import (
	"context"
	"fmt"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Handler is the native function signature an in-process module registers.
type Handler func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error)

// Adapter calls a Handler directly with no network hop.
type Adapter struct {
	moduleID string
	handler  Handler
	health   *adapter.HealthTracker
}

// Registry is the process-wide table of in-process handlers, populated at
// startup by whatever package hosts the module's native code.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty in-process handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for moduleID.
func (r *Registry) Register(moduleID string, h Handler) {
	r.handlers[moduleID] = h
}

// New constructs the Adapter for a module registration, looking up its
// handler in the registry.
func (r *Registry) New(reg types.AdapterRegistration) (adapter.Adapter, error) {
	h, ok := r.handlers[reg.ModuleID]
	if !ok {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, fmt.Sprintf("no in-process handler registered for module %q", reg.ModuleID))
	}
	return &Adapter{moduleID: reg.ModuleID, handler: h, health: adapter.NewHealthTracker(0)}, nil
}

// Execute calls the handler directly.
func (a *Adapter) Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	resp, err := a.handler(ctx, req)
	if err != nil {
		a.health.RecordFailure()
		return nil, err
	}
	a.health.RecordSuccess()
	return resp, nil
}

// Health reports the adapter's advisory health.
func (a *Adapter) Health(ctx context.Context) types.HealthStatus {
	return a.health.Status()
}
