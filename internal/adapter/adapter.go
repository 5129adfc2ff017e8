// Package adapter defines the capability interface every action-module
// transport implements, and the registry that maps a module's registration
// record to a constructed Adapter. Variants are a tagged sum switched on
// types.AdapterVariant, never an inheritance hierarchy.
package adapter

import (
	"context"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Adapter is the capability set every transport variant implements:
// execute and health, nothing else. The dispatcher never type-switches on
// concrete adapter types — only on this interface.
type Adapter interface {
	Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error)
	Health(ctx context.Context) types.HealthStatus
}

// Factory constructs the Adapter for one module registration. Each variant
// package exposes a constructor matching this shape.
type Factory func(reg types.AdapterRegistration) (Adapter, error)
