package adapter

import (
	"context"
	"testing"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

type stubAdapter struct{ id string }

func (a *stubAdapter) Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	return &types.ExecuteResponse{Success: true, Message: a.id}, nil
}

func (a *stubAdapter) Health(ctx context.Context) types.HealthStatus { return types.HealthHealthy }

func TestGetConstructsAndCachesAdapter(t *testing.T) {
	r := NewRegistry()
	builds := 0
	r.RegisterFactory(types.AdapterWebhook, func(reg types.AdapterRegistration) (Adapter, error) {
		builds++
		return &stubAdapter{id: reg.ModuleID}, nil
	})
	r.Put(types.AdapterRegistration{ModuleID: "mod1", Variant: types.AdapterWebhook})

	a1, err := r.Get("mod1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := r.Get("mod1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("expected the cached adapter instance to be reused")
	}
	if builds != 1 {
		t.Fatalf("expected exactly one factory call, got %d", builds)
	}
}

func TestGetUnknownModuleReturnsError(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); err == nil {
		t.Fatal("expected an error for an unregistered module")
	}
}

func TestGetUnknownVariantReturnsError(t *testing.T) {
	r := NewRegistry()
	r.Put(types.AdapterRegistration{ModuleID: "mod1", Variant: types.AdapterGRPC})
	if _, err := r.Get("mod1"); err == nil {
		t.Fatal("expected an error when no factory is registered for the variant")
	}
}

func TestPutInvalidatesCachedInstance(t *testing.T) {
	r := NewRegistry()
	builds := 0
	r.RegisterFactory(types.AdapterWebhook, func(reg types.AdapterRegistration) (Adapter, error) {
		builds++
		return &stubAdapter{id: reg.ModuleID}, nil
	})
	r.Put(types.AdapterRegistration{ModuleID: "mod1", Variant: types.AdapterWebhook, Endpoint: "https://a"})
	if _, err := r.Get("mod1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Put(types.AdapterRegistration{ModuleID: "mod1", Variant: types.AdapterWebhook, Endpoint: "https://b"})
	if _, err := r.Get("mod1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 2 {
		t.Fatalf("expected Put to invalidate the cached instance, got %d builds", builds)
	}
}

func TestRemoveDropsRegistrationAndInstance(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory(types.AdapterWebhook, func(reg types.AdapterRegistration) (Adapter, error) {
		return &stubAdapter{id: reg.ModuleID}, nil
	})
	r.Put(types.AdapterRegistration{ModuleID: "mod1", Variant: types.AdapterWebhook})
	if _, err := r.Get("mod1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Remove("mod1")
	if _, err := r.Get("mod1"); err == nil {
		t.Fatal("expected Get to fail after Remove")
	}
}

func TestRegistrationForReturnsInstalledRecord(t *testing.T) {
	r := NewRegistry()
	r.Put(types.AdapterRegistration{ModuleID: "mod1", Variant: types.AdapterWebhook, Endpoint: "https://example.test", MaxRetries: 3})

	reg, ok := r.RegistrationFor("mod1")
	if !ok {
		t.Fatal("expected registration to be found")
	}
	if reg.Endpoint != "https://example.test" || reg.MaxRetries != 3 {
		t.Fatalf("unexpected registration: %+v", reg)
	}

	if _, ok := r.RegistrationFor("missing"); ok {
		t.Fatal("expected no registration for an unknown module")
	}
}
