package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

func testConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		HalfOpenTrials:   1,
		Cooldown:         10 * time.Millisecond,
		MaxCooldown:      50 * time.Millisecond,
	}
}

func TestExecutePassesThroughSuccess(t *testing.T) {
	b := New("mod1", testConfig())
	resp, err := b.Execute(context.Background(), func(ctx context.Context) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || !resp.Success {
		t.Fatalf("expected success response, got %+v", resp)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed state, got %s", b.State())
	}
}

func TestExecuteTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("mod1", testConfig())
	failing := func(ctx context.Context) (*types.ExecuteResponse, error) {
		return nil, errors.New("boom")
	}

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(context.Background(), failing); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}

	_, err := b.Execute(context.Background(), func(ctx context.Context) (*types.ExecuteResponse, error) {
		t.Fatalf("fn should not be invoked while breaker is open")
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if b.State() != "open" {
		t.Fatalf("expected open state, got %s", b.State())
	}
}

func TestSnapshotDoesNotDeadlock(t *testing.T) {
	b := New("mod1", testConfig())
	_, _ = b.Execute(context.Background(), func(ctx context.Context) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true}, nil
	})

	done := make(chan Snapshot, 1)
	go func() { done <- b.Snapshot() }()

	select {
	case snap := <-done:
		if snap.Name != "mod1" {
			t.Fatalf("expected name mod1, got %s", snap.Name)
		}
		if snap.Counts.TotalSuccesses != 1 {
			t.Fatalf("expected one recorded success, got %+v", snap.Counts)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot deadlocked")
	}
}

func TestRegistryGetOrCreateReusesBreaker(t *testing.T) {
	r := NewRegistry(testConfig())
	a := r.GetOrCreate("endpoint-1")
	b := r.GetOrCreate("endpoint-1")
	if a != b {
		t.Fatalf("expected the same breaker instance to be reused")
	}
}

func TestRegistrySnapshotsIncludesEveryEndpoint(t *testing.T) {
	r := NewRegistry(testConfig())
	r.GetOrCreate("endpoint-1")
	r.GetOrCreate("endpoint-2")

	snaps := r.Snapshots()
	if _, ok := snaps["endpoint-1"]; !ok {
		t.Fatalf("expected endpoint-1 in snapshots, got %+v", snaps)
	}
	if _, ok := snaps["endpoint-2"]; !ok {
		t.Fatalf("expected endpoint-2 in snapshots, got %+v", snaps)
	}
}

func TestRegistryRestoreFromSeedsCooldownBookkeeping(t *testing.T) {
	r := NewRegistry(testConfig())
	r.RestoreFrom(map[string]Snapshot{
		"endpoint-1": {Name: "endpoint-1", ConsecutiveOpen: 3, CurrentCooldown: "40ms"},
	})

	snap := r.Snapshots()["endpoint-1"]
	if snap.ConsecutiveOpen != 3 {
		t.Fatalf("expected consecutive-open 3 restored, got %d", snap.ConsecutiveOpen)
	}
	if snap.CurrentCooldown != "40ms" {
		t.Fatalf("expected cooldown 40ms restored, got %s", snap.CurrentCooldown)
	}
}

func TestPersistAndLoadSnapshotsRoundTrip(t *testing.T) {
	path := t.TempDir() + "/breakers.json"
	cfg := testConfig()
	cfg.SnapshotPath = path

	r := NewRegistry(cfg)
	r.GetOrCreate("endpoint-1")
	if err := r.Persist(); err != nil {
		t.Fatalf("unexpected error persisting snapshots: %v", err)
	}

	r2 := NewRegistry(cfg)
	snaps, err := r2.LoadSnapshots()
	if err != nil {
		t.Fatalf("unexpected error loading snapshots: %v", err)
	}
	if _, ok := snaps["endpoint-1"]; !ok {
		t.Fatalf("expected endpoint-1 in loaded snapshots, got %+v", snaps)
	}
}

func TestLoadSnapshotsMissingFileReturnsNil(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotPath = "/nonexistent/path/breakers.json"
	r := NewRegistry(cfg)

	snaps, err := r.LoadSnapshots()
	if err != nil {
		t.Fatalf("unexpected error for a missing snapshot file: %v", err)
	}
	if snaps != nil {
		t.Fatalf("expected nil snapshots for a missing file, got %+v", snaps)
	}
}
