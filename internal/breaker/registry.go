package breaker

import (
	"encoding/json"
	"os"

	"github.com/penguintechinc/waddlebot-router/internal/byroute"
	"github.com/penguintechinc/waddlebot-router/internal/config"
)

// Registry holds one Breaker per adapter endpoint, keyed the same way the
// dispatcher addresses adapters (module id + endpoint coordinates).
type Registry struct {
	breakers    *byroute.Manager[*Breaker]
	defaults    config.BreakerConfig
	snapshotPath string
}

// NewRegistry creates a Registry using cfg as the shape for every endpoint's
// breaker.
func NewRegistry(cfg config.BreakerConfig) *Registry {
	return &Registry{
		breakers:     byroute.New[*Breaker](),
		defaults:     cfg,
		snapshotPath: cfg.SnapshotPath,
	}
}

// GetOrCreate returns the breaker for endpoint, creating one with the
// registry's default configuration on first use.
func (r *Registry) GetOrCreate(endpoint string) *Breaker {
	if b, ok := r.breakers.Get(endpoint); ok {
		return b
	}
	b := New(endpoint, r.defaults)
	r.breakers.Add(endpoint, b)
	return b
}

// Snapshots returns a point-in-time view of every known breaker, for the
// admin surface and for warm-restart persistence.
func (r *Registry) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot, r.breakers.Len())
	r.breakers.Range(func(id string, b *Breaker) bool {
		out[id] = b.Snapshot()
		return true
	})
	return out
}

// Persist writes the current snapshots to the registry's configured
// snapshot path. A no-op when no path is configured.
func (r *Registry) Persist() error {
	if r.snapshotPath == "" {
		return nil
	}
	data, err := json.Marshal(r.Snapshots())
	if err != nil {
		return err
	}
	return os.WriteFile(r.snapshotPath, data, 0o600)
}

// LoadSnapshots reads prior snapshots from disk for informational warm-start
// display. Breaker internal counters always start fresh (gobreaker owns that
// state); the snapshot only seeds consecutive-open/cooldown bookkeeping so an
// operator can see whether an endpoint was tripped before restart.
func (r *Registry) LoadSnapshots() (map[string]Snapshot, error) {
	if r.snapshotPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(r.snapshotPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snaps map[string]Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// RestoreFrom seeds a breaker for every snapshot key, so the doubling
// cooldown and consecutive-open bookkeeping an operator sees on the admin
// surface survives a restart even though gobreaker's own counters reset.
func (r *Registry) RestoreFrom(snaps map[string]Snapshot) {
	for endpoint, snap := range snaps {
		b := r.GetOrCreate(endpoint)
		b.restore(snap)
	}
}
