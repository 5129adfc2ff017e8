package egress

import (
	"context"
	"sync"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// LoopbackTarget records deliveries in memory instead of calling out to a
// real platform; used by tests and local development.
type LoopbackTarget struct {
	mu        sync.Mutex
	delivered []LoopbackDelivery
	fail      error
}

// LoopbackDelivery is one recorded call to a LoopbackTarget.
type LoopbackDelivery struct {
	Target types.EgressTarget
	Resp   *types.ExecuteResponse
}

// NewLoopbackTarget returns a Target that always succeeds until FailNext is
// set.
func NewLoopbackTarget() *LoopbackTarget {
	return &LoopbackTarget{}
}

// Deliver records the call and returns the configured failure, if any.
func (t *LoopbackTarget) Deliver(_ context.Context, target types.EgressTarget, resp *types.ExecuteResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		err := t.fail
		t.fail = nil
		return err
	}
	t.delivered = append(t.delivered, LoopbackDelivery{Target: target, Resp: resp})
	return nil
}

// FailNext makes the next Deliver call return err instead of recording.
func (t *LoopbackTarget) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

// Delivered returns a copy of every recorded delivery.
func (t *LoopbackTarget) Delivered() []LoopbackDelivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]LoopbackDelivery, len(t.delivered))
	copy(out, t.delivered)
	return out
}
