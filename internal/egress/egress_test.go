package egress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

func testFanout() *Fanout {
	cfg := config.EgressConfig{
		Workers:   4,
		QueueSize: 100,
		Breaker: config.BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			HalfOpenTrials:   1,
			Cooldown:         50 * time.Millisecond,
			MaxCooldown:      200 * time.Millisecond,
		},
		Retry: config.RetryConfig{
			MaxRetries:        1,
			InitialBackoff:    5 * time.Millisecond,
			MaxBackoff:        10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	}
	return NewFanout(cfg)
}

func TestSendAllSucceed(t *testing.T) {
	f := testFanout()
	discord := NewLoopbackTarget()
	twitch := NewLoopbackTarget()
	f.Register("discord", discord)
	f.Register("twitch", twitch)

	resp := &types.ExecuteResponse{
		Success: true,
		Message: "done",
		Targets: []types.EgressTarget{
			{Type: "discord"},
			{Type: "twitch"},
		},
	}

	result := f.Send(context.Background(), EventContext{EventID: "e1"}, resp)
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", result.Outcome)
	}
	if len(discord.Delivered()) != 1 || len(twitch.Delivered()) != 1 {
		t.Fatalf("expected one delivery per target")
	}
}

func TestSendPartialFailure(t *testing.T) {
	f := testFanout()
	discord := NewLoopbackTarget()
	twitch := NewLoopbackTarget()
	twitch.FailNext(errors.New("boom"))
	f.Register("discord", discord)
	f.Register("twitch", twitch)

	resp := &types.ExecuteResponse{
		Targets: []types.EgressTarget{
			{Type: "discord"},
			{Type: "twitch"},
		},
	}

	result := f.Send(context.Background(), EventContext{EventID: "e2"}, resp)
	if result.Outcome != OutcomePartialFailure {
		t.Fatalf("expected partial failure, got %s", result.Outcome)
	}
	if len(discord.Delivered()) != 1 {
		t.Fatalf("expected discord to still be delivered despite twitch failing")
	}
}

func TestSendUnregisteredPlatformFails(t *testing.T) {
	f := testFanout()
	resp := &types.ExecuteResponse{
		Targets: []types.EgressTarget{{Type: "slack"}},
	}

	result := f.Send(context.Background(), EventContext{EventID: "e3"}, resp)
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed for unregistered platform, got %s", result.Outcome)
	}
}

func TestSendNoTargets(t *testing.T) {
	f := testFanout()
	resp := &types.ExecuteResponse{}
	result := f.Send(context.Background(), EventContext{EventID: "e4"}, resp)
	if result.Outcome != OutcomeNoTargets {
		t.Fatalf("expected no-targets, got %s", result.Outcome)
	}
}

func TestSummaryFormatsEachTarget(t *testing.T) {
	results := []TargetResult{
		{Target: types.EgressTarget{Type: "discord"}, Err: nil},
		{Target: types.EgressTarget{Type: "twitch"}, Err: errors.New("timeout")},
	}
	s := Summary(results)
	if s != "discord:ok, twitch:timeout" {
		t.Fatalf("unexpected summary: %s", s)
	}
}
