package adapter

import (
	"testing"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

func TestHealthTrackerStartsHealthy(t *testing.T) {
	h := NewHealthTracker(3)
	if h.Status() != types.HealthHealthy {
		t.Fatalf("expected healthy, got %s", h.Status())
	}
}

func TestHealthTrackerDegradesBeforeThreshold(t *testing.T) {
	h := NewHealthTracker(3)
	h.RecordFailure()
	h.RecordFailure()
	if h.Status() != types.HealthDegraded {
		t.Fatalf("expected degraded, got %s", h.Status())
	}
}

func TestHealthTrackerUnhealthyAtThreshold(t *testing.T) {
	h := NewHealthTracker(3)
	h.RecordFailure()
	h.RecordFailure()
	h.RecordFailure()
	if h.Status() != types.HealthUnhealthy {
		t.Fatalf("expected unhealthy, got %s", h.Status())
	}
}

func TestHealthTrackerSuccessResetsStreak(t *testing.T) {
	h := NewHealthTracker(3)
	h.RecordFailure()
	h.RecordFailure()
	h.RecordFailure()
	h.RecordSuccess()
	if h.Status() != types.HealthHealthy {
		t.Fatalf("expected healthy after reset, got %s", h.Status())
	}
}

func TestHealthTrackerDefaultsThresholdWhenNonPositive(t *testing.T) {
	h := NewHealthTracker(0)
	h.RecordFailure()
	h.RecordFailure()
	if h.Status() != types.HealthDegraded {
		t.Fatalf("expected degraded under the default threshold, got %s", h.Status())
	}
}
