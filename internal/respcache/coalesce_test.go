package respcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

func TestExecuteCachesSuccessfulResponse(t *testing.T) {
	rc := NewResponseCache(16, time.Second)
	calls := 0
	call := func(ctx context.Context) (*types.ExecuteResponse, error) {
		calls++
		return &types.ExecuteResponse{Success: true, Message: "pong"}, nil
	}

	resp, cacheHit, shared, err := rc.Execute(context.Background(), "fp1", time.Minute, false, call)
	if err != nil || cacheHit || shared || resp.Message != "pong" {
		t.Fatalf("unexpected first call result: resp=%+v hit=%v shared=%v err=%v", resp, cacheHit, shared, err)
	}

	resp, cacheHit, shared, err = rc.Execute(context.Background(), "fp1", time.Minute, false, call)
	if err != nil || !cacheHit || shared || resp.Message != "pong" {
		t.Fatalf("unexpected second call result: resp=%+v hit=%v shared=%v err=%v", resp, cacheHit, shared, err)
	}
	if calls != 1 {
		t.Fatalf("expected the adapter call to happen exactly once, got %d", calls)
	}
}

func TestExecuteDoesNotCacheFailureByDefault(t *testing.T) {
	rc := NewResponseCache(16, time.Second)
	calls := 0
	call := func(ctx context.Context) (*types.ExecuteResponse, error) {
		calls++
		return &types.ExecuteResponse{Success: false}, nil
	}

	if _, _, _, err := rc.Execute(context.Background(), "fp1", time.Minute, false, call); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, cacheHit, _, err := rc.Execute(context.Background(), "fp1", time.Minute, false, call); err != nil || cacheHit {
		t.Fatalf("expected no cache hit for an uncached failure, got hit=%v err=%v", cacheHit, err)
	}
	if calls != 2 {
		t.Fatalf("expected two calls since the failure wasn't cached, got %d", calls)
	}
}

func TestExecuteCoalescesConcurrentCallers(t *testing.T) {
	rc := NewResponseCache(16, time.Second)
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	call := func(ctx context.Context) (*types.ExecuteResponse, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return &types.ExecuteResponse{Success: true}, nil
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, shared, err := rc.Execute(context.Background(), "fp-shared", time.Minute, false, call)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = shared
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single coalesced adapter call, got %d", calls)
	}
	if !(results[0] || results[1]) {
		t.Fatalf("expected at least one caller to observe shared=true, got %+v", results)
	}
}

func TestExecutePropagatesError(t *testing.T) {
	rc := NewResponseCache(16, time.Second)
	boom := context.DeadlineExceeded
	call := func(ctx context.Context) (*types.ExecuteResponse, error) {
		return nil, boom
	}
	_, cacheHit, _, err := rc.Execute(context.Background(), "fp-err", time.Minute, false, call)
	if err == nil || cacheHit {
		t.Fatalf("expected an error and no cache hit, got hit=%v err=%v", cacheHit, err)
	}
}
