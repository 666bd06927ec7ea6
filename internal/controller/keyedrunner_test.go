package controller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestKeyedRunnerSerializesPerKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var mu sync.Mutex
	running := map[string]bool{}
	var maxConcurrent int
	var concurrent int

	r := newKeyedRunner("test", func(ctx context.Context, key string) error {
		mu.Lock()
		if running[key] {
			t.Errorf("key %s ran concurrently with itself", key)
		}
		running[key] = true
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running[key] = false
		concurrent--
		mu.Unlock()
		return nil
	}, logger)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Trigger(ctx, "a")
	}
	r.Wait(ctx)
}

func TestKeyedRunnerCoalescesTrailingEdge(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var mu sync.Mutex
	var runs int

	started := make(chan struct{})
	release := make(chan struct{})
	r := newKeyedRunner("test", func(ctx context.Context, key string) error {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}, logger)

	ctx := context.Background()
	r.Trigger(ctx, "svc-1")
	<-started
	// These two triggers arrive while the first run is in flight; they must
	// coalesce into a single trailing-edge re-run, not two more runs.
	r.Trigger(ctx, "svc-1")
	r.Trigger(ctx, "svc-1")
	close(release)

	r.Wait(ctx)

	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Fatalf("runs = %d, want 2 (one in-flight + one coalesced trailing run)", runs)
	}
}
