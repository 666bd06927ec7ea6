package controller

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/noderegistry"
	"github.com/WeWatchWall/stark/pkg/scheduler"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/svcreconciler"
	"github.com/WeWatchWall/stark/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestControllerSweepSchedulesPendingPodOnTick(t *testing.T) {
	bus := eventbus.New(testLogger())
	mem := store.NewMemory(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := mem.CreateNamespace(ctx, types.Namespace{Name: "default"}); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	pack, err := mem.CreatePack(ctx, types.Pack{Name: "web", Version: "1.0.0", RuntimeTag: types.RuntimeNode, Visibility: types.VisibilityPublic})
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	if _, err := mem.CreateNode(ctx, types.Node{
		Name: "n1", RuntimeType: types.RuntimeNode, Status: types.NodeOnline, RegisteredBy: "test",
		Allocatable: types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, LastHeartbeat: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create node: %v", err)
	}
	pod, err := mem.CreatePod(ctx, types.Pod{
		PackID: pack.ID, PackVersion: "1.0.0", Namespace: "default", Status: types.PodPending,
		ResourceRequests: types.Resources{CPU: 100, Memory: 128, Pods: 1},
	})
	if err != nil {
		t.Fatalf("create pod: %v", err)
	}

	registry := noderegistry.New(mem, testLogger(), 35*time.Second, 70*time.Second)
	sched := scheduler.New(mem, testLogger(), 500)
	reconciler := svcreconciler.New(mem, testLogger(), 120*time.Second, 3, time.Hour)

	c := New(mem, bus, registry, sched, reconciler, testLogger(), 20*time.Millisecond, 0, 100*time.Millisecond)

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	var bound types.Pod
	for time.Now().Before(deadline) {
		bound, err = mem.GetPod(ctx, pod.ID)
		if err != nil {
			t.Fatalf("get pod: %v", err)
		}
		if bound.Status == types.PodScheduled || bound.NodeID != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if bound.NodeID == "" {
		t.Fatalf("pod never bound: %+v", bound)
	}

	runCancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not shut down within its drain deadline")
	}
}

func TestControllerSweepReconcilesServiceOnTick(t *testing.T) {
	bus := eventbus.New(testLogger())
	mem := store.NewMemory(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := mem.CreateService(ctx, types.Service{
		Name: "web", Namespace: "default", PackID: "pack-1", PackName: "web", PackVersion: "1.0.0",
		Replicas: 2, Status: types.ServiceActive,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	registry := noderegistry.New(mem, testLogger(), 35*time.Second, 70*time.Second)
	sched := scheduler.New(mem, testLogger(), 500)
	reconciler := svcreconciler.New(mem, testLogger(), 120*time.Second, 3, time.Hour)

	c := New(mem, bus, registry, sched, reconciler, testLogger(), 20*time.Millisecond, 0, 100*time.Millisecond)

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pods, _, err := mem.ListPods(ctx, store.ListOptions{Namespace: "default", Limit: 100})
		if err != nil {
			t.Fatalf("list pods: %v", err)
		}
		if len(pods) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	pods, _, err := mem.ListPods(ctx, store.ListOptions{Namespace: "default", Limit: 100})
	if err != nil {
		t.Fatalf("list pods: %v", err)
	}
	if len(pods) < 2 {
		t.Fatalf("pod count = %d, want at least 2 created for service %s", len(pods), svc.ID)
	}

	runCancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not shut down within its drain deadline")
	}
}
