package store

import (
	"context"
	"testing"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/types"
)

func TestMemoryCreatePackRejectsDuplicateNameVersion(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	pack := types.Pack{Name: "hello", Version: "1.0.0", RuntimeTag: types.RuntimeNode, OwnerID: "u1", BundlePath: "s3://bundles/hello-1.0.0"}
	if _, err := m.CreatePack(ctx, pack); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := m.CreatePack(ctx, pack)
	if !errkind.Is(err, errkind.Conflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
}

func TestMemoryUpdateNodeRejectsStaleVersion(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	n, err := m.CreateNode(ctx, types.Node{
		Name:         "n1",
		RuntimeType:  types.RuntimeNode,
		RegisteredBy: "admin",
		Allocatable:  types.Resources{CPU: 1000, Memory: 1024, Pods: 10},
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if n.Version != 1 {
		t.Fatalf("version = %d, want 1", n.Version)
	}

	n.Unschedulable = true
	updated, err := m.UpdateNode(ctx, n)
	if err != nil {
		t.Fatalf("update node: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}

	// Reusing the stale (pre-update) copy must fail as a precondition mismatch.
	n.Unschedulable = false
	_, err = m.UpdateNode(ctx, n)
	if !errkind.Is(err, errkind.PreconditionFailed) {
		t.Fatalf("err = %v, want PreconditionFailed", err)
	}
}

func TestMemoryTransitionPodRejectsInvalidEdge(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	pod, err := m.CreatePod(ctx, types.Pod{
		PackID: "pack-1", PackVersion: "1.0.0", Namespace: "default",
		Status: types.PodPending, CreatedBy: "admin",
		ResourceRequests: types.Resources{CPU: 100, Memory: 128, Pods: 1},
	})
	if err != nil {
		t.Fatalf("create pod: %v", err)
	}

	// pending -> running is not a declared edge (must bind/start first).
	_, err = m.TransitionPod(ctx, pod.ID, pod.Version, types.PodRunning, "")
	if !errkind.Is(err, errkind.Validation) {
		t.Fatalf("err = %v, want Validation", err)
	}

	scheduled, err := m.TransitionPod(ctx, pod.ID, pod.Version, types.PodScheduled, "bound to n1")
	if err != nil {
		t.Fatalf("transition to scheduled: %v", err)
	}

	starting, err := m.TransitionPod(ctx, scheduled.ID, scheduled.Version, types.PodStarting, "")
	if err != nil {
		t.Fatalf("transition to starting: %v", err)
	}

	running, err := m.TransitionPod(ctx, starting.ID, starting.Version, types.PodRunning, "")
	if err != nil {
		t.Fatalf("transition to running: %v", err)
	}
	if running.StartedAt == nil {
		t.Fatal("expected startedAt to be set on entering running")
	}

	hist, err := m.ListPodHistory(ctx, pod.ID, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history entries = %d, want 3", len(hist))
	}
}

func TestMemoryListPodsFiltersByNamespaceAndStatus(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	for _, ns := range []string{"default", "prod", "prod"} {
		if _, err := m.CreatePod(ctx, types.Pod{
			PackID: "pack-1", PackVersion: "1.0.0", Namespace: ns,
			Status: types.PodPending, CreatedBy: "admin",
			ResourceRequests: types.Resources{CPU: 100, Memory: 128, Pods: 1},
		}); err != nil {
			t.Fatalf("create pod: %v", err)
		}
	}

	pods, total, err := m.ListPods(ctx, ListOptions{Namespace: "prod"})
	if err != nil {
		t.Fatalf("list pods: %v", err)
	}
	if total != 2 || len(pods) != 2 {
		t.Fatalf("total=%d len=%d, want 2/2", total, len(pods))
	}
}

func TestMemoryCreateNetworkPolicyRejectsDuplicateTriple(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	pol := types.NetworkPolicy{SourceService: "a", TargetService: "b", Namespace: "default", Action: types.PolicyAllow}
	if _, err := m.CreateNetworkPolicy(ctx, pol); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	_, err := m.CreateNetworkPolicy(ctx, pol)
	if !errkind.Is(err, errkind.Conflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
}
