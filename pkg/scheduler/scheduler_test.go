package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustNamespace(t *testing.T, mem *store.Memory, name string) {
	t.Helper()
	ctx := context.Background()
	if _, err := mem.CreateNamespace(ctx, types.Namespace{Name: name, Phase: types.NamespaceActive}); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
}

func mustPack(t *testing.T, mem *store.Memory, runtime types.RuntimeTag) types.Pack {
	t.Helper()
	p, err := mem.CreatePack(context.Background(), types.Pack{
		Name: "demo", Version: "1.0.0", RuntimeTag: runtime, Visibility: types.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	return p
}

func mustNode(t *testing.T, mem *store.Memory, name string, allocatable types.Resources, labels map[string]string) types.Node {
	t.Helper()
	n, err := mem.CreateNode(context.Background(), types.Node{
		Name: name, RuntimeType: types.RuntimeNode, RegisteredBy: "system",
		Status: types.NodeOnline, Allocatable: allocatable, Labels: labels,
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	return n
}

func mustOwnedNode(t *testing.T, mem *store.Memory, name, registeredBy, registeredByRole string, allocatable types.Resources) types.Node {
	t.Helper()
	n, err := mem.CreateNode(context.Background(), types.Node{
		Name: name, RuntimeType: types.RuntimeNode, RegisteredBy: registeredBy, RegisteredByRole: registeredByRole,
		Status: types.NodeOnline, Allocatable: allocatable,
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	return n
}

func mustPrivatePack(t *testing.T, mem *store.Memory, ownerID string) types.Pack {
	t.Helper()
	p, err := mem.CreatePack(context.Background(), types.Pack{
		Name: "private-demo", Version: "1.0.0", RuntimeTag: types.RuntimeNode,
		Visibility: types.VisibilityPrivate, OwnerID: ownerID,
	})
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	return p
}

func mustPod(t *testing.T, mem *store.Memory, namespace, packID string, priority int, req types.Resources) types.Pod {
	t.Helper()
	p, err := mem.CreatePod(context.Background(), types.Pod{
		PackID: packID, Namespace: namespace, Status: types.PodPending,
		Priority: priority, ResourceRequests: req,
	})
	if err != nil {
		t.Fatalf("create pod: %v", err)
	}
	return p
}

func TestScheduleOneBindsToOnlyFittingNode(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeNode)

	mustNode(t, mem, "small", types.Resources{CPU: 100, Memory: 128, Pods: 4}, nil)
	big := mustNode(t, mem, "big", types.Resources{CPU: 4000, Memory: 8192, Pods: 64}, nil)

	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 2000, Memory: 4096})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	bound, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if bound.Status != types.PodScheduled {
		t.Fatalf("status = %s, want scheduled", bound.Status)
	}
	if bound.NodeID != big.ID {
		t.Fatalf("nodeId = %s, want the only fitting node %s", bound.NodeID, big.ID)
	}
}

func TestScheduleOneFailsWithNoMatchingNodesWhenNoneOnline(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeNode)
	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.Status != types.PodPending {
		t.Fatalf("status = %s, want still pending", after.Status)
	}
	if after.StatusMessage != OutcomeNoMatchingNodes {
		t.Fatalf("statusMessage = %s, want %s", after.StatusMessage, OutcomeNoMatchingNodes)
	}
}

func TestScheduleOneFailsWithIncompatibleRuntime(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeBrowser)
	mustNode(t, mem, "n1", types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, nil)
	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.StatusMessage != OutcomeIncompatibleRuntime {
		t.Fatalf("statusMessage = %s, want %s", after.StatusMessage, OutcomeIncompatibleRuntime)
	}
}

func TestScheduleOneIsDeterministicAcrossRepeatedPasses(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeNode)
	mustNode(t, mem, "a", types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, nil)
	mustNode(t, mem, "b", types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, nil)
	podA := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, podA.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	first, err := mem.GetPod(ctx, podA.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}

	// Undo podA's allocation so the second pass sees the same cluster
	// snapshot as the first.
	winner, err := mem.GetNode(ctx, first.NodeID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	winner.Allocated = types.Resources{}
	if _, err := mem.UpdateNode(ctx, winner); err != nil {
		t.Fatalf("reset node allocation: %v", err)
	}

	podB := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})
	if err := s.ScheduleOne(ctx, podB.ID); err != nil {
		t.Fatalf("schedule second: %v", err)
	}
	second, err := mem.GetPod(ctx, podB.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if first.NodeID != second.NodeID {
		t.Fatalf("identical requests bound to different nodes: %s vs %s, want the same tie-break winner", first.NodeID, second.NodeID)
	}
}

func TestScheduleOnePreemptsLowerPriorityPodWhenNoCapacityRemains(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeNode)

	node := mustNode(t, mem, "n1", types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, nil)

	occupant := mustPod(t, mem, "default", pack.ID, 10, types.Resources{CPU: 900, Memory: 900})
	occupant.NodeID = node.ID
	occupant.Status = types.PodScheduled
	occupant, err := mem.UpdatePod(ctx, occupant)
	if err != nil {
		t.Fatalf("seed occupant: %v", err)
	}
	node.Allocated = types.Resources{CPU: 900, Memory: 900}
	if _, err := mem.UpdateNode(ctx, node); err != nil {
		t.Fatalf("seed node allocation: %v", err)
	}

	pending := mustPod(t, mem, "default", pack.ID, 900, types.Resources{CPU: 500, Memory: 500})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pending.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	afterPending, err := mem.GetPod(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get pending pod: %v", err)
	}
	if afterPending.StatusMessage != OutcomeDeferredForPreemption {
		t.Fatalf("statusMessage = %s, want %s", afterPending.StatusMessage, OutcomeDeferredForPreemption)
	}
	if afterPending.Status != types.PodPending {
		t.Fatalf("status = %s, want still pending (bind deferred to next tick)", afterPending.Status)
	}

	afterOccupant, err := mem.GetPod(ctx, occupant.ID)
	if err != nil {
		t.Fatalf("get occupant: %v", err)
	}
	if afterOccupant.Status != types.PodEvicted {
		t.Fatalf("occupant status = %s, want evicted", afterOccupant.Status)
	}
}

func TestScheduleOneDoesNotPreemptBelowThreshold(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeNode)

	node := mustNode(t, mem, "n1", types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, nil)
	occupant := mustPod(t, mem, "default", pack.ID, 10, types.Resources{CPU: 900, Memory: 900})
	occupant.NodeID = node.ID
	occupant.Status = types.PodScheduled
	if _, err := mem.UpdatePod(ctx, occupant); err != nil {
		t.Fatalf("seed occupant: %v", err)
	}
	node.Allocated = types.Resources{CPU: 900, Memory: 900}
	if _, err := mem.UpdateNode(ctx, node); err != nil {
		t.Fatalf("seed node allocation: %v", err)
	}

	pending := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 500, Memory: 500})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pending.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.StatusMessage != OutcomeInsufficientResources {
		t.Fatalf("statusMessage = %s, want %s (priority below preemption threshold)", after.StatusMessage, OutcomeInsufficientResources)
	}
}

func TestScheduleOneBindsPrivatePackToMatchingOwner(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPrivatePack(t, mem, "user-1")
	node := mustOwnedNode(t, mem, "n1", "user-1", "operator", types.Resources{CPU: 1000, Memory: 1024, Pods: 10})
	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.Status != types.PodScheduled || after.NodeID != node.ID {
		t.Fatalf("expected private pack bound to owning node, got status=%s nodeId=%s", after.Status, after.NodeID)
	}
}

func TestScheduleOneRejectsPrivatePackForNonOwningNode(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPrivatePack(t, mem, "user-1")
	mustOwnedNode(t, mem, "n1", "user-2", "operator", types.Resources{CPU: 1000, Memory: 1024, Pods: 10})
	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.Status != types.PodPending || after.StatusMessage != OutcomeNoMatchingNodes {
		t.Fatalf("expected private pack unschedulable against a non-owning node, got status=%s message=%s", after.Status, after.StatusMessage)
	}
}

func TestScheduleOneBindsPrivatePackToAdminNodeRegardlessOfOwner(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPrivatePack(t, mem, "user-1")
	node := mustOwnedNode(t, mem, "n1", "user-2", types.AdminRole, types.Resources{CPU: 1000, Memory: 1024, Pods: 10})
	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.Status != types.PodScheduled || after.NodeID != node.ID {
		t.Fatalf("expected admin-registered node to bypass ownership check, got status=%s nodeId=%s", after.Status, after.NodeID)
	}
}

func TestScheduleOneHonorsPreBindVeto(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx := context.Background()
	mustNamespace(t, mem, "default")
	pack := mustPack(t, mem, types.RuntimeNode)
	mustNode(t, mem, "n1", types.Resources{CPU: 1000, Memory: 1024, Pods: 10}, nil)
	pod := mustPod(t, mem, "default", pack.ID, 100, types.Resources{CPU: 100})

	s := New(mem, testLogger(), 500)
	s.SetPreBindVeto(func(types.Pod, types.Node) (bool, string) { return true, "chaos" })

	if err := s.ScheduleOne(ctx, pod.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	after, err := mem.GetPod(ctx, pod.ID)
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if after.StatusMessage != OutcomeChaosInjected {
		t.Fatalf("statusMessage = %s, want %s", after.StatusMessage, OutcomeChaosInjected)
	}
	if after.NodeID != "" {
		t.Fatalf("nodeId = %s, want empty after veto", after.NodeID)
	}
}
