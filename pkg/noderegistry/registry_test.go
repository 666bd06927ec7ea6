package noderegistry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterCreatesThenResumesByName(t *testing.T) {
	mem := store.NewMemory(nil)
	reg := New(mem, testLogger(), 35*time.Second, 70*time.Second)
	ctx := context.Background()

	n, err := reg.Register(ctx, types.Node{
		Name: "n1", RuntimeType: types.RuntimeNode, RegisteredBy: "admin",
		Allocatable: types.Resources{CPU: 1000, Memory: 1024, Pods: 10},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if n.Status != types.NodeOnline {
		t.Fatalf("status = %s, want online", n.Status)
	}

	n.Status = types.NodeOffline
	if _, err := mem.UpdateNode(ctx, n); err != nil {
		t.Fatalf("force offline: %v", err)
	}

	resumed, err := reg.Register(ctx, types.Node{
		Name: "n1", RuntimeType: types.RuntimeNode, RegisteredBy: "admin",
		Allocatable: types.Resources{CPU: 2000, Memory: 2048, Pods: 20},
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if resumed.ID != n.ID {
		t.Fatalf("re-register created a new node instead of resuming %s", n.ID)
	}
	if resumed.Status != types.NodeOnline {
		t.Fatalf("status = %s, want online after resume", resumed.Status)
	}
}

func TestHeartbeatResyncsUnhealthyNode(t *testing.T) {
	mem := store.NewMemory(nil)
	reg := New(mem, testLogger(), 35*time.Second, 70*time.Second)
	ctx := context.Background()

	n, err := reg.Register(ctx, types.Node{
		Name: "n1", RuntimeType: types.RuntimeNode, RegisteredBy: "admin",
		Allocatable: types.Resources{CPU: 1000, Memory: 1024, Pods: 10},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	n.Status = types.NodeUnhealthy
	n, err = mem.UpdateNode(ctx, n)
	if err != nil {
		t.Fatalf("force unhealthy: %v", err)
	}

	updated, err := reg.Heartbeat(ctx, Heartbeat{
		NodeID: n.ID, Allocated: types.Resources{CPU: 100}, RuntimeVersion: "1.2.3", ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if updated.Status != types.NodeOnline {
		t.Fatalf("status = %s, want online", updated.Status)
	}
}

func TestCheckLivenessMarksUnhealthyThenOfflineAndEvicts(t *testing.T) {
	mem := store.NewMemory(nil)
	reg := New(mem, testLogger(), 30*time.Millisecond, 60*time.Millisecond)
	ctx := context.Background()

	n, err := reg.Register(ctx, types.Node{
		Name: "n1", RuntimeType: types.RuntimeNode, RegisteredBy: "admin",
		Allocatable: types.Resources{CPU: 1000, Memory: 1024, Pods: 10},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	n.LastHeartbeat = time.Now().UTC().Add(-40 * time.Millisecond)
	if _, err := mem.UpdateNode(ctx, n); err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}

	if err := reg.CheckLiveness(ctx, nil); err != nil {
		t.Fatalf("check liveness: %v", err)
	}
	after, err := mem.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if after.Status != types.NodeUnhealthy {
		t.Fatalf("status = %s, want unhealthy", after.Status)
	}

	after.LastHeartbeat = time.Now().UTC().Add(-70 * time.Millisecond)
	if _, err := mem.UpdateNode(ctx, after); err != nil {
		t.Fatalf("backdate further: %v", err)
	}

	evicted := false
	err = reg.CheckLiveness(ctx, func(_ context.Context, nodeID string) error {
		evicted = true
		if nodeID != n.ID {
			t.Errorf("evicted nodeID = %s, want %s", nodeID, n.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check liveness (offline): %v", err)
	}
	if !evicted {
		t.Fatal("expected evictPodsFor to be called when node goes offline")
	}

	final, err := mem.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if final.Status != types.NodeOffline {
		t.Fatalf("status = %s, want offline", final.Status)
	}
}

func TestCordonUncordonDrain(t *testing.T) {
	mem := store.NewMemory(nil)
	reg := New(mem, testLogger(), 35*time.Second, 70*time.Second)
	ctx := context.Background()

	n, err := reg.Register(ctx, types.Node{
		Name: "n1", RuntimeType: types.RuntimeNode, RegisteredBy: "admin",
		Allocatable: types.Resources{CPU: 1000, Memory: 1024, Pods: 10},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cordoned, err := reg.Cordon(ctx, n.ID)
	if err != nil {
		t.Fatalf("cordon: %v", err)
	}
	if !cordoned.Unschedulable || cordoned.Status != types.NodeOnline {
		t.Fatalf("cordon should only set unschedulable, got status=%s unschedulable=%v", cordoned.Status, cordoned.Unschedulable)
	}

	uncordoned, err := reg.Uncordon(ctx, n.ID)
	if err != nil {
		t.Fatalf("uncordon: %v", err)
	}
	if uncordoned.Unschedulable {
		t.Fatal("expected unschedulable=false after uncordon")
	}

	drained, err := reg.Drain(ctx, n.ID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained.Status != types.NodeDraining || !drained.Unschedulable {
		t.Fatalf("drain should set status=draining and unschedulable=true, got status=%s unschedulable=%v", drained.Status, drained.Unschedulable)
	}
}
