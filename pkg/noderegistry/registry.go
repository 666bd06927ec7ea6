// Package noderegistry is the Node Registry (spec §4.B): node lifecycle,
// heartbeat tracking, and operator-driven cordon/drain. The registry holds
// one lock per node (sharded by node ID) so heartbeat processing for
// different nodes never contends, while a global Snapshot takes a single
// short read pass (spec §5).
package noderegistry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// Heartbeat is one agent->registry heartbeat frame (spec §4.B/§4.E).
type Heartbeat struct {
	NodeID         string
	Allocated      types.Resources
	RuntimeVersion string
	ReceivedAt     time.Time
}

// Registry tracks every registered node's liveness and administrative state.
type Registry struct {
	gateway store.Gateway
	logger  *slog.Logger

	unhealthyAfter time.Duration
	offlineAfter   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Registry. unhealthyAfter/offlineAfter are the T_unhealthy
// and T_offline thresholds from spec §4.B/§5 (defaults: 2×interval+5s and
// 4×interval+10s, computed by the caller from config.Config.HeartbeatInterval).
func New(gateway store.Gateway, logger *slog.Logger, unhealthyAfter, offlineAfter time.Duration) *Registry {
	return &Registry{
		gateway:        gateway,
		logger:         logger,
		unhealthyAfter: unhealthyAfter,
		offlineAfter:   offlineAfter,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockFor(nodeID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[nodeID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[nodeID] = l
	}
	return l
}

// Register creates a node record, or resumes an existing one by name,
// setting it online (spec §4.B: "*, register -> online").
func (r *Registry) Register(ctx context.Context, n types.Node) (types.Node, error) {
	existing, err := r.gateway.GetNodeByName(ctx, n.Name)
	if err == nil {
		lock := r.lockFor(existing.ID)
		lock.Lock()
		defer lock.Unlock()

		existing.Status = types.NodeOnline
		existing.RuntimeVersion = n.RuntimeVersion
		existing.ConnectionID = n.ConnectionID
		existing.Allocatable = n.Allocatable
		existing.LastHeartbeat = time.Now().UTC()
		return r.gateway.UpdateNode(ctx, existing)
	}
	if !errkind.Is(err, errkind.NotFound) {
		return types.Node{}, err
	}

	n.Status = types.NodeOnline
	n.LastHeartbeat = time.Now().UTC()
	if n.Allocated == (types.Resources{}) {
		n.Allocated = types.Resources{}
	}
	return r.gateway.CreateNode(ctx, n)
}

// Heartbeat applies hb to the node it names, resyncing observed allocation
// and, per spec §4.B, transitioning unhealthy/offline nodes back to online.
func (r *Registry) Heartbeat(ctx context.Context, hb Heartbeat) (types.Node, error) {
	lock := r.lockFor(hb.NodeID)
	lock.Lock()
	defer lock.Unlock()

	n, err := r.gateway.GetNode(ctx, hb.NodeID)
	if err != nil {
		return types.Node{}, err
	}

	switch n.Status {
	case types.NodeUnhealthy, types.NodeOffline:
		n.Status = types.NodeOnline
	case types.NodeRemoved:
		return types.Node{}, errkind.New(errkind.Conflict, "conflict", "node is removed")
	}

	n.Allocated = hb.Allocated
	n.RuntimeVersion = hb.RuntimeVersion
	n.LastHeartbeat = hb.ReceivedAt
	return r.gateway.UpdateNode(ctx, n)
}

// Cordon sets unschedulable=true without changing status (spec §4.B).
func (r *Registry) Cordon(ctx context.Context, nodeID string) (types.Node, error) {
	return r.withLock(ctx, nodeID, func(n types.Node) types.Node {
		n.Unschedulable = true
		return n
	})
}

// Uncordon clears unschedulable.
func (r *Registry) Uncordon(ctx context.Context, nodeID string) (types.Node, error) {
	return r.withLock(ctx, nodeID, func(n types.Node) types.Node {
		n.Unschedulable = false
		return n
	})
}

// Drain marks the node draining and unschedulable. It does not evict the
// node's pods, and no other component evicts pods because a node is draining.
func (r *Registry) Drain(ctx context.Context, nodeID string) (types.Node, error) {
	return r.withLock(ctx, nodeID, func(n types.Node) types.Node {
		n.Status = types.NodeDraining
		n.Unschedulable = true
		return n
	})
}

func (r *Registry) withLock(ctx context.Context, nodeID string, mutate func(types.Node) types.Node) (types.Node, error) {
	lock := r.lockFor(nodeID)
	lock.Lock()
	defer lock.Unlock()

	n, err := r.gateway.GetNode(ctx, nodeID)
	if err != nil {
		return types.Node{}, err
	}
	n = mutate(n)
	return r.gateway.UpdateNode(ctx, n)
}

// CheckLiveness scans every non-removed node for heartbeat staleness and
// applies the unhealthy/offline transitions from spec §4.B. It is invoked
// once per controller tick. Nodes newly marked offline have their bound
// pods evicted so the service reconciler creates replacements on its next
// pass; that eviction delegates to evictPodsFor.
func (r *Registry) CheckLiveness(ctx context.Context, evictPodsFor func(ctx context.Context, nodeID string) error) error {
	nodes, _, err := r.gateway.ListNodes(ctx, store.ListOptions{Limit: 10000})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, n := range nodes {
		if n.Status == types.NodeRemoved || n.Status == types.NodeDraining || n.Status == types.NodeMaintenance {
			continue
		}
		missedFor := now.Sub(n.LastHeartbeat)

		var next types.NodeStatus
		switch {
		case n.Status == types.NodeOnline && missedFor > r.unhealthyAfter:
			next = types.NodeUnhealthy
		case n.Status == types.NodeUnhealthy && missedFor > r.offlineAfter:
			next = types.NodeOffline
		default:
			continue
		}

		lock := r.lockFor(n.ID)
		lock.Lock()
		fresh, err := r.gateway.GetNode(ctx, n.ID)
		if err != nil {
			lock.Unlock()
			r.logger.Error("reloading node during liveness check", "error", err, "nodeId", n.ID)
			continue
		}
		fresh.Status = next
		updated, err := r.gateway.UpdateNode(ctx, fresh)
		lock.Unlock()
		if err != nil {
			if errkind.Is(err, errkind.PreconditionFailed) {
				continue // heartbeat raced us; fine, re-evaluate next tick
			}
			r.logger.Error("updating node liveness status", "error", err, "nodeId", n.ID)
			continue
		}

		r.logger.Info("node liveness transition", "nodeId", n.ID, "name", n.Name, "from", n.Status, "to", next)

		if next == types.NodeOffline && evictPodsFor != nil {
			if err := evictPodsFor(ctx, updated.ID); err != nil {
				r.logger.Error("evicting pods for offline node", "error", err, "nodeId", updated.ID)
			}
		}
	}
	return nil
}

// Snapshot returns every node currently known, for the scheduler's filter
// stage. It takes a single list call rather than per-node locks, accepting
// a momentary staleness the scheduler's own retry-on-precondition-failure
// already compensates for.
func (r *Registry) Snapshot(ctx context.Context) ([]types.Node, error) {
	nodes, _, err := r.gateway.ListNodes(ctx, store.ListOptions{Limit: 10000})
	return nodes, err
}
