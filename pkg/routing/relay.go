package routing

import (
	"context"
	"log/slog"

	"github.com/WeWatchWall/stark/pkg/agent"
)

// commandSender is the subset of *agent.Hub the routing fabric needs. A
// narrow interface keeps this package testable without a live websocket.
type commandSender interface {
	SendCommand(ctx context.Context, nodeID string, env agent.Envelope) error
}

// Relay forwards peer:signal frames to the targeted pod's agent connection
// without inspecting their contents (spec §4.F): the orchestrator is not on
// the data path between pods once a signal is delivered.
type Relay struct {
	registry *Registry
	hub      commandSender
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(registry *Registry, hub commandSender, logger *slog.Logger) *Relay {
	return &Relay{registry: registry, hub: hub, logger: logger}
}

// Forward delivers a peer:signal payload to p.TargetPodID's node.
func (r *Relay) Forward(ctx context.Context, p agent.PeerSignalPayload) error {
	nodeID, ok := r.registry.NodeForPod(p.TargetPodID)
	if !ok {
		r.logger.Warn("peer:signal target pod not registered", "targetPodId", p.TargetPodID)
		return nil
	}
	env, err := agent.Encode(agent.TypePeerSignal, "", p)
	if err != nil {
		return err
	}
	return r.hub.SendCommand(ctx, nodeID, env)
}
