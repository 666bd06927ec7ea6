package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/WeWatchWall/stark/pkg/agent"
	"github.com/WeWatchWall/stark/pkg/noderegistry"
	"github.com/WeWatchWall/stark/pkg/routing"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// Dispatcher implements agent.Dispatcher: it is the composition root's
// wiring between the Hub's inbound agent-protocol events (spec §4.E) and
// the node registry, store gateway, routing fabric, and pod log buffer.
type Dispatcher struct {
	gateway     store.Gateway
	nodes       *noderegistry.Registry
	svcRegistry *routing.Registry
	resolver    *routing.Resolver
	relay       *routing.Relay
	logStore    *agent.LogStore
	logger      *slog.Logger

	hub *agent.Hub
}

// NewDispatcher creates a Dispatcher. Call SetHub once the Hub exists: the
// Hub needs a Dispatcher to be constructed, and the Dispatcher needs the
// Hub to answer network:route:request frames, so the two are wired
// together after both are built.
func NewDispatcher(
	gateway store.Gateway,
	nodes *noderegistry.Registry,
	svcRegistry *routing.Registry,
	resolver *routing.Resolver,
	relay *routing.Relay,
	logStore *agent.LogStore,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		gateway:     gateway,
		nodes:       nodes,
		svcRegistry: svcRegistry,
		resolver:    resolver,
		relay:       relay,
		logStore:    logStore,
		logger:      logger,
	}
}

// SetHub wires the live Hub back into the dispatcher.
func (d *Dispatcher) SetHub(hub *agent.Hub) {
	d.hub = hub
}

// SetRelay wires the peer-signaling Relay back into the dispatcher, once
// constructed from the same Hub.
func (d *Dispatcher) SetRelay(relay *routing.Relay) {
	d.relay = relay
}

// OnRegister resumes or creates the node record for a node:register frame.
// The node is attributed to principal, the authenticated caller that opened
// the websocket connection, not to connID: connID is ephemeral per
// connection and would make every private pack permanently unschedulable
// against it (spec §4.C ownership predicate).
func (d *Dispatcher) OnRegister(connID string, principal agent.Principal, p agent.NodeRegisterPayload) (string, error) {
	ctx := context.Background()
	n := types.Node{
		Name:             p.Name,
		RuntimeType:      p.RuntimeType,
		RuntimeVersion:   p.RuntimeVersion,
		Allocatable:      p.Allocatable,
		Labels:           p.Labels,
		Taints:           p.Taints,
		ConnectionID:     connID,
		RegisteredBy:     principal.UserID,
		RegisteredByRole: principal.Role,
	}
	registered, err := d.nodes.Register(ctx, n)
	if err != nil {
		return "", err
	}
	return registered.ID, nil
}

// OnHeartbeat applies a node:heartbeat frame, then resyncs any pod whose
// reported state in podStates has drifted from the store's record (the
// agent is authoritative for what is actually running on the node).
func (d *Dispatcher) OnHeartbeat(nodeID string, p agent.NodeHeartbeatPayload) {
	ctx := context.Background()
	if _, err := d.nodes.Heartbeat(ctx, noderegistry.Heartbeat{
		NodeID:     nodeID,
		Allocated:  p.Allocated,
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		d.logger.Error("processing node heartbeat", "nodeId", nodeID, "error", err)
		return
	}

	for podID, status := range p.PodStates {
		pod, err := d.gateway.GetPod(ctx, podID)
		if err != nil {
			d.logger.Warn("heartbeat references unknown pod", "podId", podID, "error", err)
			continue
		}
		if pod.Status != status {
			pod, err = d.gateway.TransitionPod(ctx, pod.ID, pod.Version, status, "heartbeat resync")
			if err != nil {
				d.logger.Error("resyncing pod status from heartbeat", "podId", podID, "error", err)
				continue
			}
		}
		// Re-derive routing fabric membership even when the status didn't
		// change, so a restarted orchestrator's empty registry is rebuilt
		// from the next heartbeat rather than staying empty until the next
		// pod:status transition.
		d.syncRouting(ctx, pod, nodeID)
	}
}

// OnPodStatus applies a pod:status frame as an optimistic-concurrency
// transition, then keeps the routing fabric's service registry in sync
// (spec §4.F: "populated from pod-status events").
func (d *Dispatcher) OnPodStatus(nodeID string, p agent.PodStatusPayload) {
	ctx := context.Background()
	pod, err := d.gateway.GetPod(ctx, p.PodID)
	if err != nil {
		d.logger.Warn("pod:status for unknown pod", "podId", p.PodID, "error", err)
		return
	}

	updated, err := d.gateway.TransitionPod(ctx, pod.ID, pod.Version, p.Status, p.Message)
	if err != nil {
		d.logger.Error("transitioning pod status", "podId", p.PodID, "status", p.Status, "error", err)
		return
	}

	d.syncRouting(ctx, updated, nodeID)
}

func (d *Dispatcher) syncRouting(ctx context.Context, pod types.Pod, nodeID string) {
	if pod.Status != types.PodRunning {
		d.svcRegistry.Remove(pod.ID)
		return
	}
	if pod.ServiceID == "" {
		return
	}

	svc, err := d.gateway.GetService(ctx, pod.ServiceID)
	if err != nil {
		d.logger.Warn("pod references unknown service", "podId", pod.ID, "serviceId", pod.ServiceID, "error", err)
		return
	}

	d.svcRegistry.Upsert(types.RegistryEndpoint{
		PodID:         pod.ID,
		NodeID:        nodeID,
		ServiceName:   svc.Name,
		Namespace:     svc.Namespace,
		Status:        types.EndpointHealthy,
		LastHeartbeat: time.Now().UnixMilli(),
	})
}

// OnPodLog appends a pod:log line to the live-tail ring buffer. The agent
// protocol has no synchronous pull for logs (spec §4.E), so this is the
// only path by which the Control API's pod-logs endpoint has anything to
// read.
func (d *Dispatcher) OnPodLog(nodeID string, p agent.PodLogPayload) {
	d.logStore.Append(p.PodID, agent.LogLine{Stream: p.Stream, Line: p.Line})
}

// OnRouteRequest answers a network:route:request by resolving policy and a
// healthy target endpoint, then replies down the same connection carrying
// the original correlationId (spec §4.F). The request itself is fire-and-
// forget from the Hub's point of view; there is no return value to give
// back through agent.Dispatcher, so the reply has to go out via SendCommand
// instead of as a Request/response round trip.
func (d *Dispatcher) OnRouteRequest(nodeID string, p agent.NetworkRouteRequestPayload) {
	ctx := context.Background()

	source, err := d.gateway.GetService(ctx, p.SourceServiceID)
	if err != nil {
		d.logger.Warn("route request from unknown source service", "serviceId", p.SourceServiceID, "error", err)
		return
	}
	target, err := d.gateway.GetService(ctx, p.TargetServiceID)
	if err != nil {
		d.replyRoute(ctx, nodeID, p.CorrelationID, routing.Resolution{PolicyAllowed: false, DenyReason: "target-service-not-found"})
		return
	}

	res := d.resolver.Resolve(ctx, source.Name, target.Name, target.Namespace)
	d.replyRoute(ctx, nodeID, p.CorrelationID, res)
}

func (d *Dispatcher) replyRoute(ctx context.Context, nodeID, correlationID string, res routing.Resolution) {
	if d.hub == nil {
		d.logger.Error("route response dropped, hub not wired", "nodeId", nodeID)
		return
	}
	env, err := agent.Encode(agent.TypeNetworkRouteResp, correlationID, agent.NetworkRouteResponsePayload{
		TargetPodID:   res.TargetPodID,
		TargetNodeID:  res.TargetNodeID,
		PolicyAllowed: res.PolicyAllowed,
		DenyReason:    res.DenyReason,
	})
	if err != nil {
		d.logger.Error("encoding route response", "error", err)
		return
	}
	if err := d.hub.SendCommand(ctx, nodeID, env); err != nil {
		d.logger.Warn("sending route response", "nodeId", nodeID, "error", err)
	}
}

// OnPeerSignal forwards a peer:signal frame to its target pod without
// inspection (spec §4.F).
func (d *Dispatcher) OnPeerSignal(nodeID string, p agent.PeerSignalPayload) {
	ctx := context.Background()
	if err := d.relay.Forward(ctx, p); err != nil {
		d.logger.Error("forwarding peer signal", "nodeId", nodeID, "targetPodId", p.TargetPodID, "error", err)
	}
}
