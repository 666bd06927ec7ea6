package agent

import (
	"encoding/json"
	"time"

	"github.com/WeWatchWall/stark/pkg/types"
)

// Envelope is the wire frame for every agent-protocol message (spec §4.E):
// one JSON text websocket message per Envelope, Payload dispatched by Type.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Message type discriminators.
const (
	TypePodStart          = "pod:start"
	TypePodStop           = "pod:stop"
	TypePodDrain          = "pod:drain"
	TypeNodeConfig        = "node:config"
	TypePeerSignal        = "peer:signal"
	TypeIngressRequest    = "ingress:request"
	TypeNodeRegister      = "node:register"
	TypeNodeHeartbeat     = "node:heartbeat"
	TypePodStatus         = "pod:status"
	TypePodLog            = "pod:log"
	TypeIngressResponse   = "ingress:response"
	TypeNetworkRouteReq   = "network:route:request"
	TypeNetworkRouteResp  = "network:route:response"
	TypeNetworkPeerGone   = "network:peer-gone"
)

// --- Orchestrator -> agent payloads ---

type PodStartPayload struct {
	PodID          string            `json:"podId"`
	PackID         string            `json:"packId"`
	PackVersion    string            `json:"packVersion"`
	BundleRef      string            `json:"bundleRef"`
	Env            map[string]string `json:"env,omitempty"`
	ResourceLimits *types.Resources  `json:"resourceLimits,omitempty"`
}

type PodStopPayload struct {
	PodID  string `json:"podId"`
	Reason string `json:"reason,omitempty"`
}

type PodDrainPayload struct {
	PodID string `json:"podId"`
}

type NodeConfigPayload struct {
	Labels map[string]string `json:"labels,omitempty"`
	Taints []types.Taint     `json:"taints,omitempty"`
}

type IngressRequestPayload struct {
	CorrelationID string            `json:"correlationId"`
	PodID         string            `json:"podId"`
	Method        string            `json:"method"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
}

// --- Agent -> orchestrator payloads ---

type NodeRegisterPayload struct {
	Name           string            `json:"name"`
	RuntimeType    types.RuntimeTag  `json:"runtimeType"`
	RuntimeVersion string            `json:"runtimeVersion"`
	Allocatable    types.Resources   `json:"allocatable"`
	Labels         map[string]string `json:"labels,omitempty"`
	Taints         []types.Taint     `json:"taints,omitempty"`
}

type NodeHeartbeatPayload struct {
	NodeID     string                    `json:"nodeId"`
	Allocated  types.Resources           `json:"allocated"`
	PodStates  map[string]types.PodStatus `json:"podStates,omitempty"`
}

type PodStatusPayload struct {
	PodID     string     `json:"podId"`
	Status    types.PodStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

type PodLogPayload struct {
	PodID  string `json:"podId"`
	Stream string `json:"stream"` // stdout | stderr
	Line   string `json:"line"`
}

type IngressResponsePayload struct {
	CorrelationID string            `json:"correlationId"`
	Status        int               `json:"status"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
}

type NetworkRouteRequestPayload struct {
	CorrelationID   string `json:"correlationId"`
	SourcePodID     string `json:"sourcePodId"`
	SourceServiceID string `json:"sourceServiceId"`
	TargetServiceID string `json:"targetServiceId"`
}

// NetworkRouteResponsePayload answers a NetworkRouteRequestPayload, carrying
// the same correlationId back down to the requesting pod's agent (spec
// §4.F). Defined here rather than reused from pkg/routing.Resolution since
// pkg/routing already imports pkg/agent for its commandSender interface.
type NetworkRouteResponsePayload struct {
	TargetPodID   string `json:"targetPodId,omitempty"`
	TargetNodeID  string `json:"targetNodeId,omitempty"`
	PolicyAllowed bool   `json:"policyAllowed"`
	DenyReason    string `json:"denyReason,omitempty"`
}

// PeerSignalPayload is relayed opaquely (spec §4.F): the orchestrator never
// inspects its contents, only routes it to the targeted pod's connection.
type PeerSignalPayload struct {
	TargetPodID string          `json:"targetPodId"`
	Data        json.RawMessage `json:"data"`
}

// Encode marshals v into an Envelope with the given type/correlationId.
func Encode(msgType, correlationID string, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, CorrelationID: correlationID, Payload: raw}, nil
}
