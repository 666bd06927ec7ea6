// Package types holds the core Stark data model: Packs, Nodes, Pods,
// Services, Namespaces and NetworkPolicies, plus the small enums and
// value types shared across every component that reads or writes them.
package types

// RuntimeTag identifies the execution environment a Pack targets.
type RuntimeTag string

const (
	RuntimeNode      RuntimeTag = "node"
	RuntimeBrowser   RuntimeTag = "browser"
	RuntimeUniversal RuntimeTag = "universal"
)

// Visibility controls who may schedule against or call a Pack/Service.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilitySystem  Visibility = "system"
)

// NodeStatus is the node lifecycle state (§4.B).
type NodeStatus string

const (
	NodeOnline      NodeStatus = "online"
	NodeUnhealthy   NodeStatus = "unhealthy"
	NodeOffline     NodeStatus = "offline"
	NodeDraining    NodeStatus = "draining"
	NodeMaintenance NodeStatus = "maintenance"
	NodeRemoved     NodeStatus = "removed"
)

// TaintEffect controls how a node taint interacts with scheduling and eviction.
type TaintEffect string

const (
	TaintNoSchedule       TaintEffect = "NoSchedule"
	TaintPreferNoSchedule TaintEffect = "PreferNoSchedule"
	TaintNoExecute        TaintEffect = "NoExecute"
)

// TolerationOperator is how a toleration matches a taint's value.
type TolerationOperator string

const (
	TolerationEqual  TolerationOperator = "Equal"
	TolerationExists TolerationOperator = "Exists"
)

// PodStatus is the pod lifecycle state (§3, §8 state machine).
type PodStatus string

const (
	PodPending   PodStatus = "pending"
	PodScheduled PodStatus = "scheduled"
	PodStarting  PodStatus = "starting"
	PodRunning   PodStatus = "running"
	PodStopping  PodStatus = "stopping"
	PodStopped   PodStatus = "stopped"
	PodFailed    PodStatus = "failed"
	PodEvicted   PodStatus = "evicted"
	PodUnknown   PodStatus = "unknown"
)

// Terminal reports whether a pod in this status is done being reconciled.
func (s PodStatus) Terminal() bool {
	switch s {
	case PodStopped, PodFailed, PodEvicted:
		return true
	default:
		return false
	}
}

// ServiceStatus is the service lifecycle state (§4.D).
type ServiceStatus string

const (
	ServicePending ServiceStatus = "pending"
	ServiceActive  ServiceStatus = "active"
	ServiceRolling ServiceStatus = "rolling"
	ServicePaused  ServiceStatus = "paused"
	ServiceFailed  ServiceStatus = "failed"
	ServiceDeleted ServiceStatus = "deleted"
)

// NamespacePhase is the namespace lifecycle phase.
type NamespacePhase string

const (
	NamespaceActive      NamespacePhase = "Active"
	NamespaceTerminating NamespacePhase = "Terminating"
)

// PolicyAction is the network policy decision for a source/target pair.
type PolicyAction string

const (
	PolicyAllow PolicyAction = "allow"
	PolicyDeny  PolicyAction = "deny"
)

// EndpointStatus is the health of a single service-registry pod endpoint.
type EndpointStatus string

const (
	EndpointHealthy   EndpointStatus = "healthy"
	EndpointUnhealthy EndpointStatus = "unhealthy"
	EndpointUnknown   EndpointStatus = "unknown"
)

// PodStateEdges enumerates the valid pod status transitions (§8). A
// transition not present in this set is rejected by the Store Gateway.
var PodStateEdges = map[PodStatus][]PodStatus{
	PodPending:   {PodScheduled, PodFailed, PodEvicted},
	PodScheduled: {PodStarting, PodFailed, PodEvicted, PodStopping},
	PodStarting:  {PodRunning, PodFailed, PodEvicted, PodStopping},
	PodRunning:   {PodStopping, PodFailed, PodEvicted, PodUnknown},
	PodStopping:  {PodStopped, PodFailed},
	PodUnknown:   {PodRunning, PodFailed, PodEvicted, PodStopping},
	PodStopped:   {},
	PodFailed:    {},
	PodEvicted:   {},
}

// ValidPodTransition reports whether (from, to) is a declared edge, or a
// same-state no-op (always permitted, e.g. a duplicate heartbeat re-report).
func ValidPodTransition(from, to PodStatus) bool {
	if from == to {
		return true
	}
	for _, next := range PodStateEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
