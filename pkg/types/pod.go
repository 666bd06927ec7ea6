package types

import "time"

// NodeSelectorRequirement is one required-label match (GLOSSARY: affinity).
type NodeSelectorRequirement struct {
	Key      string   `json:"key"`
	Operator string   `json:"operator"` // In, NotIn, Exists, DoesNotExist
	Values   []string `json:"values,omitempty"`
}

// PreferredSchedulingTerm is a weighted, non-binding affinity preference.
type PreferredSchedulingTerm struct {
	Weight     int32                     `json:"weight"` // clamped to [1,100]
	MatchExprs []NodeSelectorRequirement `json:"matchExpressions"`
}

// NodeAffinity holds required (filter) and preferred (score) node rules.
type NodeAffinity struct {
	Required  []NodeSelectorRequirement `json:"required,omitempty"`
	Preferred []PreferredSchedulingTerm `json:"preferred,omitempty"`
}

// PodAffinityTerm expresses co-location or separation relative to pods
// matching labelSelector, scoped to the same namespace.
type PodAffinityTerm struct {
	LabelSelector map[string]string `json:"labelSelector"`
	Weight        int32             `json:"weight,omitempty"`
}

// Scheduling bundles the placement-influencing fields of a Pod (§3/§4.C).
type Scheduling struct {
	NodeSelector    map[string]string `json:"nodeSelector,omitempty"`
	NodeAffinity    *NodeAffinity     `json:"nodeAffinity,omitempty"`
	PodAffinity     []PodAffinityTerm `json:"podAffinity,omitempty"`
	PodAntiAffinity []PodAffinityTerm `json:"podAntiAffinity,omitempty"`
}

// Pod is an instance of a Pack bound (or pending binding) to a Node (§3).
type Pod struct {
	ID               string            `json:"id"`
	PackID           string            `json:"packId"`
	PackVersion      string            `json:"packVersion"`
	NodeID           string            `json:"nodeId,omitempty"`
	Namespace        string            `json:"namespace"`
	Status           PodStatus         `json:"status"`
	StatusMessage    string            `json:"statusMessage,omitempty"`
	Priority         int               `json:"priority"` // [0, 1000]
	Labels           map[string]string `json:"labels"`
	Tolerations      []Toleration      `json:"tolerations"`
	Scheduling       Scheduling        `json:"scheduling"`
	ResourceRequests Resources         `json:"resourceRequests"`
	ResourceLimits   *Resources        `json:"resourceLimits,omitempty"`
	CreatedBy        string            `json:"createdBy"`
	ServiceID        string            `json:"serviceId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	StartedAt        *time.Time        `json:"startedAt,omitempty"`
	StoppedAt        *time.Time        `json:"stoppedAt,omitempty"`
	Version          int64             `json:"-"`
}

// Bound reports whether the pod carries a node assignment.
func (p Pod) Bound() bool { return p.NodeID != "" }

// NonTerminal reports whether the pod is still being actively reconciled.
func (p Pod) NonTerminal() bool { return !p.Status.Terminal() }

// PodHistoryEntry is one recorded status transition, surfaced via
// GET /api/v1/pods/{id}/history.
type PodHistoryEntry struct {
	PodID     string    `json:"podId"`
	From      PodStatus `json:"from"`
	To        PodStatus `json:"to"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
