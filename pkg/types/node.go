package types

import "time"

// Taint repels pods from a node unless tolerated (§3, GLOSSARY).
type Taint struct {
	Key    string      `json:"key"`
	Value  string      `json:"value,omitempty"`
	Effect TaintEffect `json:"effect"`
}

// Toleration lets a pod withstand a matching taint (§3, GLOSSARY).
type Toleration struct {
	Key      string             `json:"key"`
	Operator TolerationOperator `json:"operator"`
	Value    string             `json:"value,omitempty"`
	Effect   TaintEffect        `json:"effect,omitempty"` // empty matches any effect
}

// Tolerates reports whether t tolerates taint.
func (t Toleration) Tolerates(taint Taint) bool {
	if t.Key != taint.Key {
		return false
	}
	if t.Effect != "" && t.Effect != taint.Effect {
		return false
	}
	switch t.Operator {
	case TolerationExists:
		return true
	case TolerationEqual:
		return t.Value == taint.Value
	default:
		return false
	}
}

// TolerationsAllow reports whether some toleration in tolerations tolerates taint.
func TolerationsAllow(tolerations []Toleration, taint Taint) bool {
	for _, t := range tolerations {
		if t.Tolerates(taint) {
			return true
		}
	}
	return false
}

// Node is a worker that has registered with the control plane (§3).
type Node struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	RuntimeType     RuntimeTag        `json:"runtimeType"` // node or browser only
	RuntimeVersion  string            `json:"runtimeVersion,omitempty"`
	Status          NodeStatus        `json:"status"`
	Unschedulable   bool              `json:"unschedulable"`
	Labels          map[string]string `json:"labels"`
	Taints          []Taint           `json:"taints"`
	Allocatable     Resources         `json:"allocatable"`
	Allocated       Resources         `json:"allocated"`
	LastHeartbeat    time.Time        `json:"lastHeartbeat"`
	RegisteredBy     string           `json:"registeredBy"`
	RegisteredByRole string           `json:"registeredByRole,omitempty"`
	ConnectionID     string           `json:"connectionId,omitempty"`
	Version         int64             `json:"-"` // optimistic-concurrency row version
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// AdminRole is the RegisteredByRole value that bypasses the scheduler's
// private-pack ownership check (spec §4.C: "or whose owner is an admin").
const AdminRole = "admin"

// Available returns the node's remaining schedulable capacity.
func (n Node) Available() Resources {
	return n.Allocatable.Sub(n.Allocated)
}

// Schedulable reports whether the node is in a state the scheduler may bind to.
func (n Node) Schedulable() bool {
	return n.Status == NodeOnline && !n.Unschedulable
}
