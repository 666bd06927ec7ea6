package routing

import (
	"sync/atomic"

	"github.com/WeWatchWall/stark/pkg/types"
)

// Decision is the result of evaluating a policy query.
type Decision struct {
	Allowed    bool
	DenyReason string
}

func deny(reason string) Decision { return Decision{Allowed: false, DenyReason: reason} }

// snapshot is an immutable policy set, keyed the same way
// types.NetworkPolicy.Key() does: namespace/source->target.
type snapshot struct {
	byKey map[string]types.PolicyAction
}

// PolicyEngine evaluates (sourceService, targetService, namespace) queries
// (spec §4.F). Its snapshot is swapped atomically between Sync calls so
// concurrent Evaluate calls never observe a partially updated policy set
// (spec §5: "the policy engine is immutable between syncs").
type PolicyEngine struct {
	current atomic.Pointer[snapshot]
}

// NewPolicyEngine creates an engine with an empty (default-deny) snapshot.
func NewPolicyEngine() *PolicyEngine {
	e := &PolicyEngine{}
	e.current.Store(&snapshot{byKey: map[string]types.PolicyAction{}})
	return e
}

// Sync atomically replaces the policy snapshot with policies.
func (e *PolicyEngine) Sync(policies []types.NetworkPolicy) {
	next := &snapshot{byKey: make(map[string]types.PolicyAction, len(policies))}
	for _, p := range policies {
		if next.byKey[p.Key()] == types.PolicyDeny {
			continue // an explicit deny on a key is never overridden by an allow
		}
		next.byKey[p.Key()] = p.Action
	}
	e.current.Store(next)
}

// Evaluate decides whether a call from sourceService to targetService within
// namespace is allowed. Order: explicit deny wins over any allow, then
// explicit allow, then default deny (spec §4.F). Evaluation is total:
// it returns a decision for any input in finite steps.
func (e *PolicyEngine) Evaluate(sourceService, targetService, namespace string) Decision {
	snap := e.current.Load()
	key := types.NetworkPolicy{SourceService: sourceService, TargetService: targetService, Namespace: namespace}.Key()

	if action, ok := snap.byKey[key]; ok {
		if action == types.PolicyDeny {
			return deny("explicit-deny")
		}
		return Decision{Allowed: true}
	}
	return deny("default-deny")
}
