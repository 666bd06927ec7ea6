package scheduler

import (
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"

	"github.com/WeWatchWall/stark/pkg/types"
)

// Filter returns candidate nodes that jointly satisfy every predicate in
// spec §4.C. nsUsage is the namespace's current cumulative resource usage,
// used for the quota predicate.
func Filter(nodes []types.Node, pod types.Pod, pack types.Pack, ns types.Namespace, nsUsage types.Resources) []types.Node {
	var out []types.Node
	for _, n := range nodes {
		if matches(n, pod, pack, ns, nsUsage, false) {
			out = append(out, n)
		}
	}
	return out
}

// filterIgnoringResources applies every predicate except the resource-fit
// and pod-count-cap ones, used by the preemption search to find nodes that
// could admit pod once lower-priority victims are evicted from them.
func filterIgnoringResources(nodes []types.Node, pod types.Pod, pack types.Pack, ns types.Namespace, nsUsage types.Resources) []types.Node {
	var out []types.Node
	for _, n := range nodes {
		if matches(n, pod, pack, ns, nsUsage, true) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n types.Node, pod types.Pod, pack types.Pack, ns types.Namespace, nsUsage types.Resources, ignoreResources bool) bool {
	if !n.Schedulable() {
		return false
	}
	if !runtimeCompatible(pack.RuntimeTag, n.RuntimeType) {
		return false
	}
	if pack.MinNodeVersion != "" && !runtimeVersionAtLeast(n.RuntimeVersion, pack.MinNodeVersion) {
		return false
	}
	if !nodeSelectorMatches(n.Labels, pod.Scheduling.NodeSelector) {
		return false
	}
	if pod.Scheduling.NodeAffinity != nil && !requiredAffinityMatches(n.Labels, pod.Scheduling.NodeAffinity.Required) {
		return false
	}
	if !tolerationsSatisfyTaints(pod.Tolerations, n.Taints) {
		return false
	}
	if !ignoreResources {
		if !n.Available().Fits(pod.ResourceRequests) {
			return false
		}
		if n.Allocated.Pods+1 > n.Allocatable.Pods {
			return false
		}
	}
	if pack.Visibility != types.VisibilityPublic && pack.OwnerID != n.RegisteredBy && n.RegisteredByRole != types.AdminRole {
		return false
	}
	if ns.ResourceQuota.Exceeded(nsUsage, pod.ResourceRequests) {
		return false
	}
	return true
}

func runtimeCompatible(packRuntime types.RuntimeTag, nodeRuntime types.RuntimeTag) bool {
	if packRuntime == types.RuntimeUniversal || nodeRuntime == types.RuntimeUniversal {
		return true
	}
	return packRuntime == nodeRuntime
}

// runtimeVersionAtLeast is a lexical floor comparison; the agent protocol
// reports dotted version strings and Stark does not require full semver
// parsing here (unlike Service.FollowLatest, which does via semver/v3).
func runtimeVersionAtLeast(have, min string) bool {
	if have == "" {
		return false
	}
	return have >= min
}

// nodeSelectorMatches reports whether every required key/value in selector
// is present in nodeLabels, using apimachinery's label-set matching.
func nodeSelectorMatches(nodeLabels map[string]string, selector map[string]string) bool {
	if len(selector) == 0 {
		return true
	}
	return labels.SelectorFromSet(selector).Matches(labels.Set(nodeLabels))
}

// requiredAffinityMatches evaluates pod.Scheduling.NodeAffinity.Required
// against nodeLabels by building an apimachinery label selector from each
// NodeSelectorRequirement's operator.
func requiredAffinityMatches(nodeLabels map[string]string, required []types.NodeSelectorRequirement) bool {
	if len(required) == 0 {
		return true
	}
	set := labels.Set(nodeLabels)
	for _, req := range required {
		op, ok := toSelectionOperator(req.Operator)
		if !ok {
			continue
		}
		r, err := labels.NewRequirement(req.Key, op, req.Values)
		if err != nil {
			return false
		}
		if !r.Matches(set) {
			return false
		}
	}
	return true
}

func toSelectionOperator(op string) (selection.Operator, bool) {
	switch op {
	case "In":
		return selection.In, true
	case "NotIn":
		return selection.NotIn, true
	case "Exists":
		return selection.Exists, true
	case "DoesNotExist":
		return selection.DoesNotExist, true
	default:
		return "", false
	}
}

// tolerationsSatisfyTaints reports whether every NoSchedule/NoExecute taint
// on the node is tolerated by the pod.
func tolerationsSatisfyTaints(tolerations []types.Toleration, taints []types.Taint) bool {
	for _, taint := range taints {
		if taint.Effect != types.TaintNoSchedule && taint.Effect != types.TaintNoExecute {
			continue
		}
		if !types.TolerationsAllow(tolerations, taint) {
			return false
		}
	}
	return true
}
