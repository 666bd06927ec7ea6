package scheduler

import (
	"context"
	"sort"

	"github.com/WeWatchWall/stark/pkg/types"
)

// preemptionPlan pairs a node with the minimal victim set that would free
// enough capacity for the pending pod, and the aggregate priority given up.
type preemptionPlan struct {
	node            types.Node
	victims         []types.Pod
	evictedPriority int
}

// tryPreempt implements spec §4.C's preemption paragraph: when pod has no
// filter candidate and its priority exceeds the threshold, search for the
// node where evicting one or more strictly-lower-priority pods would make
// pod schedulable, minimizing aggregate evicted priority. It evicts the
// chosen victims and returns true so the caller defers pod's own bind to
// the next tick rather than racing the freed capacity inline.
func (s *Scheduler) tryPreempt(ctx context.Context, pod types.Pod, pack types.Pack, nodes []types.Node) (bool, error) {
	ns, err := s.gateway.GetNamespace(ctx, pod.Namespace)
	if err != nil {
		return false, err
	}
	nsUsage, err := s.namespaceUsage(ctx, pod.Namespace)
	if err != nil {
		return false, err
	}

	candidates := filterIgnoringResources(nodes, pod, pack, ns, nsUsage)
	var best *preemptionPlan
	for _, n := range candidates {
		plan, err := s.planPreemption(ctx, n, pod)
		if err != nil {
			return false, err
		}
		if plan == nil {
			continue
		}
		if best == nil || plan.evictedPriority < best.evictedPriority {
			best = plan
		}
	}
	if best == nil {
		return false, nil
	}

	for _, victim := range best.victims {
		if err := s.evict(ctx, victim); err != nil {
			return false, err
		}
	}
	s.logger.Info("preempted pods to admit higher-priority pod", "podId", pod.ID, "nodeId", best.node.ID, "victims", len(best.victims))
	return true, nil
}

// planPreemption finds the smallest (by count, then by earliest priority
// ordering) prefix of n's strictly-lower-priority non-terminal pods whose
// eviction frees enough capacity for pod, or nil if even evicting all of
// them would not.
func (s *Scheduler) planPreemption(ctx context.Context, n types.Node, pod types.Pod) (*preemptionPlan, error) {
	onNode, err := s.gateway.ListPodsByNode(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	var lower []types.Pod
	for _, p := range onNode {
		if p.NonTerminal() && p.Priority < pod.Priority {
			lower = append(lower, p)
		}
	}
	sort.SliceStable(lower, func(i, j int) bool {
		if lower[i].Priority != lower[j].Priority {
			return lower[i].Priority < lower[j].Priority
		}
		return lower[i].ID < lower[j].ID
	})

	avail := n.Available()
	var victims []types.Pod
	evictedPriority := 0
	for _, v := range lower {
		if avail.Fits(pod.ResourceRequests) {
			break
		}
		avail = avail.Add(v.ResourceRequests)
		victims = append(victims, v)
		evictedPriority += v.Priority
	}
	if !avail.Fits(pod.ResourceRequests) || len(victims) == 0 {
		return nil, nil
	}
	return &preemptionPlan{node: n, victims: victims, evictedPriority: evictedPriority}, nil
}

// evict transitions victim to evicted and releases its share of the node's
// allocated resources.
func (s *Scheduler) evict(ctx context.Context, victim types.Pod) error {
	if _, err := s.gateway.TransitionPod(ctx, victim.ID, victim.Version, types.PodEvicted, "PreemptedForHigherPriorityPod"); err != nil {
		return err
	}
	if victim.NodeID == "" {
		return nil
	}
	node, err := s.gateway.GetNode(ctx, victim.NodeID)
	if err != nil {
		return err
	}
	node.Allocated = node.Allocated.Sub(victim.ResourceRequests)
	_, err = s.gateway.UpdateNode(ctx, node)
	return err
}
