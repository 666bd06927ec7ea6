package scheduler

import (
	"github.com/WeWatchWall/stark/pkg/types"
)

// Scored pairs a candidate node with its pipeline score.
type Scored struct {
	Node  types.Node
	Score float64
}

const (
	weightLeastAllocated    = 1.0
	weightPreferredAffinity = 1.0
	weightAntiAffinity      = 1.0
	weightPreferNoSchedule  = -0.5
)

// Score computes the weighted sum of scoring terms from spec §4.C for each
// candidate, without yet sorting them (ScheduleOne applies the deterministic
// tie-break). podsByNode maps node ID to the pods currently bound there, used
// by the pod anti-affinity term.
func Score(candidates []types.Node, pod types.Pod, podsByNode map[string][]types.Pod) []Scored {
	out := make([]Scored, len(candidates))
	for i, n := range candidates {
		out[i] = Scored{Node: n, Score: scoreOne(n, pod, podsByNode[n.ID])}
	}
	return out
}

func scoreOne(n types.Node, pod types.Pod, podsOnNode []types.Pod) float64 {
	total := weightLeastAllocated * leastAllocatedScore(n, pod)
	total += weightPreferredAffinity * preferredAffinityScore(n, pod)
	total += weightAntiAffinity * -antiAffinityPenalty(pod, podsOnNode)
	total += weightPreferNoSchedule * preferNoScheduleTaintPenalty(n, pod)
	return total
}

// antiAffinityPenalty counts pods already on the node matching any of the
// pod's anti-affinity label selectors, weighted by each term's weight.
func antiAffinityPenalty(pod types.Pod, podsOnNode []types.Pod) float64 {
	if len(pod.Scheduling.PodAntiAffinity) == 0 {
		return 0
	}
	var penalty float64
	for _, term := range pod.Scheduling.PodAntiAffinity {
		w := term.Weight
		if w == 0 {
			w = 1
		}
		for _, other := range podsOnNode {
			if labelsMatchAll(other.Labels, term.LabelSelector) {
				penalty += float64(w)
			}
		}
	}
	return penalty
}

func labelsMatchAll(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// leastAllocatedScore implements `100 * (1 - max(cpu_frac, mem_frac))` where
// frac = (allocated+requests)/allocatable, clamped to avoid division by zero
// on a node with zero allocatable on a dimension.
func leastAllocatedScore(n types.Node, pod types.Pod) float64 {
	cpuFrac := fraction(n.Allocated.CPU+pod.ResourceRequests.CPU, n.Allocatable.CPU)
	memFrac := fraction(n.Allocated.Memory+pod.ResourceRequests.Memory, n.Allocatable.Memory)
	maxFrac := cpuFrac
	if memFrac > maxFrac {
		maxFrac = memFrac
	}
	return 100 * (1 - maxFrac)
}

func fraction(used, total int64) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(used) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

// preferredAffinityScore sums the weight of every preferred scheduling term
// whose match expressions are satisfied, clamped to [0, 100].
func preferredAffinityScore(n types.Node, pod types.Pod) float64 {
	if pod.Scheduling.NodeAffinity == nil {
		return 0
	}
	var sum int32
	for _, term := range pod.Scheduling.NodeAffinity.Preferred {
		if requiredAffinityMatches(n.Labels, term.MatchExprs) {
			w := term.Weight
			if w < 1 {
				w = 1
			}
			if w > 100 {
				w = 100
			}
			sum += w
		}
	}
	if sum > 100 {
		sum = 100
	}
	return float64(sum)
}

// preferNoScheduleTaintPenalty counts untolerated PreferNoSchedule taints.
func preferNoScheduleTaintPenalty(n types.Node, pod types.Pod) float64 {
	count := 0
	for _, taint := range n.Taints {
		if taint.Effect != types.TaintPreferNoSchedule {
			continue
		}
		if !types.TolerationsAllow(pod.Tolerations, taint) {
			count++
		}
	}
	return float64(count)
}
