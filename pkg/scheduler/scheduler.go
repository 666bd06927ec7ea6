// Package scheduler implements the Scheduler (spec §4.C): a three-stage
// filter -> score -> bind pipeline invoked on every pod transition to
// pending, every node status change, and each controller tick (to retry
// failed binds).
package scheduler

import (
	"context"
	"log/slog"
	"sort"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// Outcome values recorded to pod.statusMessage on scheduling failure (§4.C).
const (
	OutcomeBound                 = "Bound"
	OutcomeNoMatchingNodes       = "NoMatchingNodes"
	OutcomeInsufficientResources = "InsufficientResources"
	OutcomeQuotaExceeded         = "QuotaExceeded"
	OutcomeIncompatibleRuntime   = "IncompatibleRuntime"
	OutcomePackNotFound          = "PackNotFound"
	OutcomePolicyDenied          = "PolicyDenied"
	OutcomeChaosInjected         = "ChaosInjected"
	OutcomeDeferredForPreemption = "DeferredForPreemption"
)

// PreBindVeto is an optional chaos-injection hook (spec §9): when non-nil,
// it is consulted immediately before a bind is committed and may force a
// synthetic failure. It is nil in production; tests set it to exercise
// failure handling deterministically without faking store errors.
type PreBindVeto func(pod types.Pod, node types.Node) (veto bool, reason string)

// Scheduler runs the filter->score->bind pipeline against the Store Gateway.
type Scheduler struct {
	gateway                  store.Gateway
	logger                   *slog.Logger
	preemptPriorityThreshold int
	preBindVeto              PreBindVeto
}

// New creates a Scheduler. preemptPriorityThreshold is P_preempt_threshold
// from spec §4.C (default 500).
func New(gateway store.Gateway, logger *slog.Logger, preemptPriorityThreshold int) *Scheduler {
	return &Scheduler{gateway: gateway, logger: logger, preemptPriorityThreshold: preemptPriorityThreshold}
}

// SetPreBindVeto installs (or clears, with nil) the chaos-injection hook.
func (s *Scheduler) SetPreBindVeto(v PreBindVeto) {
	s.preBindVeto = v
}

// ScheduleOne runs one scheduling pass for a single pending pod, per spec
// §8's determinism property: given a frozen cluster snapshot, repeated
// calls yield the same binding.
func (s *Scheduler) ScheduleOne(ctx context.Context, podID string) error {
	pod, err := s.gateway.GetPod(ctx, podID)
	if err != nil {
		return err
	}
	if pod.Status != types.PodPending {
		return nil
	}

	pack, err := s.gateway.GetPack(ctx, pod.PackID)
	if err != nil {
		return s.fail(ctx, pod, OutcomePackNotFound)
	}

	nodes, _, err := s.gateway.ListNodes(ctx, store.ListOptions{Limit: 10000})
	if err != nil {
		return err
	}

	ns, err := s.gateway.GetNamespace(ctx, pod.Namespace)
	if err != nil {
		return err
	}
	nsUsage, err := s.namespaceUsage(ctx, pod.Namespace)
	if err != nil {
		return err
	}

	candidates := Filter(nodes, pod, pack, ns, nsUsage)
	if len(candidates) == 0 {
		if pod.Priority > s.preemptPriorityThreshold {
			if ok, err := s.tryPreempt(ctx, pod, pack, nodes); err != nil {
				return err
			} else if ok {
				return s.fail(ctx, pod, OutcomeDeferredForPreemption)
			}
		}
		return s.fail(ctx, pod, classifyFilterFailure(nodes, pod, pack))
	}

	podsByNode, err := s.podsByNode(ctx, candidates)
	if err != nil {
		return err
	}
	scored := Score(candidates, pod, podsByNode)
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Node.ID < scored[j].Node.ID
	})
	chosen := scored[0].Node

	if s.preBindVeto != nil {
		if veto, reason := s.preBindVeto(pod, chosen); veto {
			s.logger.Warn("scheduling chaos veto", "podId", pod.ID, "nodeId", chosen.ID, "reason", reason)
			return s.fail(ctx, pod, OutcomeChaosInjected)
		}
	}

	return s.bind(ctx, pod, chosen)
}

// bindRetryKey marks a context whose ScheduleOne pass is already the retry
// after a bind conflict.
type bindRetryKey struct{}

func (s *Scheduler) bind(ctx context.Context, pod types.Pod, node types.Node) error {
	node.Allocated = node.Allocated.Add(pod.ResourceRequests)
	if _, err := s.gateway.UpdateNode(ctx, node); err != nil {
		if errkind.Is(err, errkind.PreconditionFailed) && ctx.Value(bindRetryKey{}) == nil {
			// Retry the full pipeline once per spec §4.C; a fresh
			// ScheduleOne call re-reads the cluster snapshot. A second
			// conflict is returned and the pod stays pending for the next tick.
			return s.ScheduleOne(context.WithValue(ctx, bindRetryKey{}, true), pod.ID)
		}
		return err
	}

	pod.NodeID = node.ID
	updated, err := s.gateway.TransitionPod(ctx, pod.ID, pod.Version, types.PodScheduled, OutcomeBound)
	if err != nil {
		return err
	}
	updated.NodeID = node.ID
	if _, err := s.gateway.UpdatePod(ctx, updated); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) fail(ctx context.Context, pod types.Pod, outcome string) error {
	pod.StatusMessage = outcome
	_, err := s.gateway.UpdatePod(ctx, pod)
	return err
}

// namespaceUsage sums resource requests of every non-terminal pod in ns,
// used to enforce the namespace quota filter predicate.
func (s *Scheduler) namespaceUsage(ctx context.Context, namespace string) (types.Resources, error) {
	pods, _, err := s.gateway.ListPods(ctx, store.ListOptions{Namespace: namespace, Limit: 10000})
	if err != nil {
		return types.Resources{}, err
	}
	var usage types.Resources
	for _, p := range pods {
		if p.NonTerminal() {
			usage = usage.Add(p.ResourceRequests)
		}
	}
	return usage, nil
}

// podsByNode gathers the pods currently bound to each candidate, for the
// score stage's pod anti-affinity term.
func (s *Scheduler) podsByNode(ctx context.Context, candidates []types.Node) (map[string][]types.Pod, error) {
	out := make(map[string][]types.Pod, len(candidates))
	for _, n := range candidates {
		pods, err := s.gateway.ListPodsByNode(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		out[n.ID] = pods
	}
	return out, nil
}

func classifyFilterFailure(nodes []types.Node, pod types.Pod, pack types.Pack) string {
	anyOnline := false
	anyRuntimeMatch := false
	for _, n := range nodes {
		if !n.Schedulable() {
			continue
		}
		anyOnline = true
		if runtimeCompatible(pack.RuntimeTag, n.RuntimeType) {
			anyRuntimeMatch = true
		}
	}
	switch {
	case !anyOnline:
		return OutcomeNoMatchingNodes
	case !anyRuntimeMatch:
		return OutcomeIncompatibleRuntime
	default:
		return OutcomeInsufficientResources
	}
}
