// Package svcreconciler is the Service Reconciler (spec §4.D): one pass per
// service computes the desired pod set and nudges the actual set toward it,
// handling rolling updates, follow-latest, crash-loop detection and
// auto-rollback/backoff, and DaemonSet placement. It never mutates pods in
// place — only the Store Gateway's create/stop operations.
package svcreconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v5"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

const (
	maxSurge       = 1
	maxUnavailable = 0
)

// Reconciler drives one service's pods toward its desired spec.
type Reconciler struct {
	gateway store.Gateway
	logger  *slog.Logger

	crashLoopWindow           time.Duration
	crashLoopFailureThreshold int
	backoffMax                time.Duration

	mu              sync.Mutex
	countedFailures map[string]bool // podID -> already applied to consecutiveFailures
}

// New creates a Reconciler. crashLoopWindow/crashLoopFailureThreshold/backoffMax
// are config.Config's CrashLoopWindow/CrashLoopFailureThreshold/BackoffMax.
func New(gateway store.Gateway, logger *slog.Logger, crashLoopWindow time.Duration, crashLoopFailureThreshold int, backoffMax time.Duration) *Reconciler {
	return &Reconciler{
		gateway:                   gateway,
		logger:                    logger,
		crashLoopWindow:           crashLoopWindow,
		crashLoopFailureThreshold: crashLoopFailureThreshold,
		backoffMax:                backoffMax,
		countedFailures:           make(map[string]bool),
	}
}

// ReconcileOne runs a single pass for serviceID (spec §4.D's eight steps).
func (r *Reconciler) ReconcileOne(ctx context.Context, serviceID string) error {
	svc, err := r.gateway.GetService(ctx, serviceID)
	if err != nil {
		if errkind.Is(err, errkind.NotFound) {
			return nil
		}
		return err
	}
	if svc.Status == types.ServiceDeleted {
		return nil
	}

	pods, err := r.gateway.ListPodsByService(ctx, serviceID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	svc, changed := r.detectCrashLoop(svc, pods, now)
	if changed {
		svc, err = r.gateway.UpdateService(ctx, svc)
		if err != nil {
			return err
		}
	}

	// Step 8: paused short-circuits everything except noticing a newer pack
	// version, which clears the block per step 7.
	if svc.Status == types.ServicePaused {
		if svc.FollowLatest {
			if newer, ok, err := r.latestPackVersion(ctx, svc.PackName, svc.PackVersion); err != nil {
				return err
			} else if ok {
				svc.PackVersion = newer
				svc.Status = types.ServiceRolling
				svc.FailureState = types.FailureState{}
				if _, err := r.gateway.UpdateService(ctx, svc); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if svc.FailureState.InBackoff(now) {
		return nil
	}

	// Step 5: follow-latest.
	if svc.FollowLatest {
		if newer, ok, err := r.latestPackVersion(ctx, svc.PackName, svc.PackVersion); err != nil {
			return err
		} else if ok {
			svc.PackVersion = newer
			if svc.Status != types.ServiceRolling {
				svc.Status = types.ServiceRolling
			}
			svc, err = r.gateway.UpdateService(ctx, svc)
			if err != nil {
				return err
			}
		}
	}

	pods, err = r.gateway.ListPodsByService(ctx, serviceID)
	if err != nil {
		return err
	}
	return r.reconcilePods(ctx, svc, pods)
}

// reconcilePods implements steps 2-4: desired-set computation, delta, and a
// single rolling-update step per pass (max-surge=1, max-unavailable=0).
func (r *Reconciler) reconcilePods(ctx context.Context, svc types.Service, pods []types.Pod) error {
	var live []types.Pod
	for _, p := range pods {
		if p.NonTerminal() {
			live = append(live, p)
		}
	}

	var current, stale []types.Pod
	for _, p := range live {
		if p.PackVersion == svc.PackVersion {
			current = append(current, p)
		} else {
			stale = append(stale, p)
		}
	}
	var currentRunning int
	for _, p := range current {
		if p.Status == types.PodRunning {
			currentRunning++
		}
	}

	desired := svc.Replicas
	if svc.DaemonSet() {
		nodes, _, err := r.gateway.ListNodes(ctx, store.ListOptions{Limit: 10000})
		if err != nil {
			return err
		}
		desired = len(matchingNodes(nodes, svc))
	}

	rolling := len(stale) > 0

	if rolling {
		if svc.Status != types.ServiceRolling {
			svc.Status = types.ServiceRolling
			if _, err := r.gateway.UpdateService(ctx, svc); err != nil {
				return err
			}
		}
		if currentRunning < desired {
			// max-surge=1: at most one extra current-version pod in flight
			// while we wait for it to report running.
			inFlightNew := len(current) - currentRunning
			if len(current) < desired+maxSurge && inFlightNew == 0 {
				return r.createPod(ctx, svc)
			}
			return nil
		}
		// max-unavailable=0: only remove stale pods once enough fresh ones
		// are confirmed running to cover desired.
		if len(stale) > 0 {
			return r.stopPod(ctx, stale[0], "rolling update: superseded by "+svc.PackVersion)
		}
		return nil
	}

	if svc.Status == types.ServiceRolling {
		svc.Status = types.ServiceActive
		svc.LastStableVersion = svc.PackVersion
		if _, err := r.gateway.UpdateService(ctx, svc); err != nil {
			return err
		}
	}

	toCreate := desired - len(current)
	if toCreate > 0 {
		return r.createPod(ctx, svc)
	}
	if toCreate < 0 {
		return r.stopPod(ctx, current[len(current)-1], "scale down")
	}
	return nil
}

func (r *Reconciler) createPod(ctx context.Context, svc types.Service) error {
	_, err := r.gateway.CreatePod(ctx, types.Pod{
		PackID:           svc.PackID,
		PackVersion:      svc.PackVersion,
		Namespace:        svc.Namespace,
		Status:           types.PodPending,
		Labels:           svc.PodLabels,
		Tolerations:      svc.Tolerations,
		Scheduling:       svc.Scheduling,
		ResourceRequests: svc.ResourceRequests,
		CreatedBy:        "svcreconciler",
		ServiceID:        svc.ID,
	})
	return err
}

func (r *Reconciler) stopPod(ctx context.Context, pod types.Pod, reason string) error {
	if pod.Status == types.PodPending {
		_, err := r.gateway.TransitionPod(ctx, pod.ID, pod.Version, types.PodEvicted, reason)
		return err
	}
	_, err := r.gateway.TransitionPod(ctx, pod.ID, pod.Version, types.PodStopping, reason)
	return err
}

// detectCrashLoop applies step 6/7: counting fast fails and deciding
// auto-rollback or pause+backoff. Returns the (possibly mutated) service and
// whether it needs persisting.
func (r *Reconciler) detectCrashLoop(svc types.Service, pods []types.Pod, now time.Time) (types.Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, p := range pods {
		switch p.Status {
		case types.PodFailed:
			if r.countedFailures[p.ID] {
				continue
			}
			r.countedFailures[p.ID] = true
			if p.StoppedAt != nil && p.StoppedAt.Sub(p.CreatedAt) <= r.crashLoopWindow {
				svc.FailureState.ConsecutiveFailures++
				svc.FailureState.LastFailedVersion = p.PackVersion
				changed = true
			}
		case types.PodRunning:
			if svc.FailureState.ConsecutiveFailures > 0 {
				svc.FailureState = types.FailureState{}
				changed = true
			}
		}
	}

	if svc.FailureState.ConsecutiveFailures < r.crashLoopFailureThreshold {
		return svc, changed
	}

	if svc.LastStableVersion != "" && svc.LastStableVersion != svc.PackVersion {
		svc.PackVersion = svc.LastStableVersion
		svc.FailureState = types.FailureState{}
		if svc.Status != types.ServiceRolling {
			svc.Status = types.ServiceRolling
		}
		return svc, true
	}

	attempt := svc.FailureState.ConsecutiveFailures - r.crashLoopFailureThreshold
	until := now.Add(r.backoffDuration(attempt))
	svc.Status = types.ServicePaused
	svc.FailureState.BackoffUntil = &until
	return svc, true
}

// backoffDuration computes min(2^attempt * 60s, backoffMax) by driving an
// exponential backoff generator attempt+1 steps forward.
func (r *Reconciler) backoffDuration(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 60 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = r.backoffMax
	bo.RandomizationFactor = 0

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = bo.NextBackOff()
	}
	if d > r.backoffMax {
		d = r.backoffMax
	}
	return d
}

// latestPackVersion reports the highest registered semver for packName, and
// whether it differs from current.
func (r *Reconciler) latestPackVersion(ctx context.Context, packName, current string) (string, bool, error) {
	versions, err := r.gateway.ListPackVersions(ctx, packName)
	if err != nil {
		return "", false, err
	}
	var best *semver.Version
	var bestRaw string
	for _, p := range versions {
		v, err := semver.NewVersion(p.Version)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = p.Version
		}
	}
	if best == nil || bestRaw == current {
		return "", false, nil
	}
	return bestRaw, true, nil
}

// matchingNodes returns the online, non-cordoned nodes that satisfy a
// DaemonSet service's node selector and tolerations (spec §4.D step 2).
func matchingNodes(nodes []types.Node, svc types.Service) []types.Node {
	var out []types.Node
	selector := labels.SelectorFromSet(svc.Scheduling.NodeSelector)
	for _, n := range nodes {
		if !n.Schedulable() {
			continue
		}
		if len(svc.Scheduling.NodeSelector) > 0 && !selector.Matches(labels.Set(n.Labels)) {
			continue
		}
		tolerated := true
		for _, taint := range n.Taints {
			if taint.Effect == types.TaintNoSchedule || taint.Effect == types.TaintNoExecute {
				if !types.TolerationsAllow(svc.Tolerations, taint) {
					tolerated = false
					break
				}
			}
		}
		if !tolerated {
			continue
		}
		out = append(out, n)
	}
	return out
}
