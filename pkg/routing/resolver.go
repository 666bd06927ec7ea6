package routing

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WeWatchWall/stark/pkg/types"
)

// Resolution is the answer to a network:route:request (spec §4.F).
type Resolution struct {
	TargetPodID   string `json:"targetPodId,omitempty"`
	TargetNodeID  string `json:"targetNodeId,omitempty"`
	PolicyAllowed bool   `json:"policyAllowed"`
	DenyReason    string `json:"denyReason,omitempty"`
}

// Resolver answers network:route:request queries: evaluate policy, then
// pick a healthy pod endpoint for the target service using least-recently-
// used selection with a lexicographic tie-break (spec §4.F).
type Resolver struct {
	registry *Registry
	policy   *PolicyEngine
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastUsed map[string]time.Time // podID -> last selection time
}

// NewResolver creates a Resolver. cache may be nil to disable the
// Redis-backed resolution cache (falls back to resolving on every call).
func NewResolver(registry *Registry, policy *PolicyEngine, cache *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		policy:   policy,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		lastUsed: make(map[string]time.Time),
	}
}

// Resolve answers a route request from a pod of sourceService to
// targetService. namespace is the target service's namespace: a
// cross-namespace call requires an allow policy scoped to it (spec §4.F).
func (r *Resolver) Resolve(ctx context.Context, sourceService, targetService, namespace string) Resolution {
	if cached, ok := r.fromCache(ctx, sourceService, targetService, namespace); ok {
		return cached
	}

	decision := r.policy.Evaluate(sourceService, targetService, namespace)
	if !decision.Allowed {
		res := Resolution{PolicyAllowed: false, DenyReason: decision.DenyReason}
		r.toCache(ctx, sourceService, targetService, namespace, res)
		return res
	}

	endpoints := r.registry.Healthy(namespace, targetService)
	if len(endpoints) == 0 {
		res := Resolution{PolicyAllowed: true, DenyReason: "no-healthy-endpoint"}
		return res
	}

	pod := r.pickLeastRecentlyUsed(endpoints)
	res := Resolution{PolicyAllowed: true, TargetPodID: pod.PodID, TargetNodeID: pod.NodeID}
	r.toCache(ctx, sourceService, targetService, namespace, res)
	return res
}

func (r *Resolver) pickLeastRecentlyUsed(endpoints []types.RegistryEndpoint) types.RegistryEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.Slice(endpoints, func(i, j int) bool {
		ti, tj := r.lastUsed[endpoints[i].PodID], r.lastUsed[endpoints[j].PodID]
		if ti.Equal(tj) {
			return endpoints[i].PodID < endpoints[j].PodID
		}
		return ti.Before(tj)
	})
	chosen := endpoints[0]
	r.lastUsed[chosen.PodID] = time.Now()
	return chosen
}

func cacheKey(sourceService, targetService, namespace string) string {
	return "stark:route:" + namespace + ":" + sourceService + "->" + targetService
}

func (r *Resolver) fromCache(ctx context.Context, sourceService, targetService, namespace string) (Resolution, bool) {
	if r.cache == nil {
		return Resolution{}, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(sourceService, targetService, namespace)).Bytes()
	if err != nil {
		return Resolution{}, false
	}
	var res Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		return Resolution{}, false
	}
	return res, true
}

func (r *Resolver) toCache(ctx context.Context, sourceService, targetService, namespace string, res Resolution) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(sourceService, targetService, namespace), raw, r.cacheTTL).Err(); err != nil {
		r.logger.Warn("caching route resolution", "error", err)
	}
}

// Invalidate drops any cached resolution targeting podID's service, called
// on network:peer-gone (the pod left running). A prefix-less cache means we
// invalidate by namespace/service rather than tracking reverse pod->key
// indices; callers pass the now-unhealthy endpoint's identifying fields.
func (r *Resolver) Invalidate(ctx context.Context, sourceService, targetService, namespace string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(sourceService, targetService, namespace)).Err(); err != nil {
		r.logger.Warn("invalidating cached route resolution", "error", err)
	}
}
