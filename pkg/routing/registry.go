// Package routing is the Routing Fabric (spec §4.F): the service registry,
// policy engine, route resolver, peer-signaling relay, and per-service
// ingress listeners.
package routing

import (
	"sync"
	"time"

	"github.com/WeWatchWall/stark/pkg/types"
)

func registryKey(namespace, serviceName string) string {
	return namespace + "/" + serviceName
}

// Registry maps a service to its currently healthy pod endpoints (spec
// §4.F). It is populated from pod-status events and expires entries whose
// pod's heartbeat has lagged beyond unhealthyAfter. A single read-write
// lock favors readers, since route resolution is read-heavy (spec §5).
type Registry struct {
	mu            sync.RWMutex
	byService     map[string][]types.RegistryEndpoint // namespace/service -> endpoints
	byPod         map[string]string                    // podID -> namespace/service, for O(1) removal
	unhealthyAfter time.Duration
}

// NewRegistry creates an empty Registry.
func NewRegistry(unhealthyAfter time.Duration) *Registry {
	return &Registry{
		byService:      make(map[string][]types.RegistryEndpoint),
		byPod:          make(map[string]string),
		unhealthyAfter: unhealthyAfter,
	}
}

// Upsert records podID as routable for (namespace, serviceName), or updates
// its last-heartbeat timestamp and status if already present.
func (r *Registry) Upsert(ep types.RegistryEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(ep.Namespace, ep.ServiceName)
	r.byPod[ep.PodID] = key
	entries := r.byService[key]
	for i, e := range entries {
		if e.PodID == ep.PodID {
			entries[i] = ep
			return
		}
	}
	r.byService[key] = append(entries, ep)
}

// Remove drops podID from the registry, e.g. once it leaves "running".
func (r *Registry) Remove(podID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(podID)
}

func (r *Registry) removeLocked(podID string) {
	key, ok := r.byPod[podID]
	if !ok {
		return
	}
	delete(r.byPod, podID)
	entries := r.byService[key]
	for i, e := range entries {
		if e.PodID == podID {
			r.byService[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(r.byService[key]) == 0 {
		delete(r.byService, key)
	}
}

// ExpireStale drops every endpoint whose LastHeartbeat is older than
// unhealthyAfter relative to now. Returns the podIDs removed, so callers
// can invalidate cached route resolutions pointing at them.
func (r *Registry) ExpireStale(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.unhealthyAfter).UnixMilli()
	var expired []string
	for podID, key := range r.byPod {
		entries := r.byService[key]
		for _, e := range entries {
			if e.PodID == podID && e.LastHeartbeat < cutoff {
				expired = append(expired, podID)
			}
		}
	}
	for _, podID := range expired {
		r.removeLocked(podID)
	}
	return expired
}

// Healthy returns the healthy endpoints for (namespace, serviceName).
func (r *Registry) Healthy(namespace, serviceName string) []types.RegistryEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byService[registryKey(namespace, serviceName)]
	out := make([]types.RegistryEndpoint, 0, len(entries))
	for _, e := range entries {
		if e.Status == types.EndpointHealthy {
			out = append(out, e)
		}
	}
	return out
}

// NodeForPod returns the node currently hosting podID, if registered.
func (r *Registry) NodeForPod(podID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byPod[podID]
	if !ok {
		return "", false
	}
	for _, e := range r.byService[key] {
		if e.PodID == podID {
			return e.NodeID, true
		}
	}
	return "", false
}

// All returns every registered endpoint across every service. No Control
// API route serves it.
func (r *Registry) All() []types.RegistryEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.RegistryEndpoint
	for _, entries := range r.byService {
		out = append(out, entries...)
	}
	return out
}
