package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WeWatchWall/stark/internal/errkind"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/types"
)

// Memory is an in-memory Gateway fake used by unit tests for the scheduler,
// reconciler, and registry, so they can assert deterministic behavior
// without a database (spec §8's testable properties are DB-free by
// construction). Memory is safe for concurrent use.
type Memory struct {
	mu sync.Mutex
	bus *eventbus.Bus

	packs      map[string]types.Pack
	nodes      map[string]types.Node
	pods       map[string]types.Pod
	podHist    map[string][]types.PodHistoryEntry
	services   map[string]types.Service
	namespaces map[string]types.Namespace
	policies   map[string]types.NetworkPolicy
	audit      []AuditEntry
}

// NewMemory creates an empty Memory gateway. bus may be nil, in which case
// writes are not published anywhere (useful for isolated unit tests that
// only care about the persisted state).
func NewMemory(bus *eventbus.Bus) *Memory {
	return &Memory{
		bus:        bus,
		packs:      make(map[string]types.Pack),
		nodes:      make(map[string]types.Node),
		pods:       make(map[string]types.Pod),
		podHist:    make(map[string][]types.PodHistoryEntry),
		services:   make(map[string]types.Service),
		namespaces: make(map[string]types.Namespace),
		policies:   make(map[string]types.NetworkPolicy),
	}
}

func (m *Memory) publish(kind eventbus.Kind, action eventbus.Action, namespace, resourceID string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.Background(), eventbus.ChangeEvent{
		Kind:       kind,
		Action:     action,
		Namespace:  namespace,
		ResourceID: resourceID,
	})
}

// --- Packs ---

func (m *Memory) CreatePack(_ context.Context, p types.Pack) (types.Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.packs {
		if existing.Name == p.Name && existing.Version == p.Version {
			return types.Pack{}, errkind.Conflictf("conflict", "pack %s@%s already registered", p.Name, p.Version)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	m.packs[p.ID] = p
	m.publish(eventbus.KindPack, eventbus.ActionCreated, "", p.ID)
	return p, nil
}

func (m *Memory) GetPack(_ context.Context, id string) (types.Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packs[id]
	if !ok {
		return types.Pack{}, errkind.NotFoundf("not_found", "pack %s not found", id)
	}
	return p, nil
}

func (m *Memory) GetPackByNameVersion(_ context.Context, name, version string) (types.Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.packs {
		if p.Name == name && p.Version == version {
			return p, nil
		}
	}
	return types.Pack{}, errkind.NotFoundf("not_found", "pack %s@%s not found", name, version)
}

func (m *Memory) ListPackVersions(_ context.Context, name string) ([]types.Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Pack
	for _, p := range m.packs {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListPacks(_ context.Context, opts ListOptions) ([]types.Pack, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Pack
	for _, p := range m.packs {
		out = append(out, p)
	}
	return paginate(out, opts)
}

func (m *Memory) DeletePack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packs[id]; !ok {
		return errkind.NotFoundf("not_found", "pack %s not found", id)
	}
	delete(m.packs, id)
	m.publish(eventbus.KindPack, eventbus.ActionDeleted, "", id)
	return nil
}

// --- Nodes ---

func (m *Memory) CreateNode(_ context.Context, n types.Node) (types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.nodes {
		if existing.Name == n.Name && existing.Status != types.NodeRemoved {
			return types.Node{}, errkind.Conflictf("conflict", "node %s already registered", n.Name)
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Version = 1
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	m.nodes[n.ID] = n
	m.publish(eventbus.KindNode, eventbus.ActionCreated, "", n.ID)
	return n, nil
}

func (m *Memory) GetNode(_ context.Context, id string) (types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return types.Node{}, errkind.NotFoundf("not_found", "node %s not found", id)
	}
	return n, nil
}

func (m *Memory) GetNodeByName(_ context.Context, name string) (types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return types.Node{}, errkind.NotFoundf("not_found", "node %s not found", name)
}

func (m *Memory) ListNodes(_ context.Context, opts ListOptions) ([]types.Node, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Node
	for _, n := range m.nodes {
		if opts.Status != "" && string(n.Status) != opts.Status {
			continue
		}
		out = append(out, n)
	}
	return paginate(out, opts)
}

func (m *Memory) UpdateNode(_ context.Context, n types.Node) (types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.nodes[n.ID]
	if !ok {
		return types.Node{}, errkind.NotFoundf("not_found", "node %s not found", n.ID)
	}
	if existing.Version != n.Version {
		return types.Node{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "node version mismatch")
	}
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	m.nodes[n.ID] = n
	m.publish(eventbus.KindNode, eventbus.ActionUpdated, "", n.ID)
	return n, nil
}

func (m *Memory) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[id]; !ok {
		return errkind.NotFoundf("not_found", "node %s not found", id)
	}
	delete(m.nodes, id)
	m.publish(eventbus.KindNode, eventbus.ActionDeleted, "", id)
	return nil
}

// --- Pods ---

func (m *Memory) CreatePod(_ context.Context, p types.Pod) (types.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	m.pods[p.ID] = p
	m.publish(eventbus.KindPod, eventbus.ActionCreated, p.Namespace, p.ID)
	return p, nil
}

func (m *Memory) GetPod(_ context.Context, id string) (types.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pods[id]
	if !ok {
		return types.Pod{}, errkind.NotFoundf("not_found", "pod %s not found", id)
	}
	return p, nil
}

func (m *Memory) ListPods(_ context.Context, opts ListOptions) ([]types.Pod, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Pod
	for _, p := range m.pods {
		if opts.Namespace != "" && p.Namespace != opts.Namespace {
			continue
		}
		if opts.Status != "" && string(p.Status) != opts.Status {
			continue
		}
		out = append(out, p)
	}
	return paginate(out, opts)
}

func (m *Memory) ListPodsByService(_ context.Context, serviceID string) ([]types.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Pod
	for _, p := range m.pods {
		if p.ServiceID == serviceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListPodsByNode(_ context.Context, nodeID string) ([]types.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Pod
	for _, p := range m.pods {
		if p.NodeID == nodeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) UpdatePod(_ context.Context, p types.Pod) (types.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.pods[p.ID]
	if !ok {
		return types.Pod{}, errkind.NotFoundf("not_found", "pod %s not found", p.ID)
	}
	if existing.Version != p.Version {
		return types.Pod{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "pod version mismatch")
	}
	p.Version++
	m.pods[p.ID] = p
	m.publish(eventbus.KindPod, eventbus.ActionUpdated, p.Namespace, p.ID)
	return p, nil
}

func (m *Memory) TransitionPod(_ context.Context, id string, version int64, to types.PodStatus, message string) (types.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.pods[id]
	if !ok {
		return types.Pod{}, errkind.NotFoundf("not_found", "pod %s not found", id)
	}
	if existing.Version != version {
		return types.Pod{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "pod version mismatch")
	}
	if !types.ValidPodTransition(existing.Status, to) {
		return types.Pod{}, errkind.Validationf("validation", "invalid pod transition %s -> %s", existing.Status, to)
	}
	from := existing.Status
	existing.Status = to
	existing.StatusMessage = message
	existing.Version++
	now := time.Now().UTC()
	if to == types.PodRunning && existing.StartedAt == nil {
		existing.StartedAt = &now
	}
	if existing.Status.Terminal() {
		existing.StoppedAt = &now
	}
	m.pods[id] = existing
	m.podHist[id] = append(m.podHist[id], types.PodHistoryEntry{
		PodID: id, From: from, To: to, Message: message, CreatedAt: now,
	})
	m.publish(eventbus.KindPod, eventbus.ActionTransition, existing.Namespace, id)
	return existing, nil
}

func (m *Memory) RecordPodHistory(_ context.Context, podID string, from, to types.PodStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.podHist[podID] = append(m.podHist[podID], types.PodHistoryEntry{
		PodID: podID, From: from, To: to, Message: message, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) ListPodHistory(_ context.Context, podID string, limit int) ([]types.PodHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.podHist[podID]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]types.PodHistoryEntry, len(hist))
	copy(out, hist)
	return out, nil
}

func (m *Memory) DeletePod(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pods[id]
	if !ok {
		return errkind.NotFoundf("not_found", "pod %s not found", id)
	}
	delete(m.pods, id)
	m.publish(eventbus.KindPod, eventbus.ActionDeleted, p.Namespace, id)
	return nil
}

// --- Services ---

func (m *Memory) CreateService(_ context.Context, s types.Service) (types.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.services {
		if existing.Namespace == s.Namespace && existing.Name == s.Name {
			return types.Service{}, errkind.Conflictf("conflict", "service %s/%s already exists", s.Namespace, s.Name)
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Version = 1
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.services[s.ID] = s
	m.publish(eventbus.KindService, eventbus.ActionCreated, s.Namespace, s.ID)
	return s, nil
}

func (m *Memory) GetService(_ context.Context, id string) (types.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return types.Service{}, errkind.NotFoundf("not_found", "service %s not found", id)
	}
	return s, nil
}

func (m *Memory) GetServiceByName(_ context.Context, namespace, name string) (types.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if s.Namespace == namespace && s.Name == name {
			return s, nil
		}
	}
	return types.Service{}, errkind.NotFoundf("not_found", "service %s/%s not found", namespace, name)
}

func (m *Memory) ListServices(_ context.Context, opts ListOptions) ([]types.Service, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Service
	for _, s := range m.services {
		if opts.Namespace != "" && s.Namespace != opts.Namespace {
			continue
		}
		if opts.Status != "" && string(s.Status) != opts.Status {
			continue
		}
		out = append(out, s)
	}
	return paginate(out, opts)
}

func (m *Memory) UpdateService(_ context.Context, s types.Service) (types.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.services[s.ID]
	if !ok {
		return types.Service{}, errkind.NotFoundf("not_found", "service %s not found", s.ID)
	}
	if existing.Version != s.Version {
		return types.Service{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "service version mismatch")
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	m.services[s.ID] = s
	m.publish(eventbus.KindService, eventbus.ActionUpdated, s.Namespace, s.ID)
	return s, nil
}

func (m *Memory) DeleteService(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return errkind.NotFoundf("not_found", "service %s not found", id)
	}
	delete(m.services, id)
	m.publish(eventbus.KindService, eventbus.ActionDeleted, s.Namespace, id)
	return nil
}

// --- Namespaces ---

func (m *Memory) CreateNamespace(_ context.Context, n types.Namespace) (types.Namespace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[n.Name]; ok {
		return types.Namespace{}, errkind.Conflictf("conflict", "namespace %s already exists", n.Name)
	}
	n.Version = 1
	m.namespaces[n.Name] = n
	m.publish(eventbus.KindPolicy, eventbus.ActionCreated, n.Name, n.Name)
	return n, nil
}

func (m *Memory) GetNamespace(_ context.Context, name string) (types.Namespace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[name]
	if !ok {
		return types.Namespace{}, errkind.NotFoundf("not_found", "namespace %s not found", name)
	}
	return n, nil
}

func (m *Memory) ListNamespaces(_ context.Context, opts ListOptions) ([]types.Namespace, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Namespace
	for _, n := range m.namespaces {
		out = append(out, n)
	}
	return paginateNamespaces(out, opts)
}

func (m *Memory) UpdateNamespace(_ context.Context, n types.Namespace) (types.Namespace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.namespaces[n.Name]
	if !ok {
		return types.Namespace{}, errkind.NotFoundf("not_found", "namespace %s not found", n.Name)
	}
	if existing.Version != n.Version {
		return types.Namespace{}, errkind.New(errkind.PreconditionFailed, "precondition_failed", "namespace version mismatch")
	}
	n.Version++
	m.namespaces[n.Name] = n
	return n, nil
}

func (m *Memory) DeleteNamespace(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[name]; !ok {
		return errkind.NotFoundf("not_found", "namespace %s not found", name)
	}
	delete(m.namespaces, name)
	return nil
}

// --- Network policies ---

func (m *Memory) CreateNetworkPolicy(_ context.Context, p types.NetworkPolicy) (types.NetworkPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing.Key() == p.Key() {
			return types.NetworkPolicy{}, errkind.Conflictf("conflict", "policy %s already exists", p.Key())
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.policies[p.ID] = p
	m.publish(eventbus.KindPolicy, eventbus.ActionCreated, p.Namespace, p.ID)
	return p, nil
}

func (m *Memory) ListNetworkPolicies(_ context.Context, namespace string) ([]types.NetworkPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.NetworkPolicy
	for _, p := range m.policies {
		if namespace == "" || p.Namespace == namespace {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) DeleteNetworkPolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return errkind.NotFoundf("not_found", "policy %s not found", id)
	}
	delete(m.policies, id)
	m.publish(eventbus.KindPolicy, eventbus.ActionDeleted, p.Namespace, id)
	return nil
}

// --- Audit ---

func (m *Memory) AppendAuditEntry(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func paginate[T any](all []T, opts ListOptions) ([]T, int, error) {
	total := len(all)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return all[start:end], total, nil
}

func paginateNamespaces(all []types.Namespace, opts ListOptions) ([]types.Namespace, int, error) {
	return paginate(all, opts)
}
