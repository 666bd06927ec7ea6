// Package store is the Store Gateway (spec §4.A): the sole path through
// which every other component reads and writes persisted entities. It owns
// optimistic concurrency (a version column per mutable entity) and
// publishes an eventbus.ChangeEvent on every successful pack, node, pod,
// service and network-policy write, and on namespace creation, so the
// controller loop and the audit subscriber can react without polling.
// Namespace updates and deletes, pod-history rows and audit entries publish
// nothing.
package store

import (
	"context"

	"github.com/WeWatchWall/stark/pkg/types"
)

// ListOptions bounds and offsets a list query. Stark's lists are
// operator-browsed (nodes, pods, services), so the Store Gateway uses
// offset pagination rather than keyset cursors.
type ListOptions struct {
	Namespace string
	Status    string
	Limit     int
	Offset    int
}

// Gateway is the full persistence surface used by every Stark component.
// Postgres and Memory both implement it; components depend on the
// interface so unit tests can run without a database.
type Gateway interface {
	CreatePack(ctx context.Context, p types.Pack) (types.Pack, error)
	GetPack(ctx context.Context, id string) (types.Pack, error)
	GetPackByNameVersion(ctx context.Context, name, version string) (types.Pack, error)
	ListPackVersions(ctx context.Context, name string) ([]types.Pack, error)
	ListPacks(ctx context.Context, opts ListOptions) ([]types.Pack, int, error)
	DeletePack(ctx context.Context, id string) error

	CreateNode(ctx context.Context, n types.Node) (types.Node, error)
	GetNode(ctx context.Context, id string) (types.Node, error)
	GetNodeByName(ctx context.Context, name string) (types.Node, error)
	ListNodes(ctx context.Context, opts ListOptions) ([]types.Node, int, error)
	UpdateNode(ctx context.Context, n types.Node) (types.Node, error)
	DeleteNode(ctx context.Context, id string) error

	CreatePod(ctx context.Context, p types.Pod) (types.Pod, error)
	GetPod(ctx context.Context, id string) (types.Pod, error)
	ListPods(ctx context.Context, opts ListOptions) ([]types.Pod, int, error)
	ListPodsByService(ctx context.Context, serviceID string) ([]types.Pod, error)
	ListPodsByNode(ctx context.Context, nodeID string) ([]types.Pod, error)
	UpdatePod(ctx context.Context, p types.Pod) (types.Pod, error)
	TransitionPod(ctx context.Context, id string, version int64, to types.PodStatus, message string) (types.Pod, error)
	RecordPodHistory(ctx context.Context, podID string, from, to types.PodStatus, message string) error
	ListPodHistory(ctx context.Context, podID string, limit int) ([]types.PodHistoryEntry, error)
	DeletePod(ctx context.Context, id string) error

	CreateService(ctx context.Context, s types.Service) (types.Service, error)
	GetService(ctx context.Context, id string) (types.Service, error)
	GetServiceByName(ctx context.Context, namespace, name string) (types.Service, error)
	ListServices(ctx context.Context, opts ListOptions) ([]types.Service, int, error)
	UpdateService(ctx context.Context, s types.Service) (types.Service, error)
	DeleteService(ctx context.Context, id string) error

	CreateNamespace(ctx context.Context, n types.Namespace) (types.Namespace, error)
	GetNamespace(ctx context.Context, name string) (types.Namespace, error)
	ListNamespaces(ctx context.Context, opts ListOptions) ([]types.Namespace, int, error)
	UpdateNamespace(ctx context.Context, n types.Namespace) (types.Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error

	CreateNetworkPolicy(ctx context.Context, p types.NetworkPolicy) (types.NetworkPolicy, error)
	ListNetworkPolicies(ctx context.Context, namespace string) ([]types.NetworkPolicy, error)
	DeleteNetworkPolicy(ctx context.Context, id string) error

	AppendAuditEntry(ctx context.Context, e AuditEntry) error
}

// AuditEntry is a single row in the generic audit-log table, independent of
// the entity-specific tables, fed by pkg/audit draining the event bus.
type AuditEntry struct {
	CorrelationID string
	Topic         string
	Action        string
	Resource      string
	ResourceID    string
	Detail        []byte
}
