package routing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WeWatchWall/stark/pkg/types"
)

func TestResolverDeniesWithoutPolicy(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	pol := NewPolicyEngine()
	r := NewResolver(reg, pol, nil, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := r.Resolve(context.Background(), "A", "B", "default")
	if res.PolicyAllowed || res.DenyReason != "default-deny" {
		t.Fatalf("resolution = %+v, want default-deny", res)
	}
}

func TestResolverPicksLeastRecentlyUsedWithLexicographicTieBreak(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	pol := NewPolicyEngine()
	pol.Sync([]types.NetworkPolicy{{SourceService: "A", TargetService: "B", Namespace: "default", Action: types.PolicyAllow}})
	reg.Upsert(types.RegistryEndpoint{PodID: "pod-b", NodeID: "n1", ServiceName: "B", Namespace: "default", Status: types.EndpointHealthy})
	reg.Upsert(types.RegistryEndpoint{PodID: "pod-a", NodeID: "n2", ServiceName: "B", Namespace: "default", Status: types.EndpointHealthy})

	r := NewResolver(reg, pol, nil, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Neither has been used: lexicographic tie-break picks pod-a first.
	first := r.Resolve(context.Background(), "A", "B", "default")
	if first.TargetPodID != "pod-a" {
		t.Fatalf("first pick = %s, want pod-a (lexicographic tie-break)", first.TargetPodID)
	}

	// pod-a was just used; pod-b is now least-recently-used.
	second := r.Resolve(context.Background(), "A", "B", "default")
	if second.TargetPodID != "pod-b" {
		t.Fatalf("second pick = %s, want pod-b (least recently used)", second.TargetPodID)
	}
}

func TestResolverNoHealthyEndpoint(t *testing.T) {
	reg := NewRegistry(35 * time.Second)
	pol := NewPolicyEngine()
	pol.Sync([]types.NetworkPolicy{{SourceService: "A", TargetService: "B", Namespace: "default", Action: types.PolicyAllow}})
	r := NewResolver(reg, pol, nil, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := r.Resolve(context.Background(), "A", "B", "default")
	if !res.PolicyAllowed || res.TargetPodID != "" || res.DenyReason != "no-healthy-endpoint" {
		t.Fatalf("resolution = %+v, want allowed with no endpoint", res)
	}
}
