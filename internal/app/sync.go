package app

import (
	"context"
	"log/slog"

	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/routing"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/types"
)

// syncPolicies keeps the routing fabric's PolicyEngine current with every
// NetworkPolicy in the store: once at startup, then again on every policy
// ChangeEvent (spec §4.F: "the policy engine is immutable between syncs").
func syncPolicies(ctx context.Context, gateway store.Gateway, policy *routing.PolicyEngine, bus *eventbus.Bus, logger *slog.Logger) {
	refresh := func() {
		namespaces, _, err := gateway.ListNamespaces(ctx, store.ListOptions{Limit: 10000})
		if err != nil {
			logger.Error("listing namespaces for policy sync", "error", err)
			return
		}
		var all []types.NetworkPolicy
		for _, ns := range namespaces {
			policies, err := gateway.ListNetworkPolicies(ctx, ns.Name)
			if err != nil {
				logger.Error("listing network policies for policy sync", "namespace", ns.Name, "error", err)
				continue
			}
			all = append(all, policies...)
		}
		policy.Sync(all)
	}
	refresh()

	events, unsubscribe := bus.Subscribe(eventbus.Topic{Kind: eventbus.KindPolicy})
	go func() {
		defer unsubscribe()
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
				refresh()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// syncIngress starts or stops an ingress listener for every service's
// exposed/ingressPort fields: once at startup, then again on every service
// ChangeEvent (spec §4.F expansion).
func syncIngress(ctx context.Context, gateway store.Gateway, manager *routing.Manager, bus *eventbus.Bus, logger *slog.Logger) {
	refresh := func() {
		services, _, err := gateway.ListServices(ctx, store.ListOptions{Limit: 10000})
		if err != nil {
			logger.Error("listing services for ingress sync", "error", err)
			return
		}
		for _, svc := range services {
			if svc.Exposed && svc.IngressPort > 0 {
				manager.Expose(svc.ID, svc.Namespace, svc.Name, svc.IngressPort)
			} else if err := manager.Unexpose(ctx, svc.ID); err != nil {
				logger.Warn("unexposing service", "serviceId", svc.ID, "error", err)
			}
		}
	}
	refresh()

	events, unsubscribe := bus.Subscribe(eventbus.Topic{Kind: eventbus.KindService})
	go func() {
		defer unsubscribe()
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
				refresh()
			case <-ctx.Done():
				return
			}
		}
	}()
}
