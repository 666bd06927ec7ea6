// Package controller is the Controller Loop (spec §4.G/4.H): one worker per
// reconciler kind, woken by store change events and a jittered periodic
// tick, serialized per entity key with trailing-edge coalescing.
package controller

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/noderegistry"
	"github.com/WeWatchWall/stark/pkg/scheduler"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/svcreconciler"
	"github.com/WeWatchWall/stark/pkg/types"
)

// Controller drives scheduling, service reconciliation, and node-liveness
// passes from the event bus and a periodic tick.
type Controller struct {
	gateway     store.Gateway
	bus         *eventbus.Bus
	registry    *noderegistry.Registry
	scheduler   *scheduler.Scheduler
	reconciler  *svcreconciler.Reconciler
	logger      *slog.Logger

	tickInterval   time.Duration
	jitterFraction float64
	drainDeadline  time.Duration

	podRunner     *keyedRunner
	serviceRunner *keyedRunner
}

// New creates a Controller. drainDeadline bounds graceful shutdown before
// in-flight passes are forcefully canceled (spec §5).
func New(
	gateway store.Gateway,
	bus *eventbus.Bus,
	registry *noderegistry.Registry,
	sched *scheduler.Scheduler,
	reconciler *svcreconciler.Reconciler,
	logger *slog.Logger,
	tickInterval time.Duration,
	jitterFraction float64,
	drainDeadline time.Duration,
) *Controller {
	c := &Controller{
		gateway:        gateway,
		bus:            bus,
		registry:       registry,
		scheduler:      sched,
		reconciler:     reconciler,
		logger:         logger,
		tickInterval:   tickInterval,
		jitterFraction: jitterFraction,
		drainDeadline:  drainDeadline,
	}
	c.podRunner = newKeyedRunner("pod", sched.ScheduleOne, logger)
	c.serviceRunner = newKeyedRunner("service", reconciler.ReconcileOne, logger)
	return c
}

// Run subscribes to the event bus and drives tick loops until ctx is
// canceled, then drains outstanding work with a bounded deadline before
// returning (spec §5 shutdown semantics).
func (c *Controller) Run(ctx context.Context) error {
	podEvents, unsubPod := c.bus.Subscribe(eventbus.Topic{Kind: eventbus.KindPod})
	defer unsubPod()
	serviceEvents, unsubSvc := c.bus.Subscribe(eventbus.Topic{Kind: eventbus.KindService})
	defer unsubSvc()
	nodeEvents, unsubNode := c.bus.Subscribe(eventbus.Topic{Kind: eventbus.KindNode})
	defer unsubNode()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.eventLoop(gctx, podEvents, c.podRunner.Trigger) })
	g.Go(func() error { return c.eventLoop(gctx, serviceEvents, c.serviceRunner.Trigger) })
	g.Go(func() error {
		for {
			select {
			case _, ok := <-nodeEvents:
				if !ok {
					return nil
				}
				c.runLivenessCheck(gctx)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error { return c.tickLoop(gctx, "pods", c.sweepPods) })
	g.Go(func() error { return c.tickLoop(gctx, "services", c.sweepServices) })
	g.Go(func() error { return c.tickLoop(gctx, "nodes", func(ctx context.Context) { c.runLivenessCheck(ctx) }) })

	err := g.Wait()

	c.drain()
	return err
}

func (c *Controller) eventLoop(ctx context.Context, events <-chan eventbus.ChangeEvent, trigger func(ctx context.Context, key string)) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.ResourceID == "" {
				continue
			}
			trigger(ctx, ev.ResourceID)
		case <-ctx.Done():
			return nil
		}
	}
}

// tickLoop runs fn once immediately, then every tickInterval jittered by
// ±jitterFraction (spec §4.G: "ticks are jittered ±20% to avoid
// thundering-herd alignment"), until ctx is canceled.
func (c *Controller) tickLoop(ctx context.Context, name string, fn func(ctx context.Context)) error {
	fn(ctx)
	for {
		d := c.jitteredInterval()
		select {
		case <-time.After(d):
			fn(ctx)
		case <-ctx.Done():
			c.logger.Info("tick loop stopped", "loop", name)
			return nil
		}
	}
}

func (c *Controller) jitteredInterval() time.Duration {
	if c.jitterFraction <= 0 {
		return c.tickInterval
	}
	spread := float64(c.tickInterval) * c.jitterFraction
	delta := (rand.Float64()*2 - 1) * spread
	return c.tickInterval + time.Duration(delta)
}

func (c *Controller) sweepPods(ctx context.Context) {
	pods, _, err := c.gateway.ListPods(ctx, store.ListOptions{Status: string(types.PodPending), Limit: 10000})
	if err != nil {
		c.logger.Error("listing pending pods for tick sweep", "error", err)
		return
	}
	for _, p := range pods {
		c.podRunner.Trigger(ctx, p.ID)
	}
}

func (c *Controller) sweepServices(ctx context.Context) {
	services, _, err := c.gateway.ListServices(ctx, store.ListOptions{Limit: 10000})
	if err != nil {
		c.logger.Error("listing services for tick sweep", "error", err)
		return
	}
	for _, s := range services {
		if s.Status == types.ServiceDeleted {
			continue
		}
		c.serviceRunner.Trigger(ctx, s.ID)
	}
}

var livenessMu sync.Mutex

func (c *Controller) runLivenessCheck(ctx context.Context) {
	// CheckLiveness itself is not re-entrant-safe across overlapping
	// invocations (it reads-then-writes each node under a per-node lock,
	// but two full sweeps racing would double-log transitions), so the tick
	// and the node-event path share a single mutex rather than a keyedRunner
	// keyed per node (liveness is evaluated cluster-wide each pass).
	livenessMu.Lock()
	defer livenessMu.Unlock()

	if err := c.registry.CheckLiveness(ctx, c.evictPodsForNode); err != nil {
		c.logger.Error("node liveness check", "error", err)
	}
}

func (c *Controller) evictPodsForNode(ctx context.Context, nodeID string) error {
	pods, err := c.gateway.ListPodsByNode(ctx, nodeID)
	if err != nil {
		return err
	}
	for _, p := range pods {
		if !p.NonTerminal() {
			continue
		}
		if _, err := c.gateway.TransitionPod(ctx, p.ID, p.Version, types.PodEvicted, "NodeOffline"); err != nil {
			c.logger.Error("evicting pod for offline node", "podId", p.ID, "nodeId", nodeID, "error", err)
		}
	}
	return nil
}

// drain waits up to drainDeadline for in-flight keyed runs to settle, then
// returns regardless (spec §5: "drains workers with a bounded deadline,
// then forcefully cancels remaining operations" — the forceful cancel is
// the caller's ctx already being canceled by the time drain runs; in-flight
// store/agent calls observe that cancellation and fail with `Canceled`).
func (c *Controller) drain() {
	deadline := c.drainDeadline
	if deadline <= 0 {
		deadline = 0
	}
	dctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.podRunner.Wait(dctx) }()
	go func() { defer wg.Done(); c.serviceRunner.Wait(dctx) }()
	wg.Wait()
}
