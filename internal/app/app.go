// Package app is the composition root: it wires config, telemetry,
// platform connections, the store gateway, the event bus, and every
// domain component (node registry, scheduler, service reconciler, agent
// hub, routing fabric, controller loop, Control API) into a runnable
// process (spec §1 expansion, STARK_MODE).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/WeWatchWall/stark/internal/auth"
	"github.com/WeWatchWall/stark/internal/config"
	"github.com/WeWatchWall/stark/internal/controller"
	"github.com/WeWatchWall/stark/internal/httpserver"
	"github.com/WeWatchWall/stark/internal/platform"
	"github.com/WeWatchWall/stark/internal/telemetry"
	"github.com/WeWatchWall/stark/pkg/agent"
	"github.com/WeWatchWall/stark/pkg/audit"
	"github.com/WeWatchWall/stark/pkg/eventbus"
	"github.com/WeWatchWall/stark/pkg/noderegistry"
	"github.com/WeWatchWall/stark/pkg/routing"
	"github.com/WeWatchWall/stark/pkg/scheduler"
	"github.com/WeWatchWall/stark/pkg/store"
	"github.com/WeWatchWall/stark/pkg/svcreconciler"
)

// sessionAuthenticator adapts auth.SessionManager to agent.Authenticator: a
// node's websocket connection authenticates with the same self-issued
// session JWT the CLI and operators use (spec §4.E).
type sessionAuthenticator struct {
	sessionMgr *auth.SessionManager
}

func (a sessionAuthenticator) Authenticate(_ context.Context, token string) (agent.Principal, error) {
	claims, err := a.sessionMgr.ValidateToken(token)
	if err != nil {
		return agent.Principal{}, err
	}
	return agent.Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// Run reads config, connects to infrastructure, and starts the mode
// selected by cfg.Mode ("api", "controller", or "all").
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting stark", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode != "api" && cfg.Mode != "controller" && cfg.Mode != "all" {
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	bus := eventbus.New(logger)
	eventbus.NewRedisRelay(rdb, bus, logger).Attach(ctx)

	gateway := store.NewPostgres(db, bus)

	auditWriter := audit.NewWriter(bus, gateway, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	nodes := noderegistry.New(gateway, logger, cfg.UnhealthyAfter, cfg.OfflineAfter)
	sched := scheduler.New(gateway, logger, cfg.PreemptPriorityThreshold)
	reconciler := svcreconciler.New(gateway, logger, cfg.CrashLoopWindow, cfg.CrashLoopFailureThreshold, cfg.BackoffMax)

	svcRegistry := routing.NewRegistry(cfg.UnhealthyAfter)
	policy := routing.NewPolicyEngine()
	resolver := routing.NewResolver(svcRegistry, policy, rdb, cfg.RouteCacheTTL, logger)
	logStore := agent.NewLogStore()

	// Hub and Dispatcher construct each other: the Dispatcher answers
	// route requests and forwards peer signals through the Hub, and the
	// Hub dispatches inbound frames to the Dispatcher. Build the
	// Dispatcher first and wire the Hub and Relay back in afterward.
	dispatcher := NewDispatcher(gateway, nodes, svcRegistry, resolver, nil, logStore, logger)
	hub := agent.New(logger, dispatcher, cfg.MaxPendingRequestsPerConn, cfg.RouteRequestTimeout)
	dispatcher.SetHub(hub)
	dispatcher.SetRelay(routing.NewRelay(svcRegistry, hub, logger))

	ingressManager := routing.NewManager(svcRegistry, hub, cfg.IngressRequestTimeout, logger)

	syncPolicies(ctx, gateway, policy, bus, logger)
	syncIngress(ctx, gateway, ingressManager, bus, logger)

	var g errgroup.Group

	if cfg.Mode == "api" || cfg.Mode == "all" {
		g.Go(func() error {
			return runAPI(ctx, cfg, logger, gateway, nodes, logStore, rdb, metricsReg, hub)
		})
	}

	if cfg.Mode == "controller" || cfg.Mode == "all" {
		ctrl := controller.New(gateway, bus, nodes, sched, reconciler, logger, cfg.TickInterval, cfg.TickJitterFraction, 30*time.Second)
		g.Go(func() error {
			return ctrl.Run(ctx)
		})
	}

	return g.Wait()
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	gateway store.Gateway,
	nodes *noderegistry.Registry,
	logStore *agent.LogStore,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	hub *agent.Hub,
) error {
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set STARK_SESSION_SECRET in production)")
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)

	srv := httpserver.NewServer(cfg, logger, gateway, rdb, metricsReg, sessionMgr, oidcAuth, rateLimiter)

	srv.Router.Get("/status", srv.HandleStatus)
	srv.APIRouter.Get("/status", srv.HandleStatus)

	srv.APIRouter.Mount("/packs", httpserver.NewPackHandler(logger, gateway).Routes())
	srv.APIRouter.Mount("/nodes", httpserver.NewNodeHandler(logger, gateway, nodes).Routes())
	srv.APIRouter.Mount("/pods", httpserver.NewPodHandler(logger, gateway, logStore).Routes())
	srv.APIRouter.Mount("/services", httpserver.NewServiceHandler(logger, gateway).Routes())
	srv.APIRouter.Mount("/namespaces", httpserver.NewNamespaceHandler(logger, gateway).Routes())
	srv.APIRouter.Mount("/network-policies", httpserver.NewPolicyHandler(logger, gateway).Routes())
	srv.APIRouter.Mount("/cluster", httpserver.NewClusterHandler(logger, gateway).Routes())

	agentHandler := agent.NewHandler(hub, sessionAuthenticator{sessionMgr: sessionMgr}, logger)
	srv.Router.Handle("/ws", agentHandler)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  cfg.ConnectionIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
