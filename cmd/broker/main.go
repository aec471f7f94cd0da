// Command broker runs the query-broker's HTTP front door: it compiles
// inbound JSON query envelopes, fans them out across the C1-C9 pipeline,
// and serves the reduced result back over plain JSON.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"querybroker/internal/api"
	"querybroker/internal/broker/boundary"
	"querybroker/internal/broker/controlplane"
	"querybroker/internal/broker/health"
	"querybroker/internal/broker/model"
	"querybroker/internal/broker/query"
	"querybroker/internal/broker/replica"
	"querybroker/internal/broker/routing"
	"querybroker/internal/broker/splitter"
	"querybroker/internal/broker/tablematch"
	"querybroker/internal/broker/transport"
	"querybroker/pkg/audit"
	"querybroker/pkg/cache"
	"querybroker/pkg/config"
	"querybroker/pkg/database"
	"querybroker/pkg/logger"
	"querybroker/pkg/metrics"
	"querybroker/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize telemetry", "error", err)
	}
	defer tp.Shutdown(context.Background())

	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	auditLogger := buildAuditLogger(ctx, cfg)

	routingBacking, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Fatal("failed to initialize routing cache", "error", err)
	}

	routingClient := controlplane.NewHTTPClient(cfg.Routing.RoutingTable)
	boundaryClient := controlplane.NewHTTPClient(cfg.Routing.TimeBoundary)

	var routingResolver routing.Resolver
	var boundaryProvider splitter.TimeBoundaryProvider
	if cfg.Cache.Enabled {
		routingResolver = routing.NewCachingResolver(routingClient, routingBacking, cfg.Routing.CacheTTL)
		boundaryProvider = boundary.NewCachingResolver(boundaryClient, routingBacking, cfg.Routing.CacheTTL)
	} else {
		routingResolver = routing.NewDirectResolver(routingClient)
		boundaryProvider = boundary.NewClient(boundaryClient)
	}

	shardTransport := transport.NewTCPTransport(cfg.Routing.RoutingTable.Timeout)
	selector := replica.NewSelector(replica.PolicyRoundRobin)

	healthChecker := health.NewChecker(cfg.Broker.HealthCheckInterval / 2)
	healthSnapshot := health.NewSnapshot()
	// No standalone server registry exists yet; health probing activates
	// once the servers known to recent routing lookups are threaded through
	// here.
	go health.RunLoop(ctx, healthChecker, healthSnapshot, func() []model.ServerInstance { return nil }, cfg.Broker.HealthCheckInterval)

	var existence tablematch.Existence = routingClient

	engine := query.NewEngine(existence, routingResolver, boundaryProvider, selector, shardTransport, healthSnapshot, m, auditLogger, cfg.Broker)

	httpServer := api.NewServer(cfg.HTTP, api.NewJSONCompiler(), engine, m)

	go func() {
		logger.Info("broker HTTP server starting", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("broker HTTP server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during HTTP server shutdown", "error", err)
	}
}

func buildAuditLogger(ctx context.Context, cfg *config.Config) audit.Logger {
	auditCfg := &audit.Config{
		Enabled:         cfg.Audit.Enabled,
		Backend:         cfg.Audit.Backend,
		FilePath:        cfg.Audit.FilePath,
		BufferSize:      cfg.Audit.BufferSize,
		FlushPeriod:     cfg.Audit.FlushPeriod,
		IncludeRequest:  cfg.Audit.IncludeRequest,
		IncludeResponse: cfg.Audit.IncludeResponse,
	}

	if cfg.Audit.Enabled && cfg.Audit.Backend == "postgres" {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			logger.Error("failed to connect audit database, falling back to stdout", "error", err)
		} else if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, database.AuditMigrations, database.AuditMigrationsDir); err != nil {
			logger.Error("failed to migrate audit database, falling back to stdout", "error", err)
		} else {
			return audit.NewPostgresLogger(db, auditCfg)
		}
	}

	l, err := audit.New(auditCfg)
	if err != nil {
		logger.Error("failed to initialize audit logger", "error", err)
		return nil
	}
	return l
}
