package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/invoicely/gatekeeper/pkg/api"
	"github.com/invoicely/gatekeeper/pkg/audit"
	"github.com/invoicely/gatekeeper/pkg/config"
	"github.com/invoicely/gatekeeper/pkg/cronauth"
	"github.com/invoicely/gatekeeper/pkg/guard"
	"github.com/invoicely/gatekeeper/pkg/identity"
	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "gatekeeper").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gatekeeper exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("init opentelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := openPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	rdb, err := openRedis(ctx, cfg.Redis, cfg.RateLimit.Backend, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	clock := clockwork.NewRealClock()

	// Rate limiting and cooldowns share one counter store
	var counters ratelimit.CounterStore
	if rdb != nil {
		counters = ratelimit.NewRedisStore(rdb, cfg.Redis.Prefix, metrics)
	} else {
		counters = ratelimit.NewMemoryStore()
	}
	profiles, err := ratelimit.NewRegistry(cfg.RateLimit.Profiles)
	if err != nil {
		return fmt.Errorf("rate limit profiles: %w", err)
	}
	limiter := ratelimit.NewLimiter(counters, profiles, ratelimit.WithClock(clock), ratelimit.WithMetrics(metrics))
	cooldowns, err := ratelimit.NewCooldownGuard(counters, cfg.RateLimit.Cooldowns, ratelimit.WithClock(clock), ratelimit.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("cooldowns: %w", err)
	}
	sweeper, err := ratelimit.NewSweeper(counters, cfg.RateLimit.SweepSchedule, logger, ratelimit.WithClock(clock), ratelimit.WithMetrics(metrics))
	if err != nil {
		return err
	}

	// Identity and workspace membership
	var (
		identities identity.Store
		workspaces workspace.Store
	)
	if db != nil {
		identities = identity.NewPostgresStore(db)
		workspaces = workspace.NewPostgresStore(db)
	} else {
		users, spaces := identity.NewMemoryStore(), workspace.NewMemoryStore()
		if cfg.Server.DevSeed {
			if err := seedDevData(users, spaces, clock, logger); err != nil {
				return err
			}
		}
		identities, workspaces = users, spaces
	}

	auditStore, auditReader, err := openAuditStore(ctx, cfg.Audit, db)
	if err != nil {
		return err
	}
	auditLog := audit.NewLogger(context.WithoutCancel(ctx), auditStore, logger, audit.Config{
		Workers:      cfg.Audit.Workers,
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, audit.WithMetrics(metrics), audit.WithClock(clock))

	cron := cronauth.NewGuard(cfg.Cron.Secret, logger)
	if !cron.Configured() {
		logger.Warn("CRON_SECRET is not set, scheduler routes will reject every call")
	}

	pipeline, err := guard.New(guard.Deps{
		Limiter:    limiter,
		Cooldowns:  cooldowns,
		Identities: identity.NewResolver(identities, clock),
		Workspaces: workspace.NewAuthorizer(workspaces),
		Cron:       cron,
		Audit:      auditLog,
		Metrics:    metrics,
		Logger:     logger,
		TrustProxy: cfg.Server.TrustProxy,
	})
	if err != nil {
		return err
	}

	var gatherer prometheus.Gatherer
	if cfg.Observability.MetricsEnabled {
		gatherer = registry
	}
	var healthRedis redis.UniversalClient
	if rdb != nil {
		healthRedis = rdb
	}
	server, err := api.NewServer(api.Deps{
		Pipeline:  pipeline,
		Cooldowns: cooldowns,
		Notifier:  api.NewLogNotifier(logger),
		AuditLog:  auditReader,
		Health:    observability.NewHealthChecker(db, healthRedis, version),
		Metrics:   metrics,
		Gatherer:  gatherer,
		Logger:    logger,
		Clock:     clock,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("sweeper", sweeper.Stop)
	shutdown.Register("audit", auditLog.Close)
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	sweeper.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting Gatekeeper HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")
		return shutdown.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Gatekeeper stopped")
	return nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig, logger *observability.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		logger.Info("GATEKEEPER_POSTGRES_URL not set, using in-memory identity and workspace stores")
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("Connected to postgres")
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, backend string, logger *observability.Logger) (*redis.Client, error) {
	if backend != "redis" {
		logger.Info("Using in-memory rate limit counters")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Connected to redis")
	return client, nil
}

// openAuditStore selects the durable sink. The log-only sink keeps recent
// entries in memory so the audit-log route still has something to serve.
func openAuditStore(ctx context.Context, cfg config.AuditConfig, db *sql.DB) (audit.Store, audit.Reader, error) {
	switch cfg.Sink {
	case "postgres":
		if db == nil {
			return nil, nil, errors.New("audit sink postgres requires GATEKEEPER_POSTGRES_URL")
		}
		store, err := audit.NewDBStore(ctx, db)
		if err != nil {
			return nil, nil, fmt.Errorf("audit db store: %w", err)
		}
		return store, store, nil
	case "file":
		fileStore, err := audit.NewFileStore(audit.FileStoreConfig{
			Dir:      cfg.FileDir,
			MaxSize:  cfg.FileMaxSize,
			MaxFiles: cfg.FileMaxFiles,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("audit file store: %w", err)
		}
		recent := audit.NewMemoryStore()
		return audit.NewMultiStore(fileStore, recent), recent, nil
	default:
		store := audit.NewMemoryStore()
		return store, store, nil
	}
}

// seedDevData creates one owner with a workspace and logs a bearer token for local testing
func seedDevData(users *identity.MemoryStore, spaces *workspace.MemoryStore, clock clockwork.Clock, logger *observability.Logger) error {
	userID, workspaceID := uuid.NewString(), uuid.NewString()

	users.PutUser(identity.Identity{
		ID:                userID,
		Email:             "owner@example.com",
		DisplayName:       "Demo Owner",
		ActiveWorkspaceID: workspaceID,
	})
	spaces.PutWorkspace(workspace.Workspace{ID: workspaceID, Name: "Demo Workspace", OwnerID: userID})
	spaces.PutMember(workspaceID, userID, workspace.Membership{ID: uuid.NewString(), Role: workspace.RoleOwner})

	token, err := users.CreateSession(userID, clock.Now().Add(7*24*time.Hour))
	if err != nil {
		return fmt.Errorf("seed session: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"user_id":      userID,
		"workspace_id": workspaceID,
		"token":        token,
	}).Warn("Seeded development user; do not enable GATEKEEPER_DEV_SEED in production")
	return nil
}
