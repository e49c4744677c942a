package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/admin"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/observability"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/cache"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/db"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/refresh"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/jobs"
)

// Components is the service graph shared by the API server, the worker and
// the operator CLI.
type Components struct {
	Config      *Config
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Backend     *backend.Client
	Redis       *redis.Client
	Pool        *pgxpool.Pool
	Dashboard   *dashboard.Service
	Refresh     *refresh.Coordinator
	Uploads     *upload.Service
	Admin       *admin.Service
	Audit       *shared.AuditLogger
	Idempotency *shared.IdempotencyStore
	Jobs        *jobs.Client
}

// BuildOptions selects how refreshes are executed.
type BuildOptions struct {
	// Enqueue sends refreshes to the job queue when ASYNC_REFRESH is on.
	Enqueue bool
}

// Build connects to Redis, the backend and the optional Postgres pool and
// assembles the services.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, opts BuildOptions) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	client, err := backend.New(cfg.Backend(), backend.WithLogger(logger), backend.WithObserver(c.Metrics))
	if err != nil {
		return nil, err
	}
	c.Backend = client

	c.Redis, err = cache.New(ctx, cfg.Redis())
	if err != nil {
		return nil, err
	}
	c.Pool, err = db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "dashboard"})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Jobs, err = jobs.NewClient(cfg.Redis().Asynq())
	if err != nil {
		c.Close()
		return nil, err
	}

	var drivers dashboard.DriverSource
	if c.Pool != nil {
		drivers = dashboard.NewPGRepository(c.Pool)
	}
	var resultCache dashboard.Cache
	switch cfg.CacheBackend {
	case CacheRedis:
		resultCache = dashboard.NewRedisCache(c.Redis, cfg.CacheTTL)
	default:
		mem := dashboard.NewMemoryCache(cfg.CacheTTL).WithBroadcast(c.Redis)
		if err := dashboard.ListenForInvalidation(ctx, c.Redis, mem.Purge); err != nil {
			logger.Warn("subscribe to cache invalidations", slog.Any("error", err))
		}
		resultCache = mem
	}
	c.Dashboard = dashboard.NewService(dashboard.NewRPCRepository(client, drivers), resultCache, logger).
		WithObserver(c.Metrics).
		WithLoadTimeout(3 * cfg.BackendTimeout)

	var refresher refresh.Refresher = refresh.NewRPCRefresher(client)
	if c.Pool != nil {
		pg := refresh.NewPGRefresher(c.Pool, cfg.MaterializedViews, logger).WithStatementTimeout(cfg.BackendRefreshTimeout)
		refresher = refresh.Fallback{Primary: refresher, Secondary: pg}
	}
	c.Refresh = refresh.NewCoordinator(refresher, shared.NewLocker(c.Redis), logger).
		WithCache(c.Dashboard).
		WithLockTTL(cfg.BackendRefreshTimeout + time.Minute)
	if opts.Enqueue && cfg.AsyncRefresh {
		c.Refresh.WithEnqueuer(c.Jobs)
	}

	pipeline := upload.NewPipeline(client.Service(), cfg.UploadLimits(), logger).WithObserver(c.Metrics)
	c.Uploads = upload.NewService(pipeline, upload.NewProgressStore(c.Redis, 0), c.Dashboard, c.Refresh, logger)

	c.Audit = shared.NewAuditLogger(logger)
	c.Idempotency = shared.NewIdempotencyStore(c.Redis, 0)
	c.Admin = admin.NewService(admin.NewRPCRepository(client), c.Audit, logger)
	return c, nil
}

// HealthChecks returns the probes served at /healthz.
func (c *Components) HealthChecks() map[string]HealthCheck {
	checks := map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() },
	}
	if c.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return c.Pool.Ping(ctx) }
	}
	return checks
}

// Close waits for background work and releases connections.
func (c *Components) Close() error {
	if c.Uploads != nil {
		c.Uploads.Wait()
	}
	if c.Refresh != nil {
		c.Refresh.Wait()
	}
	var errs []error
	if c.Jobs != nil {
		errs = append(errs, c.Jobs.Close())
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	return errors.Join(errs...)
}
