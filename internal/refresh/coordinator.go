package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

const defaultLockTTL = 10 * time.Minute

// Enqueuer hands a refresh to the background worker.
type Enqueuer interface {
	EnqueueRefresh(ctx context.Context, reason string) (string, error)
}

// Invalidator drops cached aggregates once fresh data is available.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Coordinator serializes refreshes across processes with a Redis lock. With
// an Enqueuer it only schedules work; otherwise it refreshes in-process.
type Coordinator struct {
	refresher Refresher
	locker    *shared.Locker
	enqueuer  Enqueuer
	cache     Invalidator
	lockTTL   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(refresher Refresher, locker *shared.Locker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{refresher: refresher, locker: locker, lockTTL: defaultLockTTL, logger: logger}
}

// WithEnqueuer routes TriggerRefresh through the job queue.
func (c *Coordinator) WithEnqueuer(e Enqueuer) *Coordinator {
	c.enqueuer = e
	return c
}

// WithCache invalidates cache after every successful refresh.
func (c *Coordinator) WithCache(cache Invalidator) *Coordinator {
	c.cache = cache
	return c
}

// WithLockTTL bounds how long a crashed refresh can block the next one.
func (c *Coordinator) WithLockTTL(ttl time.Duration) *Coordinator {
	if ttl > 0 {
		c.lockTTL = ttl
	}
	return c
}

// TriggerRefresh schedules a refresh and returns its ID. It returns
// shared.ErrLockHeld while another refresh is running.
func (c *Coordinator) TriggerRefresh(ctx context.Context, reason string) (string, error) {
	if c.enqueuer != nil {
		return c.enqueuer.EnqueueRefresh(ctx, reason)
	}
	release, err := c.lock(ctx)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		bg := context.WithoutCancel(ctx)
		defer c.unlock(bg, release)
		_ = c.refresh(bg, id, reason)
	}()
	return id, nil
}

// Run refreshes synchronously under the lock.
func (c *Coordinator) Run(ctx context.Context, reason string) error {
	release, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer c.unlock(context.WithoutCancel(ctx), release)
	return c.refresh(ctx, uuid.NewString(), reason)
}

// Wait blocks until in-process refreshes finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) lock(ctx context.Context) (func(context.Context) error, error) {
	if c.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	return c.locker.TryLock(ctx, shared.RefreshLockKey, c.lockTTL)
}

func (c *Coordinator) unlock(ctx context.Context, release func(context.Context) error) {
	if err := release(ctx); err != nil {
		c.logger.Warn("release refresh lock", slog.Any("error", err))
	}
}

func (c *Coordinator) refresh(ctx context.Context, id, reason string) error {
	logger := c.logger.With(slog.String("refresh_id", id), slog.String("reason", reason))
	start := time.Now()
	if err := c.refresher.Refresh(ctx); err != nil {
		logger.Error("refresh materialized views", slog.Any("error", err))
		return err
	}
	logger.Info("refreshed materialized views", slog.Duration("duration", time.Since(start)))
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx); err != nil {
			logger.Warn("invalidate dashboard cache", slog.Any("error", err))
		}
	}
	return nil
}
