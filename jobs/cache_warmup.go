package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
	jobmetrics "github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/jobs"
)

// Warmer preloads the dashboard cache.
type Warmer interface {
	Warm(ctx context.Context) (format.Week, error)
}

// CacheWarmupJob handles TaskWarmCache.
type CacheWarmupJob struct {
	Warmer  Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmupJob wires the warmup handler.
func NewCacheWarmupJob(warmer Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheWarmupJob{Warmer: warmer, Logger: logger, Metrics: metrics}
}

// Handle processes warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Warmer == nil {
		return errors.New("cache warmup: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return asynq.SkipRetry
	}
	logger := j.Logger.With(slog.String("job", TaskWarmCache), slog.String("reason", payload.Reason))

	tracker := j.Metrics.Track(TaskWarmCache)
	week, err := j.Warmer.Warm(ctx)
	if err != nil {
		logger.Error("warm dashboard cache", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("warmed dashboard cache", slog.String("week", week.String()))
	return tracker.End(nil)
}
