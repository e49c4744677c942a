package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/jobs"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// RefreshRunner refreshes the views synchronously under the refresh lock.
type RefreshRunner interface {
	Run(ctx context.Context, reason string) error
}

// RefreshViewsJob handles TaskRefreshViews.
type RefreshViewsJob struct {
	Runner  RefreshRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRefreshViewsJob wires the refresh handler.
func NewRefreshViewsJob(runner RefreshRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RefreshViewsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshViewsJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle processes refresh tasks. A refresh already in flight counts as a
// skip rather than a failure so asynq does not retry it.
func (j *RefreshViewsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("refresh views: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return asynq.SkipRetry
	}
	if payload.Reason == "" {
		payload.Reason = "cron"
	}
	logger := j.Logger.With(slog.String("job", TaskRefreshViews), slog.String("reason", payload.Reason))

	tracker := j.Metrics.Track(TaskRefreshViews)
	err = j.Runner.Run(ctx, payload.Reason)
	if errors.Is(err, shared.ErrLockHeld) {
		j.Metrics.Skip(TaskRefreshViews, "locked")
		logger.Info("refresh already running, skipping")
		return nil
	}
	if err != nil {
		logger.Error("refresh views", slog.Any("error", err))
	}
	return tracker.End(err)
}
