package upload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// CacheInvalidator drops cached dashboard results.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RefreshTrigger requests a materialized view refresh.
type RefreshTrigger interface {
	TriggerRefresh(ctx context.Context, reason string) (string, error)
}

// Service accepts uploads, runs them in the background and records progress.
type Service struct {
	pipeline *Pipeline
	store    *ProgressStore
	cache    CacheInvalidator
	refresh  RefreshTrigger
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewService wires the upload service. cache and refresh may be nil.
func NewService(pipeline *Pipeline, store *ProgressStore, cache CacheInvalidator, refresh RefreshTrigger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pipeline: pipeline, store: store, cache: cache, refresh: refresh, logger: logger, now: time.Now}
}

// Limits exposes the pipeline limits.
func (s *Service) Limits() Limits {
	return s.pipeline.Limits()
}

// Start validates the file synchronously and inserts it in the background.
// Validation errors are returned before anything is persisted.
func (s *Service) Start(ctx context.Context, kind Kind, filename string, content []byte, actorID string) (Progress, error) {
	job, err := s.pipeline.Prepare(kind, filename, content)
	if err != nil {
		return Progress{}, err
	}
	now := s.now().UTC()
	p := Progress{
		ID:        uuid.NewString(),
		Kind:      job.Kind,
		Filename:  filename,
		Table:     job.Table,
		Status:    StatusQueued,
		ActorID:   actorID,
		StartedAt: now,
		UpdatedAt: now,
		BatchProgress: BatchProgress{
			Batches: job.Batches(s.pipeline.limits.BatchSize),
			Total:   len(job.Rows),
		},
	}
	if err := s.store.Save(ctx, p); err != nil {
		return Progress{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), job, p)
	}()
	return p, nil
}

// Get returns the progress of an upload.
func (s *Service) Get(ctx context.Context, id string) (Progress, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Progress{}, ErrUploadNotFound
	}
	return s.store.Get(ctx, id)
}

// Wait blocks until all background uploads finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, job *Job, p Progress) {
	logger := s.logger.With(slog.String("upload_id", p.ID), slog.String("kind", string(p.Kind)))
	p.Status = StatusRunning
	s.save(ctx, logger, &p)

	final, err := s.pipeline.Run(ctx, job, func(bp BatchProgress) {
		p.BatchProgress = bp
		s.save(ctx, logger, &p)
	})
	p.BatchProgress = final
	finished := s.now().UTC()
	p.FinishedAt = &finished
	if err != nil {
		p.Status = StatusFailed
		p.Error = err.Error()
		s.save(ctx, logger, &p)
		if p.Inserted == 0 {
			return
		}
	} else {
		p.Status = StatusCompleted
		s.save(ctx, logger, &p)
	}
	s.afterInsert(ctx, logger)
}

// afterInsert drops cached aggregates and asks for a view refresh so the
// new rows become visible.
func (s *Service) afterInsert(ctx context.Context, logger *slog.Logger) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.Warn("invalidate dashboard cache", slog.Any("error", err))
		}
	}
	if s.refresh == nil {
		return
	}
	id, err := s.refresh.TriggerRefresh(ctx, "upload")
	switch {
	case errors.Is(err, shared.ErrLockHeld):
		logger.Info("refresh already running")
	case err != nil:
		logger.Warn("trigger refresh", slog.Any("error", err))
	default:
		logger.Info("refresh requested", slog.String("refresh_id", id))
	}
}

func (s *Service) save(ctx context.Context, logger *slog.Logger, p *Progress) {
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, *p); err != nil {
		logger.Warn("save upload progress", slog.Any("error", err))
	}
}
