package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
	jobmetrics "github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/jobs"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRunner struct {
	reasons []string
	err     error
}

func (s *stubRunner) Run(_ context.Context, reason string) error {
	s.reasons = append(s.reasons, reason)
	return s.err
}

type stubWarmer struct {
	week format.Week
	err  error
}

func (s stubWarmer) Warm(context.Context) (format.Week, error) {
	return s.week, s.err
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRefreshTaskPayload(t *testing.T) {
	task, err := NewRefreshTask("upload")
	require.NoError(t, err)
	assert.Equal(t, TaskRefreshViews, task.Type())
	payload, err := decodePayload(task)
	require.NoError(t, err)
	assert.Equal(t, "upload", payload.Reason)

	empty, err := decodePayload(asynq.NewTask(TaskWarmCache, nil))
	require.NoError(t, err)
	assert.Empty(t, empty.Reason)
}

func TestRefreshViewsJobRunsAndTracks(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	runner := &stubRunner{}
	job := NewRefreshViewsJob(runner, quietLogger(), metrics)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRefreshViews, nil)))
	assert.Equal(t, []string{"cron"}, runner.reasons)
	assert.EqualValues(t, 1, counterValue(t, reg, "dashboard_jobs_total", map[string]string{"job": TaskRefreshViews, "status": "success"}))
}

func TestRefreshViewsJobSkipsWhenLocked(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewRefreshViewsJob(&stubRunner{err: shared.ErrLockHeld}, quietLogger(), metrics)

	task, err := NewRefreshTask("manual")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.EqualValues(t, 1, counterValue(t, reg, "dashboard_jobs_skipped_total", map[string]string{"job": TaskRefreshViews, "reason": "locked"}))
	assert.Zero(t, counterValue(t, reg, "dashboard_jobs_failures_total", map[string]string{"job": TaskRefreshViews}))
}

func TestRefreshViewsJobReportsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	boom := errors.New("backend down")
	job := NewRefreshViewsJob(&stubRunner{err: boom}, quietLogger(), metrics)

	err := job.Handle(context.Background(), asynq.NewTask(TaskRefreshViews, []byte(`{"reason":"cron"}`)))
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, counterValue(t, reg, "dashboard_jobs_failures_total", map[string]string{"job": TaskRefreshViews}))
}

func TestRefreshViewsJobRejectsBadPayload(t *testing.T) {
	job := NewRefreshViewsJob(&stubRunner{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskRefreshViews, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestCacheWarmupJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	ok := NewCacheWarmupJob(stubWarmer{week: format.Week{Year: 2024, Number: 9}}, quietLogger(), metrics)
	require.NoError(t, ok.Handle(context.Background(), asynq.NewTask(TaskWarmCache, nil)))

	boom := errors.New("no weeks")
	failing := NewCacheWarmupJob(stubWarmer{err: boom}, quietLogger(), metrics)
	assert.ErrorIs(t, failing.Handle(context.Background(), asynq.NewTask(TaskWarmCache, nil)), boom)

	assert.EqualValues(t, 1, counterValue(t, reg, "dashboard_jobs_total", map[string]string{"job": TaskWarmCache, "status": "success"}))
	assert.EqualValues(t, 1, counterValue(t, reg, "dashboard_jobs_total", map[string]string{"job": TaskWarmCache, "status": "failure"}))
}

func TestDefaultCronRegistrations(t *testing.T) {
	entries, err := DefaultCron()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, RefreshCron, entries[0].Spec)
	assert.Equal(t, TaskRefreshViews, entries[0].Task.Type())
	assert.Equal(t, TaskWarmCache, entries[1].Task.Type())
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, quietLogger()).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"processed":0,"failed":0}`, rr.Body.String())
}
