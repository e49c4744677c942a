package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRefresher struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (s *stubRefresher) Refresh(ctx context.Context) error {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type stubCache struct{ calls atomic.Int32 }

func (s *stubCache) Invalidate(context.Context) error {
	s.calls.Add(1)
	return nil
}

type stubEnqueuer struct{ reasons []string }

func (s *stubEnqueuer) EnqueueRefresh(_ context.Context, reason string) (string, error) {
	s.reasons = append(s.reasons, reason)
	return "task-9", nil
}

func newLocker(t *testing.T) (*shared.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewLocker(client), mr
}

func TestRPCRefresherUsesServiceRoleAndLongTimeout(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/"+FnRefreshViews, r.URL.Path)
		auth.Store(r.Header.Get("Authorization"))
		time.Sleep(80 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	client, err := backend.New(backend.Config{
		URL:            srv.URL,
		AnonKey:        "anon",
		ServiceKey:     "service",
		Timeout:        20 * time.Millisecond,
		RefreshTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, NewRPCRefresher(client).Refresh(context.Background()))
	assert.Equal(t, "Bearer service", auth.Load())
}

func TestFallbackOnMissingFunction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"PGRST202","message":"Could not find the function"}`))
	}))
	defer srv.Close()
	client, err := backend.New(backend.Config{URL: srv.URL, AnonKey: "anon", ServiceKey: "service"})
	require.NoError(t, err)

	secondary := &stubRefresher{}
	require.NoError(t, Fallback{Primary: NewRPCRefresher(client), Secondary: secondary}.Refresh(context.Background()))
	assert.EqualValues(t, 1, secondary.calls.Load())

	failing := &stubRefresher{err: errors.New("boom")}
	err = Fallback{Primary: failing, Secondary: secondary}.Refresh(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, secondary.calls.Load())
}

func TestRefreshStatementQuotesIdentifiers(t *testing.T) {
	assert.Equal(t, `REFRESH MATERIALIZED VIEW CONCURRENTLY "mv_aderencia_semanal"`, RefreshStatement("mv_aderencia_semanal"))
	assert.Equal(t, `REFRESH MATERIALIZED VIEW CONCURRENTLY "public"."mv_x"`, RefreshStatement(" public.mv_x "))
	assert.Equal(t, `REFRESH MATERIALIZED VIEW CONCURRENTLY "a""b"`, RefreshStatement(`a"b`))
}

func TestCoordinatorSerializesRefreshes(t *testing.T) {
	locker, mr := newLocker(t)
	refresher := &stubRefresher{gate: make(chan struct{})}
	cache := &stubCache{}
	c := NewCoordinator(refresher, locker, quietLogger()).WithCache(cache)
	ctx := context.Background()

	id, err := c.TriggerRefresh(ctx, "manual")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, mr.Exists(shared.RefreshLockKey))

	_, err = c.TriggerRefresh(ctx, "manual")
	assert.ErrorIs(t, err, shared.ErrLockHeld)
	assert.ErrorIs(t, c.Run(ctx, "cron"), shared.ErrLockHeld)

	close(refresher.gate)
	c.Wait()
	assert.False(t, mr.Exists(shared.RefreshLockKey))
	assert.EqualValues(t, 1, refresher.calls.Load())
	assert.EqualValues(t, 1, cache.calls.Load())
}

func TestCoordinatorRunReleasesLockOnError(t *testing.T) {
	locker, mr := newLocker(t)
	cache := &stubCache{}
	c := NewCoordinator(&stubRefresher{err: errors.New("view locked")}, locker, quietLogger()).WithCache(cache)

	require.Error(t, c.Run(context.Background(), "cli"))
	assert.False(t, mr.Exists(shared.RefreshLockKey))
	assert.Zero(t, cache.calls.Load())
}

func TestCoordinatorEnqueues(t *testing.T) {
	locker, mr := newLocker(t)
	refresher := &stubRefresher{}
	enq := &stubEnqueuer{}
	c := NewCoordinator(refresher, locker, quietLogger()).WithEnqueuer(enq)

	id, err := c.TriggerRefresh(context.Background(), "upload")
	require.NoError(t, err)
	assert.Equal(t, "task-9", id)
	assert.Equal(t, []string{"upload"}, enq.reasons)
	assert.Zero(t, refresher.calls.Load())
	assert.False(t, mr.Exists(shared.RefreshLockKey))
}
