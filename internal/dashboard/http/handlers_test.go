package dashboardhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

type fakeService struct {
	lastFilter dashboard.Filter
	lastToken  string
	lastScope  string
	lastWeeks  []format.Week
	err        error
}

func (f *fakeService) GetResumo(ctx context.Context, flt dashboard.Filter) (dashboard.Resumo, error) {
	f.lastFilter = flt
	f.lastToken = backend.AccessTokenFromContext(ctx)
	f.lastScope = dashboard.ScopeFromContext(ctx)
	if f.err != nil {
		return dashboard.Resumo{}, f.err
	}
	return dashboard.Resumo{Totais: dashboard.Totals{Completadas: 42}}, nil
}

func (f *fakeService) GetUTR(ctx context.Context, flt dashboard.Filter) (dashboard.UTR, error) {
	return dashboard.UTR{Geral: dashboard.UTRSegment{UTR: 1.5}}, f.err
}

func (f *fakeService) ListEntregadores(ctx context.Context, flt dashboard.Filter, q dashboard.DriverQuery) ([]dashboard.Entregador, error) {
	return []dashboard.Entregador{{ID: "1", Nome: "Ana"}}, f.err
}

func (f *fakeService) GetMarketingTotals(ctx context.Context, flt dashboard.Filter) (dashboard.MarketingTotals, error) {
	return dashboard.MarketingTotals{Criado: 3}, f.err
}

func (f *fakeService) ListWeeks(ctx context.Context, ano int) ([]format.Week, error) {
	return []format.Week{{Year: 2024, Number: 2}}, f.err
}

func (f *fakeService) ListYears(ctx context.Context) ([]int, error) {
	return []int{2024}, f.err
}

func (f *fakeService) FilterOptions(ctx context.Context) (dashboard.FilterOptions, error) {
	return dashboard.FilterOptions{Pracas: []string{"RJ", "SP"}}, f.err
}

func (f *fakeService) CompareWeeks(ctx context.Context, flt dashboard.Filter, weeks []format.Week) (dashboard.WeekComparison, error) {
	f.lastWeeks = weeks
	if f.err != nil {
		return dashboard.WeekComparison{}, f.err
	}
	out := dashboard.WeekComparison{}
	for i, w := range weeks {
		out.Weeks = append(out.Weeks, dashboard.WeekMetrics{Week: w, Aderencia: float64(80 + i*10), UTR: 1})
	}
	return out, nil
}

type fakeRefresh struct {
	err   error
	calls int
}

func (f *fakeRefresh) TriggerRefresh(ctx context.Context, reason string) (string, error) {
	f.calls++
	return "task-1", f.err
}

func newTestRouter(svc Service, refresh RefreshTrigger, p *shared.Principal) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, refresh)
	h.WithNow(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) })
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/dashboard", h.MountRoutes)
	return r
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

var user = &shared.Principal{UserID: "u1", AccessToken: "user-token"}

func TestResumoParsesFilterAndForwardsToken(t *testing.T) {
	svc := &fakeService{}
	rec := get(t, newTestRouter(svc, nil, user), "/api/dashboard/resumo?ano=2024&semana=S05&praca=SP&turno=Noite")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, dashboard.Filter{Ano: 2024, Semana: 5, Praca: "SP", Turno: "Noite"}, svc.lastFilter)
	assert.Equal(t, "user-token", svc.lastToken)
	var body dashboard.Resumo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 42, body.Totais.Completadas)
}

func TestDashboardRequiresPrincipal(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{}, nil, nil), "/api/dashboard/resumo")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPracaScope(t *testing.T) {
	svc := &fakeService{}
	restricted := &shared.Principal{UserID: "u2", Pracas: []string{"SP"}}
	router := newTestRouter(svc, nil, restricted)

	rec := get(t, router, "/api/dashboard/resumo?praca=RJ")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(t, router, "/api/dashboard/resumo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SP", svc.lastFilter.Praca)

	rec = get(t, router, "/api/dashboard/filters")
	require.Equal(t, http.StatusOK, rec.Code)
	var opts dashboard.FilterOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, []string{"SP"}, opts.Pracas)
}

func TestCacheScopeFollowsPrincipal(t *testing.T) {
	svc := &fakeService{}
	multi := &shared.Principal{UserID: "u3", AccessToken: "t3", Pracas: []string{"SP", "RJ"}}
	rec := get(t, newTestRouter(svc, nil, multi), "/api/dashboard/resumo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.lastFilter.Praca)
	assert.Equal(t, []string{"RJ", "SP"}, svc.lastFilter.Pracas)
	assert.Equal(t, "pracas:RJ|SP", svc.lastScope)

	admin := &shared.Principal{UserID: "root", AccessToken: "t0", IsAdmin: true}
	rec = get(t, newTestRouter(svc, nil, admin), "/api/dashboard/resumo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.lastFilter.Pracas)
	assert.Equal(t, dashboard.ScopeAll, svc.lastScope)

	rec = get(t, newTestRouter(svc, nil, user), "/api/dashboard/resumo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user:u1", svc.lastScope)
}

func TestIngestTokenCannotReadDashboard(t *testing.T) {
	machine := &shared.Principal{UserID: "ingest", Machine: true}
	router := newTestRouter(&fakeService{}, nil, machine)
	for _, target := range []string{
		"/api/dashboard/resumo",
		"/api/dashboard/filters",
		"/api/dashboard/entregadores.csv",
		"/api/dashboard/compare.csv?semanas=1,2",
	} {
		rec := get(t, router, target)
		assert.Equal(t, http.StatusForbidden, rec.Code, target)
	}
}

func TestBareSemanaUsesCurrentYear(t *testing.T) {
	svc := &fakeService{}
	rec := get(t, newTestRouter(svc, nil, user), "/api/dashboard/resumo?semana=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2024, svc.lastFilter.Ano)
	assert.Equal(t, 5, svc.lastFilter.Semana)
}

func TestCanceledLoadOnLiveRequestIsReported(t *testing.T) {
	svc := &fakeService{err: context.Canceled}
	rec := get(t, newTestRouter(svc, nil, user), "/api/dashboard/resumo")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestInvalidQueryIsBadRequest(t *testing.T) {
	router := newTestRouter(&fakeService{}, nil, user)
	for _, target := range []string{
		"/api/dashboard/resumo?ano=abc",
		"/api/dashboard/resumo?semana=W99",
		"/api/dashboard/compare",
	} {
		rec := get(t, router, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestBackendErrorsMapToProblems(t *testing.T) {
	svc := &fakeService{err: backend.Sanitize(context.DeadlineExceeded)}
	rec := get(t, newTestRouter(svc, nil, user), "/api/dashboard/resumo")
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"TIMEOUT"`)
	assert.Contains(t, rec.Body.String(), `"retryable":true`)

	svc.err = dashboard.ErrInvalidComparison
	rec = get(t, newTestRouter(svc, nil, user), "/api/dashboard/compare?semanas=1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompareUsesCurrentYearAndPadsAxis(t *testing.T) {
	svc := &fakeService{}
	rec := get(t, newTestRouter(svc, nil, user), "/api/dashboard/compare?semanas=5,%202024-W06")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []format.Week{{Year: 2024, Number: 5}, {Year: 2024, Number: 6}}, svc.lastWeeks)

	var body struct {
		Weeks []dashboard.WeekMetrics     `json:"weeks"`
		Axis  map[string]format.AxisRange `json:"axis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Weeks, 2)
	assert.InDelta(t, 79, body.Axis["aderencia"].Min, 0.001)
	assert.InDelta(t, 91, body.Axis["aderencia"].Max, 0.001)
}

func TestCSVExports(t *testing.T) {
	router := newTestRouter(&fakeService{}, nil, user)
	rec := get(t, router, "/api/dashboard/compare.csv?ano=2024&semanas=1,2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "comparacao-semanas-20240301.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Semana,"))

	rec = get(t, router, "/api/dashboard/entregadores.csv?termo=ana")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ana")
}

func TestWeeksIncludesRange(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{}, nil, user), "/api/dashboard/weeks?ano=2024")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"value":"2024-W02"`)
	assert.Contains(t, body, `"label":"Semana 02"`)
	assert.Contains(t, body, `"inicio":"2024-01-08"`)
	assert.Contains(t, body, `"fim":"2024-01-14"`)
}

func TestRefreshRequiresAdmin(t *testing.T) {
	refresh := &fakeRefresh{}
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}, refresh, user).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, refresh.calls)

	admin := &shared.Principal{UserID: "root", IsAdmin: true}
	rec = httptest.NewRecorder()
	newTestRouter(&fakeService{}, refresh, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "task-1")

	refresh.err = shared.ErrLockHeld
	rec = httptest.NewRecorder()
	newTestRouter(&fakeService{}, refresh, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
