package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Jobs().Track("dashboard:refresh_views").End(nil)
	metrics.Jobs().Skip("dashboard:refresh_views", "locked")

	body := scrape(t, metrics)
	for _, want := range []string{
		`dashboard_jobs_total{job="dashboard:refresh_views",status="success"} 1`,
		`dashboard_jobs_skipped_total{job="dashboard:refresh_views",reason="locked"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %s, got: %s", want, body)
		}
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "dashboard_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "dashboard_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestDomainObservers(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveBackendCall("dashboard_resumo", "ok", 120*time.Millisecond)
	metrics.ObserveBackendCall("dashboard_resumo", "timeout", 30*time.Second)
	metrics.ObserveUploadedRows("corridas", 500)
	metrics.ObserveUploadedRows("corridas", 0)
	metrics.ObserveCacheLookup(true)
	metrics.ObserveCacheLookup(false)
	metrics.ObserveCacheLookup(false)
	_ = metrics.Jobs().Track("dashboard:warm_cache").End(errors.New("backend down"))

	body := scrape(t, metrics)
	for _, want := range []string{
		`dashboard_backend_calls_total{function="dashboard_resumo",outcome="ok"} 1`,
		`dashboard_backend_calls_total{function="dashboard_resumo",outcome="timeout"} 1`,
		`dashboard_backend_call_duration_seconds_count{function="dashboard_resumo"} 2`,
		`dashboard_uploaded_rows_total{kind="corridas"} 500`,
		`dashboard_cache_lookups_total{result="hit"} 1`,
		`dashboard_cache_lookups_total{result="miss"} 2`,
		`dashboard_jobs_failures_total{job="dashboard:warm_cache"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveBackendCall("fn", "ok", time.Second)
	metrics.ObserveUploadedRows("valores", 1)
	metrics.ObserveCacheLookup(true)
	if metrics.Jobs() != nil {
		t.Fatal("expected nil job metrics")
	}
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
