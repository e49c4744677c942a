package uploadhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload"
)

type nopInserter struct{}

func (nopInserter) Insert(context.Context, string, any, ...backend.CallOption) error { return nil }

type fixture struct {
	router http.Handler
	svc    *upload.Service
}

func newFixture(t *testing.T, p *shared.Principal) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := upload.NewService(
		upload.NewPipeline(nopInserter{}, upload.Limits{}, logger),
		upload.NewProgressStore(client, time.Hour),
		nil, nil, logger,
	)
	h := NewHandler(logger, svc, shared.NewIdempotencyStore(client, time.Hour), shared.NewAuditLogger(logger))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/uploads", h.MountRoutes)
	return fixture{router: r, svc: svc}
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"Data", "Praça", "Valor"},
		{"2024-01-08", "SP", 10.5},
		{"2024-01-09", "RJ", 3},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var user = &shared.Principal{UserID: "u1"}

func TestUploadAcceptedAndStatus(t *testing.T) {
	fx := newFixture(t, user)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, multipartRequest(t, "/api/uploads/valores", "valores.xlsx", workbook(t)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started upload.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "/api/uploads/"+started.ID, rec.Header().Get("Location"))
	assert.Equal(t, "dados_valores_cidade", started.Table)
	assert.Equal(t, 2, started.Total)
	fx.svc.Wait()

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/"+started.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		upload.Progress
		Percent float64 `json:"percent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, upload.StatusCompleted, status.Status)
	assert.Equal(t, 2, status.Inserted)
	assert.InDelta(t, 100, status.Percent, 1e-9)
}

func TestUploadIdempotencyReplays(t *testing.T) {
	fx := newFixture(t, user)
	content := workbook(t)

	first := multipartRequest(t, "/api/uploads/valores", "valores.xlsx", content)
	first.Header.Set(shared.IdempotencyHeader, "abc")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, first)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started upload.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	fx.svc.Wait()

	again := multipartRequest(t, "/api/uploads/valores", "valores.xlsx", content)
	again.Header.Set(shared.IdempotencyHeader, "abc")
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, again)
	require.Equal(t, http.StatusOK, rec.Code)
	var replayed upload.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	assert.Equal(t, started.ID, replayed.ID)
}

func TestUploadRejections(t *testing.T) {
	fx := newFixture(t, user)
	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unknown kind", multipartRequest(t, "/api/uploads/pedidos", "x.xlsx", workbook(t)), http.StatusBadRequest},
		{"missing file", multipartRequest(t, "/api/uploads/valores", "", nil), http.StatusBadRequest},
		{"wrong type", multipartRequest(t, "/api/uploads/valores", "x.csv", []byte("a,b\n1,2\n")), http.StatusUnsupportedMediaType},
		{"missing column", multipartRequest(t, "/api/uploads/corridas", "x.xlsx", workbook(t)), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fx.router.ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/7d3c2b1a-0000-4000-8000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRequiresPrincipal(t *testing.T) {
	fx := newFixture(t, nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, multipartRequest(t, "/api/uploads/valores", "valores.xlsx", workbook(t)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMachineUploadAllowed(t *testing.T) {
	fx := newFixture(t, &shared.Principal{Machine: true})
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, multipartRequest(t, "/api/uploads/valores", "valores.xlsx", workbook(t)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started upload.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "ingest", started.ActorID)
	fx.svc.Wait()
}
