package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

var corridasHeader = []any{
	"Data do Período", "Praça", "ID da Pessoa Entregadora", "Pessoa Entregadora",
	"Tempo Disponível Escalado", "Número de Corridas Ofertadas", "Coluna Extra",
}

func buildXLSX(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func corridasWorkbook(t *testing.T, n int) []byte {
	t.Helper()
	rows := [][]any{corridasHeader}
	for i := 0; i < n; i++ {
		rows = append(rows, []any{"2024-01-08", "SP", fmt.Sprintf("E%04d", i), "Entregador", "1.5", i, "x"})
	}
	return buildXLSX(t, rows...)
}

type fakeInserter struct {
	mu     sync.Mutex
	sizes  []int
	tables []string
	failAt int
}

func (f *fakeInserter) Insert(_ context.Context, table string, rows any, _ ...backend.CallOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.sizes)+1 == f.failAt {
		return errors.New("insert rejected")
	}
	f.sizes = append(f.sizes, len(rows.([]Row)))
	f.tables = append(f.tables, table)
	return nil
}

type countingObserver struct{ rows map[string]int }

func (c *countingObserver) ObserveUploadedRows(kind string, n int) {
	if c.rows == nil {
		c.rows = map[string]int{}
	}
	c.rows[kind] += n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Data do Período":                 "data_do_periodo",
		"  Número de Corridas Ofertadas ": "numero_de_corridas_ofertadas",
		"PRAÇA":                           "praca",
		"sub-praça":                       "sub_praca",
		"id_da_pessoa_entregadora":        "id_da_pessoa_entregadora",
		"  ":                              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestMappingFor(t *testing.T) {
	m, err := MappingFor("Corridas")
	require.NoError(t, err)
	assert.Equal(t, "dados_corridas", m.Table)

	m, err = MappingFor(KindValores)
	require.NoError(t, err)
	assert.Equal(t, "dados_valores_cidade", m.Table)

	_, err = MappingFor("pedidos")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestConvert(t *testing.T) {
	cases := []struct {
		raw  string
		typ  ColumnType
		want any
	}{
		{"12", TypeInt, int64(12)},
		{"12.0", TypeInt, int64(12)},
		{"1.234,56", TypeDecimal, 1234.56},
		{"1,234.56", TypeDecimal, 1234.56},
		{"R$ 10,5", TypeDecimal, 10.5},
		{"2024-01-08", TypeDate, "2024-01-08"},
		{"08/01/2024", TypeDate, "2024-01-08"},
		{"45299", TypeDate, "2024-01-08"},
		{"1.5", TypeDuration, "01:30:00"},
		{"0.5", TypeDuration, "12:00:00"},
		{"8:30", TypeDuration, "08:30:00"},
		{"26:00:05", TypeDuration, "26:00:05"},
		{" texto ", TypeText, "texto"},
		{"", TypeInt, nil},
	}
	for _, tc := range cases {
		got, err := Convert(tc.raw, tc.typ)
		require.NoError(t, err, tc.raw)
		if f, ok := tc.want.(float64); ok {
			assert.InDelta(t, f, got, 1e-9, tc.raw)
			continue
		}
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, bad := range []struct {
		raw string
		typ ColumnType
	}{
		{"1.5", TypeInt},
		{"abc", TypeDecimal},
		{"31/02/2024x", TypeDate},
		{"1:75", TypeDuration},
		{"-2", TypeDuration},
	} {
		_, err := Convert(bad.raw, bad.typ)
		assert.ErrorIs(t, err, ErrInvalidValue, bad.raw)
	}
}

func TestDetectFormat(t *testing.T) {
	content := corridasWorkbook(t, 1)

	f, err := DetectFormat("base.XLSX", content, Limits{})
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = DetectFormat("base.csv", content, Limits{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = DetectFormat("base.xls", content, Limits{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = DetectFormat("base.xlsx", []byte("id,praca\n1,SP\n"), Limits{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = DetectFormat("base.xlsx", content, Limits{MaxBytes: 10})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = DetectFormat("base.xlsx", nil, Limits{})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestPrepareMapsRows(t *testing.T) {
	p := NewPipeline(&fakeInserter{}, Limits{}, quietLogger())
	job, err := p.Prepare(KindCorridas, "semana.xlsx", corridasWorkbook(t, 2))
	require.NoError(t, err)

	assert.Equal(t, "dados_corridas", job.Table)
	require.Len(t, job.Rows, 2)
	row := job.Rows[1]
	assert.Equal(t, "2024-01-08", row["data_do_periodo"])
	assert.Equal(t, "SP", row["praca"])
	assert.Equal(t, "E0001", row["id_da_pessoa_entregadora"])
	assert.Equal(t, "01:30:00", row["tempo_disponivel_escalado"])
	assert.Equal(t, int64(1), row["numero_de_corridas_ofertadas"])
	assert.NotContains(t, row, "coluna_extra")
}

func TestPrepareRejectsBeforeInsert(t *testing.T) {
	inserter := &fakeInserter{}
	p := NewPipeline(inserter, Limits{MaxRows: 2}, quietLogger())

	_, err := p.Prepare(KindCorridas, "semana.xlsx", corridasWorkbook(t, 3))
	assert.ErrorIs(t, err, ErrTooManyRows)

	missing := buildXLSX(t, []any{"Praça", "Pessoa Entregadora"}, []any{"SP", "Ana"})
	_, err = p.Prepare(KindCorridas, "semana.xlsx", missing)
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "data_do_periodo")
	assert.Contains(t, err.Error(), "id_da_pessoa_entregadora")

	invalid := buildXLSX(t, corridasHeader,
		[]any{"2024-01-08", "SP", "E1", "Ana", "1", 3, ""},
		[]any{"ontem", "SP", "E2", "Bia", "1", "muitas", ""},
	)
	_, err = p.Prepare(KindCorridas, "semana.xlsx", invalid)
	var rowErrs *RowErrors
	require.ErrorAs(t, err, &rowErrs)
	assert.ErrorIs(t, err, ErrInvalidRows)
	assert.Equal(t, 2, rowErrs.Total)
	assert.Equal(t, 3, rowErrs.Errors[0].Row)
	assert.Equal(t, "data_do_periodo", rowErrs.Errors[0].Column)

	headerOnly := buildXLSX(t, corridasHeader)
	_, err = p.Prepare(KindCorridas, "semana.xlsx", headerOnly)
	assert.ErrorIs(t, err, ErrEmptyFile)

	assert.Empty(t, inserter.sizes)
}

func TestParseWorkbookXLS(t *testing.T) {
	content, err := os.ReadFile(filepath.Join("testdata", "corridas.xls"))
	require.NoError(t, err)

	f, err := DetectFormat("corridas.xls", content, Limits{})
	require.NoError(t, err)
	assert.Equal(t, FormatXLS, f)

	sheet, err := ParseWorkbook(content, FormatXLS, 0)
	require.NoError(t, err)
	assert.Equal(t, "Data do Período", sheet.Headers[0])
	assert.Equal(t, "Número de Corridas Ofertadas", sheet.Headers[5])
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, []string{"2024-01-08", "SP", "E0001", "Ana", "1.5", "3"}, sheet.Rows[0])
	assert.Equal(t, "E0003", sheet.Rows[2][2])
	assert.Equal(t, []int{2, 5, 6}, sheet.Lines)

	_, err = ParseWorkbook(content, FormatXLS, 2)
	assert.ErrorIs(t, err, ErrTooManyRows)

	p := NewPipeline(&fakeInserter{}, Limits{}, quietLogger())
	job, err := p.Prepare(KindCorridas, "corridas.xls", content)
	require.NoError(t, err)
	require.Len(t, job.Rows, 3)
	assert.Equal(t, "RJ", job.Rows[2]["praca"])
	assert.Equal(t, "01:30:00", job.Rows[0]["tempo_disponivel_escalado"])
}

func TestRowErrorsReportWorksheetLine(t *testing.T) {
	content := buildXLSX(t, corridasHeader,
		[]any{"2024-01-08", "SP", "E1", "Ana", "1", 3, ""},
		[]any{"", "", "", "", "", "", ""},
		[]any{"", "", "", "", "", "", ""},
		[]any{"ontem", "SP", "E2", "Bia", "1", 2, ""},
	)
	p := NewPipeline(&fakeInserter{}, Limits{}, quietLogger())
	_, err := p.Prepare(KindCorridas, "semana.xlsx", content)
	var rowErrs *RowErrors
	require.ErrorAs(t, err, &rowErrs)
	require.Equal(t, 1, rowErrs.Total)
	assert.Equal(t, 5, rowErrs.Errors[0].Row)

	sheet := &Sheet{Headers: []string{"Praça"}, Rows: [][]string{{"SP"}}}
	assert.Equal(t, 2, sheet.Line(0))
}

func TestRunInsertsInBatches(t *testing.T) {
	inserter := &fakeInserter{}
	obs := &countingObserver{}
	p := NewPipeline(inserter, Limits{BatchSize: 500}, quietLogger()).WithObserver(obs)
	job, err := p.Prepare(KindCorridas, "semana.xlsx", corridasWorkbook(t, 1201))
	require.NoError(t, err)
	assert.Equal(t, 3, job.Batches(500))

	var seen []BatchProgress
	final, err := p.Run(context.Background(), job, func(bp BatchProgress) { seen = append(seen, bp) })
	require.NoError(t, err)

	assert.Equal(t, []int{500, 500, 201}, inserter.sizes)
	assert.Equal(t, []BatchProgress{
		{Batch: 1, Batches: 3, Inserted: 500, Total: 1201},
		{Batch: 2, Batches: 3, Inserted: 1000, Total: 1201},
		{Batch: 3, Batches: 3, Inserted: 1201, Total: 1201},
	}, seen)
	assert.Equal(t, seen[2], final)
	assert.Equal(t, 1201, obs.rows["corridas"])
}

func TestRunStopsOnFailedBatch(t *testing.T) {
	inserter := &fakeInserter{failAt: 2}
	p := NewPipeline(inserter, Limits{BatchSize: 500}, quietLogger())
	job, err := p.Prepare(KindCorridas, "semana.xlsx", corridasWorkbook(t, 1201))
	require.NoError(t, err)

	final, err := p.Run(context.Background(), job, nil)
	require.ErrorIs(t, err, ErrBatchFailed)
	assert.Contains(t, err.Error(), "2/3")
	assert.Equal(t, []int{500}, inserter.sizes)
	assert.Equal(t, 500, final.Inserted)
	assert.Equal(t, 1, final.Batch)
}

func TestPipelineAgainstBackend(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []gjson.Result
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/dados_valores_cidade", r.URL.Path)
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, gjson.ParseBytes(raw))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	client, err := backend.New(backend.Config{URL: srv.URL, AnonKey: "anon", ServiceKey: "service"})
	require.NoError(t, err)

	content := buildXLSX(t,
		[]any{"Data", "Cidade", "Valor"},
		[]any{"2024-01-08", "SP", "1.234,50"},
		[]any{"2024-01-09", "RJ", "10"},
		[]any{"2024-01-10", "BH", "2,5"},
	)
	p := NewPipeline(client.Service(), Limits{BatchSize: 2}, quietLogger())
	job, err := p.Prepare(KindValores, "valores.xlsx", content)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), job, nil)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "SP", bodies[0].Get("0.praca").String())
	assert.InDelta(t, 1234.5, bodies[0].Get("0.valor").Float(), 1e-9)
	assert.Equal(t, "2024-01-10", bodies[1].Get("0.data").String())
}

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) Invalidate(context.Context) error {
	f.calls++
	return nil
}

type fakeRefresh struct{ reasons []string }

func (f *fakeRefresh) TriggerRefresh(_ context.Context, reason string) (string, error) {
	f.reasons = append(f.reasons, reason)
	return "r1", shared.ErrLockHeld
}

func newTestService(t *testing.T, inserter Inserter) (*Service, *fakeInvalidator, *fakeRefresh) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inv, ref := &fakeInvalidator{}, &fakeRefresh{}
	svc := NewService(NewPipeline(inserter, Limits{BatchSize: 10}, quietLogger()), NewProgressStore(client, time.Hour), inv, ref, quietLogger())
	return svc, inv, ref
}

func TestServiceCompletesAndInvalidates(t *testing.T) {
	svc, inv, ref := newTestService(t, &fakeInserter{})
	ctx := context.Background()

	started, err := svc.Start(ctx, KindCorridas, "semana.xlsx", corridasWorkbook(t, 25), "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, started.Status)
	assert.Equal(t, 3, started.Batches)
	assert.Equal(t, 25, started.Total)

	svc.Wait()
	got, err := svc.Get(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 25, got.Inserted)
	assert.Equal(t, 3, got.Batch)
	assert.InDelta(t, 100, got.Percent(), 1e-9)
	assert.True(t, got.Done())
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, []string{"upload"}, ref.reasons)
}

func TestServiceRecordsFailure(t *testing.T) {
	svc, inv, ref := newTestService(t, &fakeInserter{failAt: 1})
	ctx := context.Background()

	started, err := svc.Start(ctx, KindCorridas, "semana.xlsx", corridasWorkbook(t, 5), "u1")
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "insert rejected")
	assert.Zero(t, got.Inserted)
	assert.Zero(t, inv.calls)
	assert.Empty(t, ref.reasons)

	_, err = svc.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrUploadNotFound)
}
