// Package dashboardhttp exposes the dashboard aggregates as a JSON API.
package dashboardhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard/export"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

const axisPadding = 0.1

// Service is the dashboard contract used by the handler.
type Service interface {
	GetResumo(ctx context.Context, f dashboard.Filter) (dashboard.Resumo, error)
	GetUTR(ctx context.Context, f dashboard.Filter) (dashboard.UTR, error)
	ListEntregadores(ctx context.Context, f dashboard.Filter, q dashboard.DriverQuery) ([]dashboard.Entregador, error)
	GetMarketingTotals(ctx context.Context, f dashboard.Filter) (dashboard.MarketingTotals, error)
	ListWeeks(ctx context.Context, ano int) ([]format.Week, error)
	ListYears(ctx context.Context) ([]int, error)
	FilterOptions(ctx context.Context) (dashboard.FilterOptions, error)
	CompareWeeks(ctx context.Context, f dashboard.Filter, weeks []format.Week) (dashboard.WeekComparison, error)
}

// RefreshTrigger schedules a materialized view refresh.
type RefreshTrigger interface {
	TriggerRefresh(ctx context.Context, reason string) (string, error)
}

// Handler serves the dashboard endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	refresh RefreshTrigger
	csvPool sync.Pool
	now     func() time.Time
}

// NewHandler constructs the dashboard HTTP handler. refresh may be nil.
func NewHandler(logger *slog.Logger, service Service, refresh RefreshTrigger) *Handler {
	h := &Handler{logger: logger, service: service, refresh: refresh, now: time.Now}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

func (h *Handler) handleResumo(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.prepare(w, r)
	if !ok {
		return
	}
	res, err := h.service.GetResumo(ctx, f)
	if err != nil {
		h.fail(w, r, "load resumo", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleUTR(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.prepare(w, r)
	if !ok {
		return
	}
	res, err := h.service.GetUTR(ctx, f)
	if err != nil {
		h.fail(w, r, "load utr", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleEntregadores(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.prepare(w, r)
	if !ok {
		return
	}
	q, err := parseDriverQuery(r)
	if err != nil {
		h.fail(w, r, "parse drivers query", err)
		return
	}
	rows, err := h.service.ListEntregadores(ctx, f, q)
	if err != nil {
		h.fail(w, r, "load drivers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entregadores": rows, "total": len(rows)})
}

func (h *Handler) handleEntregadoresCSV(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.prepare(w, r)
	if !ok {
		return
	}
	q, err := parseDriverQuery(r)
	if err != nil {
		h.fail(w, r, "parse drivers query", err)
		return
	}
	rows, err := h.service.ListEntregadores(ctx, f, q)
	if err != nil {
		h.fail(w, r, "load drivers", err)
		return
	}
	h.writeCSV(w, r, "entregadores", func(buf *bytes.Buffer) error {
		return export.WriteEntregadoresCSV(buf, rows)
	})
}

func (h *Handler) handleMarketing(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.prepare(w, r)
	if !ok {
		return
	}
	res, err := h.service.GetMarketingTotals(ctx, f)
	if err != nil {
		h.fail(w, r, "load marketing", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleWeeks(w http.ResponseWriter, r *http.Request) {
	ctx := h.backendContext(r)
	ano, err := optionalInt(r, "ano")
	if err != nil {
		h.fail(w, r, "parse ano", err)
		return
	}
	weeks, err := h.service.ListWeeks(ctx, ano)
	if err != nil {
		h.fail(w, r, "load weeks", err)
		return
	}
	type weekOption struct {
		format.Week
		Value string `json:"value"`
		Label string `json:"label"`
		Start string `json:"inicio"`
		End   string `json:"fim"`
	}
	out := make([]weekOption, 0, len(weeks))
	for _, wk := range weeks {
		out = append(out, weekOption{
			Week:  wk,
			Value: wk.String(),
			Label: wk.Label(),
			Start: wk.Start().Format(time.DateOnly),
			End:   wk.End().Format(time.DateOnly),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"semanas": out})
}

func (h *Handler) handleYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.service.ListYears(h.backendContext(r))
	if err != nil {
		h.fail(w, r, "load years", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"anos": years})
}

func (h *Handler) handleFilters(w http.ResponseWriter, r *http.Request) {
	opts, err := h.service.FilterOptions(h.backendContext(r))
	if err != nil {
		h.fail(w, r, "load filter options", err)
		return
	}
	if p := shared.PrincipalFromContext(r.Context()); p != nil && !p.IsAdmin && len(p.Pracas) > 0 {
		allowed := make([]string, 0, len(opts.Pracas))
		for _, praca := range opts.Pracas {
			if p.CanSeePraca(praca) {
				allowed = append(allowed, praca)
			}
		}
		opts.Pracas = allowed
	}
	httpx.JSON(w, http.StatusOK, opts)
}

type compareResponse struct {
	dashboard.WeekComparison
	Axis map[string]format.AxisRange `json:"axis"`
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	cmp, ok := h.compare(w, r)
	if !ok {
		return
	}
	adherence := make([]float64, 0, len(cmp.Weeks))
	utr := make([]float64, 0, len(cmp.Weeks))
	for _, m := range cmp.Weeks {
		adherence = append(adherence, m.Aderencia)
		utr = append(utr, m.UTR)
	}
	httpx.JSON(w, http.StatusOK, compareResponse{
		WeekComparison: cmp,
		Axis: map[string]format.AxisRange{
			"aderencia": format.PaddedAxis(adherence, axisPadding),
			"utr":       format.PaddedAxis(utr, axisPadding),
		},
	})
}

func (h *Handler) handleCompareCSV(w http.ResponseWriter, r *http.Request) {
	cmp, ok := h.compare(w, r)
	if !ok {
		return
	}
	h.writeCSV(w, r, "comparacao-semanas", func(buf *bytes.Buffer) error {
		return export.WriteComparisonCSV(buf, cmp)
	})
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) (dashboard.WeekComparison, bool) {
	ctx, f, ok := h.prepare(w, r)
	if !ok {
		return dashboard.WeekComparison{}, false
	}
	weeks, err := parseWeeks(r.URL.Query().Get("semanas"), f.Ano, h.now())
	if err != nil {
		h.fail(w, r, "parse weeks", err)
		return dashboard.WeekComparison{}, false
	}
	cmp, err := h.service.CompareWeeks(ctx, f, weeks)
	if err != nil {
		h.fail(w, r, "compare weeks", err)
		return dashboard.WeekComparison{}, false
	}
	return cmp, true
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresh == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "refresh is not configured")
		return
	}
	id, err := h.refresh.TriggerRefresh(r.Context(), "manual")
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "a refresh is already running")
			return
		}
		h.fail(w, r, "trigger refresh", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
}

// prepare parses the filter, enforces the caller's praça scope and attaches
// the caller's backend token.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (context.Context, dashboard.Filter, bool) {
	f, err := parseFilter(r, h.now())
	if err != nil {
		h.fail(w, r, "parse filter", err)
		return nil, dashboard.Filter{}, false
	}
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		if f.Praca == "" && !p.IsAdmin {
			switch len(p.Pracas) {
			case 0:
			case 1:
				f.Praca = p.Pracas[0]
			default:
				f.Pracas = append([]string(nil), p.Pracas...)
			}
			f = f.Normalize()
		}
		if !p.CanSeePraca(f.Praca) {
			httpx.RespondError(w, fmt.Errorf("%w: praça %s", httpx.ErrForbidden, f.Praca))
			return nil, dashboard.Filter{}, false
		}
	}
	return h.backendContext(r), f, true
}

// backendContext attaches the caller's token and cache scope.
func (h *Handler) backendContext(r *http.Request) context.Context {
	ctx := r.Context()
	p := shared.PrincipalFromContext(ctx)
	if p == nil || p.Machine {
		return ctx
	}
	ctx = backend.ContextWithAccessToken(ctx, p.AccessToken)
	switch {
	case p.IsAdmin:
		return dashboard.ContextWithScope(ctx, dashboard.ScopeAll)
	case len(p.Pracas) > 0:
		return dashboard.ContextWithScope(ctx, dashboard.PracaScope(p.Pracas))
	default:
		return dashboard.ContextWithScope(ctx, "user:"+p.UserID)
	}
}

func (h *Handler) writeCSV(w http.ResponseWriter, r *http.Request, name string, write func(*bytes.Buffer) error) {
	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()
	if err := write(buf); err != nil {
		h.fail(w, r, "write csv", err)
		return
	}
	filename := fmt.Sprintf("%s-%s.csv", name, h.now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("stream csv", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, errBadQuery),
		errors.Is(err, dashboard.ErrInvalidFilter),
		errors.Is(err, dashboard.ErrInvalidComparison),
		errors.Is(err, format.ErrInvalidWeek):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		return
	}
	if backend.IsTimeout(err) {
		h.logger.Warn("dashboard backend timeout", slog.String("op", op))
	} else if !backend.IsNotFound(err) && !backend.IsBadRequest(err) {
		h.logger.Error("dashboard request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

var errBadQuery = errors.New("invalid query parameter")

// parseFilter reads the filter query. A bare semana without ano falls in the
// current year, as in parseWeeks.
func parseFilter(r *http.Request, now time.Time) (dashboard.Filter, error) {
	q := r.URL.Query()
	ano, err := optionalInt(r, "ano")
	if err != nil {
		return dashboard.Filter{}, err
	}
	f := dashboard.Filter{
		Ano:         ano,
		Praca:       q.Get("praca"),
		SubPraca:    q.Get("sub_praca"),
		Origem:      q.Get("origem"),
		Turno:       q.Get("turno"),
		DataInicial: q.Get("data_inicial"),
		DataFinal:   q.Get("data_final"),
	}
	if raw := strings.TrimSpace(q.Get("semana")); raw != "" {
		year := ano
		if year == 0 {
			year = format.WeekOf(now).Year
		}
		wk, err := format.ParseWeek(raw, year)
		if err != nil {
			return dashboard.Filter{}, err
		}
		f = f.WithWeek(wk)
	}
	return f.Normalize(), nil
}

func parseDriverQuery(r *http.Request) (dashboard.DriverQuery, error) {
	limit, err := optionalInt(r, "limite")
	if err != nil {
		return dashboard.DriverQuery{}, err
	}
	return dashboard.DriverQuery{Termo: r.URL.Query().Get("termo"), Limite: limit}, nil
}

// parseWeeks reads a comma separated week list. Bare numbers use ano, or the
// current year when ano is zero.
func parseWeeks(raw string, ano int, now time.Time) ([]format.Week, error) {
	if ano == 0 {
		ano = format.WeekOf(now).Year
	}
	var weeks []format.Week
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		wk, err := format.ParseWeek(part, ano)
		if err != nil {
			return nil, err
		}
		weeks = append(weeks, wk)
	}
	if len(weeks) == 0 {
		return nil, fmt.Errorf("%w: semanas", errBadQuery)
	}
	return weeks, nil
}

func optionalInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", errBadQuery, key)
	}
	return v, nil
}
