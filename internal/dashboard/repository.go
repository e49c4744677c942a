package dashboard

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

// Backend function and relation names.
const (
	FnResumo        = "dashboard_resumo"
	FnUTR           = "calcular_utr"
	FnEntregadores  = "pesquisar_entregadores"
	FnMarketing     = "get_marketing_totals"
	FnWeeks         = "listar_todas_semanas"
	FnYears         = "listar_anos_disponiveis"
	FnFilterOptions = "get_filter_options"

	WeeksView = "mv_aderencia_semanal"
)

// Repository loads raw aggregates.
type Repository interface {
	Resumo(ctx context.Context, f Filter) (Resumo, error)
	UTR(ctx context.Context, f Filter) (UTR, error)
	Entregadores(ctx context.Context, f Filter, q DriverQuery) ([]Entregador, error)
	MarketingTotals(ctx context.Context, f Filter) (MarketingTotals, error)
	Weeks(ctx context.Context, ano int) ([]format.Week, error)
	Years(ctx context.Context) ([]int, error)
	FilterOptions(ctx context.Context) (FilterOptions, error)
}

// DriverSource reads drivers without going through the backend functions.
type DriverSource interface {
	Entregadores(ctx context.Context, f Filter, q DriverQuery) ([]Entregador, error)
}

// RPCRepository maps backend function results into dashboard types.
type RPCRepository struct {
	client  *backend.Client
	drivers DriverSource
}

// NewRPCRepository builds the backend repository. drivers may be nil.
func NewRPCRepository(client *backend.Client, drivers DriverSource) *RPCRepository {
	return &RPCRepository{client: client, drivers: drivers}
}

// Resumo calls dashboard_resumo.
func (r *RPCRepository) Resumo(ctx context.Context, f Filter) (Resumo, error) {
	payload, err := r.client.Call(ctx, FnResumo, f.Params())
	if err != nil {
		return Resumo{}, err
	}
	return parseResumo(payload), nil
}

// UTR calls calcular_utr.
func (r *RPCRepository) UTR(ctx context.Context, f Filter) (UTR, error) {
	payload, err := r.client.Call(ctx, FnUTR, f.Params())
	if err != nil {
		return UTR{}, err
	}
	return parseUTR(payload), nil
}

// Entregadores calls pesquisar_entregadores, falling back to the direct
// driver source when the function is missing.
func (r *RPCRepository) Entregadores(ctx context.Context, f Filter, q DriverQuery) ([]Entregador, error) {
	params := f.Params()
	if q.Termo != "" {
		params["p_termo"] = q.Termo
	}
	params["p_limite"] = q.Limite

	var fallback backend.FallbackFunc
	if r.drivers != nil {
		fallback = func(ctx context.Context) ([]byte, error) {
			rows, err := r.drivers.Entregadores(ctx, f, q)
			if err != nil {
				return nil, err
			}
			return json.Marshal(rows)
		}
	}
	payload, err := r.client.CallWithFallback(ctx, FnEntregadores, params, fallback)
	if err != nil {
		return nil, err
	}
	return parseEntregadores(payload), nil
}

// MarketingTotals calls get_marketing_totals.
func (r *RPCRepository) MarketingTotals(ctx context.Context, f Filter) (MarketingTotals, error) {
	params := map[string]any{}
	setText(params, "p_data_inicial", f.DataInicial)
	setText(params, "p_data_final", f.DataFinal)
	setText(params, "p_praca", f.Praca)
	payload, err := r.client.Call(ctx, FnMarketing, params)
	if err != nil {
		return MarketingTotals{}, err
	}
	return parseMarketing(payload), nil
}

// Weeks lists weeks with data, newest first. The weekly adherence view is
// read directly when the listing function is missing.
func (r *RPCRepository) Weeks(ctx context.Context, ano int) ([]format.Week, error) {
	params := map[string]any{}
	if ano > 0 {
		params["p_ano"] = ano
	}
	payload, err := r.client.CallWithFallback(ctx, FnWeeks, params, func(ctx context.Context) ([]byte, error) {
		q := r.client.From(WeeksView).Select("ano,semana").Order("ano", true).Order("semana", true)
		if ano > 0 {
			q = q.Eq("ano", ano)
		}
		return q.Execute(ctx)
	})
	if err != nil {
		return nil, err
	}
	return parseWeeks(payload, ano), nil
}

// Years lists years with data, newest first.
func (r *RPCRepository) Years(ctx context.Context) ([]int, error) {
	payload, err := r.client.Call(ctx, FnYears, nil)
	if err != nil {
		return nil, err
	}
	seen := map[int]struct{}{}
	var years []int
	for _, row := range backend.Rows(payload, "anos") {
		y := int(firstOf(row, "ano", "year").Int())
		if !row.IsObject() {
			y = int(row.Int())
		}
		if y <= 0 {
			continue
		}
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years, nil
}

// FilterOptions calls get_filter_options.
func (r *RPCRepository) FilterOptions(ctx context.Context) (FilterOptions, error) {
	payload, err := r.client.Call(ctx, FnFilterOptions, nil)
	if err != nil {
		return FilterOptions{}, err
	}
	res := backend.Unwrap(payload)
	return FilterOptions{
		Pracas:    stringList(firstOf(res, "pracas", "praca")),
		SubPracas: stringList(firstOf(res, "sub_pracas", "sub_praca")),
		Origens:   stringList(firstOf(res, "origens", "origem")),
		Turnos:    stringList(firstOf(res, "turnos", "turno")),
	}, nil
}

func parseResumo(payload []byte) Resumo {
	res := backend.Unwrap(payload)
	totals := firstOf(res, "totais", "totals")
	if !totals.Exists() {
		totals = res
	}
	out := Resumo{
		Totais: Totals{
			Ofertadas:   firstOf(totals, "corridas_ofertadas", "ofertadas").Int(),
			Aceitas:     firstOf(totals, "corridas_aceitas", "aceitas").Int(),
			Rejeitadas:  firstOf(totals, "corridas_rejeitadas", "rejeitadas").Int(),
			Completadas: firstOf(totals, "corridas_completadas", "completadas").Int(),
		},
		Semanal:  adherenceRows(firstOf(res, "semanal", "aderencia_semanal"), weekLabel),
		Dia:      adherenceRows(firstOf(res, "dia", "aderencia_dia"), labelFrom("dia_da_semana", "dia", "data")),
		Turno:    adherenceRows(firstOf(res, "turno", "aderencia_turno"), labelFrom("turno", "periodo")),
		SubPraca: adherenceRows(firstOf(res, "sub_praca", "aderencia_sub_praca"), labelFrom("sub_praca")),
		Origem:   adherenceRows(firstOf(res, "origem", "aderencia_origem"), labelFrom("origem")),
	}
	if geral := firstOf(res, "geral", "aderencia_geral"); geral.IsObject() {
		out.Geral = adherenceRow(geral, "Geral")
	} else {
		out.Geral = combineAdherence(out.Semanal)
	}
	return out
}

func weekLabel(r gjson.Result) string {
	raw := firstOf(r, "semana", "semana_iso", "label").String()
	w, err := format.ParseWeek(raw, int(r.Get("ano").Int()))
	if err != nil {
		return raw
	}
	return w.Label()
}

func labelFrom(keys ...string) func(gjson.Result) string {
	return func(r gjson.Result) string {
		return firstOf(r, keys...).String()
	}
}

func adherenceRows(arr gjson.Result, label func(gjson.Result) string) []AdherenceRow {
	rows := make([]AdherenceRow, 0)
	for _, r := range arr.Array() {
		rows = append(rows, adherenceRow(r, label(r)))
	}
	return rows
}

func adherenceRow(r gjson.Result, label string) AdherenceRow {
	planned := hoursOrSeconds(r, "horas_a_entregar", "segundos_planejados")
	delivered := hoursOrSeconds(r, "horas_entregues", "segundos_realizados")
	pct := firstOf(r, "aderencia_percentual", "aderencia")
	adherence := pct.Float()
	if !pct.Exists() {
		adherence = format.Ratio(delivered, planned)
	}
	return AdherenceRow{
		Label:          label,
		HorasAEntregar: format.HoursToHMS(planned),
		HorasEntregues: format.HoursToHMS(delivered),
		Aderencia:      adherence,
		Cor:            format.AdherenceColor(adherence),
	}
}

func combineAdherence(rows []AdherenceRow) AdherenceRow {
	var planned, delivered float64
	for _, r := range rows {
		p, _ := format.HMSToHours(r.HorasAEntregar)
		d, _ := format.HMSToHours(r.HorasEntregues)
		planned += p
		delivered += d
	}
	pct := format.Ratio(delivered, planned)
	return AdherenceRow{
		Label:          "Geral",
		HorasAEntregar: format.HoursToHMS(planned),
		HorasEntregues: format.HoursToHMS(delivered),
		Aderencia:      pct,
		Cor:            format.AdherenceColor(pct),
	}
}

func parseUTR(payload []byte) UTR {
	res := backend.Unwrap(payload)
	geral := firstOf(res, "geral", "utr_geral")
	if !geral.IsObject() {
		geral = res
	}
	return UTR{
		Geral:    utrSegment(geral, "Geral"),
		Praca:    utrSegments(firstOf(res, "praca", "por_praca"), "praca"),
		SubPraca: utrSegments(firstOf(res, "sub_praca", "por_sub_praca"), "sub_praca"),
		Origem:   utrSegments(firstOf(res, "origem", "por_origem"), "origem"),
		Turno:    utrSegments(firstOf(res, "turno", "por_turno"), "turno"),
	}
}

func utrSegments(arr gjson.Result, key string) []UTRSegment {
	out := make([]UTRSegment, 0)
	for _, r := range arr.Array() {
		out = append(out, utrSegment(r, r.Get(key).String()))
	}
	return out
}

func utrSegment(r gjson.Result, label string) UTRSegment {
	hours := hoursOf(firstOf(r, "tempo_horas", "horas_online", "tempo_online"))
	if secs := r.Get("tempo_segundos"); secs.Exists() && hours == 0 {
		hours = secs.Float() / 3600
	}
	trips := firstOf(r, "corridas", "corridas_completadas").Int()
	utr := r.Get("utr")
	value := utr.Float()
	if !utr.Exists() && hours > 0 {
		value = float64(trips) / hours
	}
	return UTRSegment{
		Label:     label,
		Horas:     hours,
		HorasHMS:  format.HoursToHMS(hours),
		Corridas:  trips,
		UTR:       value,
		Formatted: format.FormatDecimal(value),
	}
}

func parseEntregadores(payload []byte) []Entregador {
	out := make([]Entregador, 0)
	for _, r := range backend.Rows(payload, "entregadores") {
		e := Entregador{
			ID:          firstOf(r, "id_entregador", "id").String(),
			Nome:        firstOf(r, "nome_entregador", "nome").String(),
			Praca:       r.Get("praca").String(),
			Ofertadas:   r.Get("corridas_ofertadas").Int(),
			Aceitas:     r.Get("corridas_aceitas").Int(),
			Rejeitadas:  r.Get("corridas_rejeitadas").Int(),
			Completadas: r.Get("corridas_completadas").Int(),
		}
		planned := hoursOf(r.Get("horas_a_entregar"))
		delivered := hoursOf(r.Get("horas_entregues"))
		e.HorasAEntregar = format.HoursToHMS(planned)
		e.HorasEntregues = format.HoursToHMS(delivered)
		if pct := firstOf(r, "aderencia_percentual", "aderencia"); pct.Exists() {
			e.Aderencia = pct.Float()
		} else {
			e.Aderencia = format.Ratio(delivered, planned)
		}
		e.TaxaAceitacao = format.Ratio(float64(e.Aceitas), float64(e.Ofertadas))
		e.TaxaRejeicao = format.Ratio(float64(e.Rejeitadas), float64(e.Ofertadas))
		e.TaxaConclusao = format.Ratio(float64(e.Completadas), float64(e.Aceitas))
		out = append(out, e)
	}
	return out
}

func parseMarketing(payload []byte) MarketingTotals {
	res := backend.Unwrap(payload)
	m := MarketingTotals{
		Criado:        firstOf(res, "criado", "total_criado").Int(),
		Enviado:       firstOf(res, "enviado", "total_enviado").Int(),
		Liberado:      firstOf(res, "liberado", "total_liberado").Int(),
		RodandoInicio: firstOf(res, "rodando_inicio", "rodandoInicio", "total_rodando").Int(),
	}
	m.TaxaEnvio = format.CalculatePercentage(float64(m.Enviado), float64(m.Criado))
	m.TaxaLiberacao = format.CalculatePercentage(float64(m.Liberado), float64(m.Enviado))
	m.TaxaAtivacao = format.CalculatePercentage(float64(m.RodandoInicio), float64(m.Liberado))
	return m
}

// parseWeeks accepts rows of {ano, semana} objects or week strings and
// returns unique weeks, newest first.
func parseWeeks(payload []byte, defaultYear int) []format.Week {
	seen := map[format.Week]struct{}{}
	weeks := make([]format.Week, 0)
	for _, r := range backend.Rows(payload, "semanas") {
		var (
			w   format.Week
			err error
		)
		if r.IsObject() {
			year := int(r.Get("ano").Int())
			if year == 0 {
				year = defaultYear
			}
			sem := firstOf(r, "semana", "semana_iso", "numero_semana")
			if sem.Type == gjson.Number {
				w = format.Week{Year: year, Number: int(sem.Int())}
				err = w.Validate()
			} else {
				w, err = format.ParseWeek(sem.String(), year)
			}
		} else {
			w, err = format.ParseWeek(r.String(), defaultYear)
		}
		if err != nil {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		weeks = append(weeks, w)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[j].Before(weeks[i]) })
	return weeks
}

func firstOf(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// hoursOf reads hours stored as a number or an "HH:MM:SS" string.
func hoursOf(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		h, err := format.HMSToHours(r.String())
		if err != nil {
			return 0
		}
		return h
	default:
		return 0
	}
}

func hoursOrSeconds(r gjson.Result, hoursKey, secondsKey string) float64 {
	if v := r.Get(hoursKey); v.Exists() {
		return hoursOf(v)
	}
	return r.Get(secondsKey).Float() / 3600
}

func stringList(r gjson.Result) []string {
	out := make([]string, 0)
	seen := map[string]struct{}{}
	for _, v := range r.Array() {
		s := strings.TrimSpace(v.String())
		if v.IsObject() {
			s = strings.TrimSpace(firstOf(v, "value", "nome", "label").String())
		}
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
