// Package dashboard loads the operational aggregates (adherence, UTR, drivers,
// marketing funnel) from the backend, caches them and compares weeks.
package dashboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

var (
	// ErrInvalidFilter wraps filter validation failures.
	ErrInvalidFilter = errors.New("dashboard: invalid filter")
	// ErrInvalidComparison is returned for an unusable week list.
	ErrInvalidComparison = errors.New("dashboard: invalid comparison")
)

const (
	// MaxCompareWeeks bounds a single comparison request.
	MaxCompareWeeks = 8
	// DefaultDriverLimit caps driver listings when no limit is given.
	DefaultDriverLimit = 100
	maxDriverLimit     = 1000
)

var validate = validator.New()

// Filter narrows every aggregate. Zero values mean "all".
type Filter struct {
	Ano    int    `json:"ano,omitempty" validate:"omitempty,gte=2000,lte=2100"`
	Semana int    `json:"semana,omitempty" validate:"omitempty,gte=1,lte=53"`
	Praca  string `json:"praca,omitempty" validate:"omitempty,max=120"`
	// Pracas restricts the window to the caller's assigned praças when no
	// single praça is selected.
	Pracas      []string `json:"pracas,omitempty" validate:"omitempty,max=100,dive,required,max=120"`
	SubPraca    string   `json:"sub_praca,omitempty" validate:"omitempty,max=120"`
	Origem      string   `json:"origem,omitempty" validate:"omitempty,max=120"`
	Turno       string   `json:"turno,omitempty" validate:"omitempty,max=60"`
	DataInicial string   `json:"data_inicial,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DataFinal   string   `json:"data_final,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Normalize trims text fields.
func (f Filter) Normalize() Filter {
	f.Praca = strings.TrimSpace(f.Praca)
	if len(f.Pracas) > 0 {
		f.Pracas = cleanPracas(f.Pracas)
	}
	if len(f.Pracas) == 0 {
		f.Pracas = nil
	}
	f.SubPraca = strings.TrimSpace(f.SubPraca)
	f.Origem = strings.TrimSpace(f.Origem)
	f.Turno = strings.TrimSpace(f.Turno)
	f.DataInicial = strings.TrimSpace(f.DataInicial)
	f.DataFinal = strings.TrimSpace(f.DataFinal)
	return f
}

// Validate checks field ranges and the date interval.
func (f Filter) Validate() error {
	if err := validate.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidFilter, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if f.Semana > 0 && f.Ano > 0 && f.Semana > format.WeeksInYear(f.Ano) {
		return fmt.Errorf("%w: %d has no week %d", ErrInvalidFilter, f.Ano, f.Semana)
	}
	if f.DataInicial != "" && f.DataFinal != "" && f.DataFinal < f.DataInicial {
		return fmt.Errorf("%w: data_final before data_inicial", ErrInvalidFilter)
	}
	return nil
}

// WithWeek narrows the filter to one ISO week.
func (f Filter) WithWeek(w format.Week) Filter {
	f.Ano = w.Year
	f.Semana = w.Number
	return f
}

// Params renders the backend function arguments. Pracas is not sent: the
// functions run under the caller's token and row level security narrows them.
func (f Filter) Params() map[string]any {
	params := map[string]any{}
	if f.Ano > 0 {
		params["p_ano"] = f.Ano
	}
	if f.Semana > 0 {
		params["p_semana"] = f.Semana
	}
	setText(params, "p_praca", f.Praca)
	setText(params, "p_sub_praca", f.SubPraca)
	setText(params, "p_origem", f.Origem)
	setText(params, "p_turno", f.Turno)
	setText(params, "p_data_inicial", f.DataInicial)
	setText(params, "p_data_final", f.DataFinal)
	return params
}

func setText(params map[string]any, key, value string) {
	if value != "" {
		params[key] = value
	}
}

// Totals are the trip counters of a filter window.
type Totals struct {
	Ofertadas   int64 `json:"corridas_ofertadas"`
	Aceitas     int64 `json:"corridas_aceitas"`
	Rejeitadas  int64 `json:"corridas_rejeitadas"`
	Completadas int64 `json:"corridas_completadas"`
}

// AdherenceRow is one labelled adherence aggregate.
type AdherenceRow struct {
	Label          string  `json:"label"`
	HorasAEntregar string  `json:"horas_a_entregar"`
	HorasEntregues string  `json:"horas_entregues"`
	Aderencia      float64 `json:"aderencia"`
	Cor            string  `json:"cor"`
}

// Resumo is the main dashboard payload.
type Resumo struct {
	Totais   Totals         `json:"totais"`
	Geral    AdherenceRow   `json:"geral"`
	Semanal  []AdherenceRow `json:"semanal"`
	Dia      []AdherenceRow `json:"dia"`
	Turno    []AdherenceRow `json:"turno"`
	SubPraca []AdherenceRow `json:"sub_praca"`
	Origem   []AdherenceRow `json:"origem"`
}

// UTRSegment is trips per online hour for one segment.
type UTRSegment struct {
	Label     string  `json:"label"`
	Horas     float64 `json:"horas_online"`
	HorasHMS  string  `json:"horas_online_hms"`
	Corridas  int64   `json:"corridas"`
	UTR       float64 `json:"utr"`
	Formatted string  `json:"utr_formatada"`
}

// UTR groups the overall value and per-dimension breakdowns.
type UTR struct {
	Geral    UTRSegment   `json:"geral"`
	Praca    []UTRSegment `json:"praca"`
	SubPraca []UTRSegment `json:"sub_praca"`
	Origem   []UTRSegment `json:"origem"`
	Turno    []UTRSegment `json:"turno"`
}

// DriverQuery narrows a driver search.
type DriverQuery struct {
	Termo  string `json:"termo,omitempty" validate:"omitempty,max=120"`
	Limite int    `json:"limite,omitempty" validate:"omitempty,gte=1,lte=1000"`
}

func (q DriverQuery) normalize() DriverQuery {
	q.Termo = strings.TrimSpace(q.Termo)
	if q.Limite <= 0 {
		q.Limite = DefaultDriverLimit
	}
	if q.Limite > maxDriverLimit {
		q.Limite = maxDriverLimit
	}
	return q
}

// Entregador is one driver row.
type Entregador struct {
	ID             string  `json:"id_entregador"`
	Nome           string  `json:"nome_entregador"`
	Praca          string  `json:"praca,omitempty"`
	Ofertadas      int64   `json:"corridas_ofertadas"`
	Aceitas        int64   `json:"corridas_aceitas"`
	Rejeitadas     int64   `json:"corridas_rejeitadas"`
	Completadas    int64   `json:"corridas_completadas"`
	HorasAEntregar string  `json:"horas_a_entregar"`
	HorasEntregues string  `json:"horas_entregues"`
	Aderencia      float64 `json:"aderencia"`
	TaxaAceitacao  float64 `json:"taxa_aceitacao"`
	TaxaRejeicao   float64 `json:"taxa_rejeicao"`
	TaxaConclusao  float64 `json:"taxa_conclusao"`
}

// MarketingTotals are the marketing funnel counters.
type MarketingTotals struct {
	Criado        int64  `json:"criado"`
	Enviado       int64  `json:"enviado"`
	Liberado      int64  `json:"liberado"`
	RodandoInicio int64  `json:"rodando_inicio"`
	TaxaEnvio     string `json:"taxa_envio"`
	TaxaLiberacao string `json:"taxa_liberacao"`
	TaxaAtivacao  string `json:"taxa_ativacao"`
}

// FilterOptions lists the values available for each filter dimension.
type FilterOptions struct {
	Pracas    []string `json:"pracas"`
	SubPracas []string `json:"sub_pracas"`
	Origens   []string `json:"origens"`
	Turnos    []string `json:"turnos"`
}

// WeekMetrics is one column of a week comparison.
type WeekMetrics struct {
	Week        format.Week `json:"week"`
	Label       string      `json:"label"`
	Totais      Totals      `json:"totais"`
	Aderencia   float64     `json:"aderencia"`
	Cor         string      `json:"cor"`
	UTR         float64     `json:"utr"`
	HorasOnline string      `json:"horas_online"`
}

// WeekVariation is the change between two consecutive compared weeks.
type WeekVariation struct {
	From        format.Week `json:"from"`
	To          format.Week `json:"to"`
	Aderencia   float64     `json:"aderencia"`
	Completadas float64     `json:"corridas_completadas"`
	UTR         float64     `json:"utr"`
}

// WeekComparison is the result of CompareWeeks.
type WeekComparison struct {
	Weeks      []WeekMetrics   `json:"weeks"`
	Variations []WeekVariation `json:"variations"`
}
