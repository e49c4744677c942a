// Package upload turns spreadsheet exports into backend table rows and
// inserts them in batches.
package upload

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind selects the destination table and its column mapping.
type Kind string

const (
	KindCorridas  Kind = "corridas"
	KindMarketing Kind = "marketing"
	KindValores   Kind = "valores"
)

var (
	// ErrUnknownKind is returned for an upload kind without a mapping.
	ErrUnknownKind = errors.New("upload: unknown kind")
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("upload: missing required column")
)

// ColumnType drives value coercion.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInt
	TypeDecimal
	TypeDate
	TypeDuration
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "integer"
	case TypeDecimal:
		return "decimal"
	case TypeDate:
		return "date"
	case TypeDuration:
		return "duration"
	default:
		return "text"
	}
}

// Column maps one spreadsheet header onto a table field. Aliases are
// additional accepted header spellings, compared after NormalizeHeader.
type Column struct {
	Field    string
	Type     ColumnType
	Required bool
	Aliases  []string
}

// Mapping describes one upload kind.
type Mapping struct {
	Kind    Kind
	Table   string
	Columns []Column
}

var mappings = map[Kind]Mapping{
	KindCorridas: {
		Kind:  KindCorridas,
		Table: "dados_corridas",
		Columns: []Column{
			{Field: "data_do_periodo", Type: TypeDate, Required: true, Aliases: []string{"data"}},
			{Field: "periodo", Type: TypeText, Aliases: []string{"turno"}},
			{Field: "duracao_do_periodo", Type: TypeDuration},
			{Field: "numero_minimo_de_entregadores_regulares_na_escala", Type: TypeInt},
			{Field: "tag", Type: TypeText},
			{Field: "id_da_pessoa_entregadora", Type: TypeText, Required: true, Aliases: []string{"id_entregador"}},
			{Field: "pessoa_entregadora", Type: TypeText, Aliases: []string{"nome_entregador"}},
			{Field: "praca", Type: TypeText, Required: true},
			{Field: "sub_praca", Type: TypeText},
			{Field: "origem", Type: TypeText},
			{Field: "tempo_disponivel_escalado", Type: TypeDuration},
			{Field: "tempo_disponivel_absoluto", Type: TypeDuration},
			{Field: "numero_de_corridas_ofertadas", Type: TypeInt},
			{Field: "numero_de_corridas_aceitas", Type: TypeInt},
			{Field: "numero_de_corridas_rejeitadas", Type: TypeInt},
			{Field: "numero_de_corridas_completadas", Type: TypeInt},
			{Field: "numero_de_corridas_canceladas_pela_pessoa_entregadora", Type: TypeInt},
			{Field: "numero_de_pedidos_aceitos_e_concluidos", Type: TypeInt},
			{Field: "soma_das_taxas_das_corridas_aceitas", Type: TypeDecimal},
		},
	},
	KindMarketing: {
		Kind:  KindMarketing,
		Table: "dados_marketing",
		Columns: []Column{
			{Field: "id_entregador", Type: TypeText, Required: true, Aliases: []string{"id"}},
			{Field: "nome", Type: TypeText},
			{Field: "status", Type: TypeText},
			{Field: "praca", Type: TypeText, Aliases: []string{"regiao_atuacao", "cidade"}},
			{Field: "sub_praca_abc", Type: TypeText},
			{Field: "responsavel", Type: TypeText},
			{Field: "data_criacao", Type: TypeDate, Aliases: []string{"criado_em"}},
			{Field: "data_envio", Type: TypeDate, Aliases: []string{"enviado_em"}},
			{Field: "data_liberacao", Type: TypeDate, Aliases: []string{"liberado_em"}},
			{Field: "rodando_inicio", Type: TypeDate, Aliases: []string{"data_inicio"}},
		},
	},
	KindValores: {
		Kind:  KindValores,
		Table: "dados_valores_cidade",
		Columns: []Column{
			{Field: "data", Type: TypeDate, Required: true},
			{Field: "praca", Type: TypeText, Required: true, Aliases: []string{"cidade"}},
			{Field: "id_atendente", Type: TypeText},
			{Field: "valor", Type: TypeDecimal, Required: true},
		},
	},
}

// Kinds lists the supported upload kinds.
func Kinds() []Kind {
	return []Kind{KindCorridas, KindMarketing, KindValores}
}

// MappingFor returns the mapping for kind.
func MappingFor(kind Kind) (Mapping, error) {
	m, ok := mappings[Kind(strings.ToLower(strings.TrimSpace(string(kind))))]
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return m, nil
}

// NormalizeHeader folds case, strips accents and joins words with
// underscores, so "Data do Período" becomes "data_do_periodo".
func NormalizeHeader(header string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, header)
	if err != nil {
		folded = header
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	var b strings.Builder
	pending := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// boundColumn is a mapping column resolved to a spreadsheet index.
type boundColumn struct {
	Column
	index int
}

// bind resolves the header row against the mapping. Unknown headers are
// ignored. The first matching header wins when a column appears twice.
func (m Mapping) bind(headers []string) ([]boundColumn, error) {
	positions := make(map[string]int, len(headers))
	for i, h := range headers {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}
	var (
		bound   []boundColumn
		missing []string
	)
	for _, col := range m.Columns {
		idx, ok := positions[col.Field]
		for _, alias := range col.Aliases {
			if ok {
				break
			}
			idx, ok = positions[NormalizeHeader(alias)]
		}
		if !ok {
			if col.Required {
				missing = append(missing, col.Field)
			}
			continue
		}
		bound = append(bound, boundColumn{Column: col, index: idx})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return bound, nil
}
