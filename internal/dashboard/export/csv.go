// Package export renders dashboard aggregates as CSV downloads.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

// WriteEntregadoresCSV emits one row per driver.
func WriteEntregadoresCSV(w io.Writer, rows []dashboard.Entregador) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{
		"ID", "Nome", "Praça", "Ofertadas", "Aceitas", "Rejeitadas", "Completadas",
		"Horas a entregar", "Horas entregues", "Aderência", "Aceitação", "Rejeição", "Conclusão",
	}); err != nil {
		return err
	}
	for _, e := range rows {
		if err := writer.Write([]string{
			e.ID,
			e.Nome,
			e.Praca,
			formatInt(e.Ofertadas),
			formatInt(e.Aceitas),
			formatInt(e.Rejeitadas),
			formatInt(e.Completadas),
			e.HorasAEntregar,
			e.HorasEntregues,
			format.FormatPercent(e.Aderencia, 1),
			format.FormatPercent(e.TaxaAceitacao, 1),
			format.FormatPercent(e.TaxaRejeicao, 1),
			format.FormatPercent(e.TaxaConclusao, 1),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteComparisonCSV emits one row per compared week followed by the
// week-over-week variations.
func WriteComparisonCSV(w io.Writer, cmp dashboard.WeekComparison) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Semana", "Ofertadas", "Aceitas", "Completadas", "Aderência", "UTR", "Horas online"}); err != nil {
		return err
	}
	for _, m := range cmp.Weeks {
		if err := writer.Write([]string{
			m.Week.String(),
			formatInt(m.Totais.Ofertadas),
			formatInt(m.Totais.Aceitas),
			formatInt(m.Totais.Completadas),
			format.FormatPercent(m.Aderencia, 1),
			formatFloat(m.UTR),
			m.HorasOnline,
		}); err != nil {
			return err
		}
	}
	if len(cmp.Variations) == 0 {
		writer.Flush()
		return writer.Error()
	}
	if err := writer.Write(nil); err != nil {
		return err
	}
	if err := writer.Write([]string{"De", "Para", "Δ Aderência", "Δ Completadas", "Δ UTR"}); err != nil {
		return err
	}
	for _, v := range cmp.Variations {
		if err := writer.Write([]string{
			v.From.String(),
			v.To.String(),
			format.FormatPercent(v.Aderencia, 1),
			format.FormatPercent(v.Completadas, 1),
			format.FormatPercent(v.UTR, 1),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
