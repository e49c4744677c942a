package format

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// FormatNumber renders an integer with pt-BR grouping, e.g. 1.234.567.
func FormatNumber(n int64) string {
	return ptBR.Sprintf("%d", n)
}

// FormatDecimal renders a float with pt-BR separators and two decimals.
func FormatDecimal(v float64) string {
	return ptBR.Sprintf("%.2f", v)
}
