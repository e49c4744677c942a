package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

func TestWriteEntregadoresCSV(t *testing.T) {
	rows := []dashboard.Entregador{{ID: "7", Nome: "Ana, Silva", Ofertadas: 10, Aceitas: 8, Completadas: 6, Aderencia: 92.345, HorasEntregues: "09:00:00"}}
	buf := &bytes.Buffer{}
	if err := WriteEntregadoresCSV(buf, rows); err != nil {
		t.Fatalf("drivers csv error: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("csv read error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d", len(records))
	}
	if records[1][1] != "Ana, Silva" {
		t.Fatalf("name not preserved: %q", records[1][1])
	}
	if records[1][9] != "92.3%" {
		t.Fatalf("unexpected adherence %q", records[1][9])
	}
}

func TestWriteComparisonCSV(t *testing.T) {
	cmp := dashboard.WeekComparison{
		Weeks: []dashboard.WeekMetrics{
			{Week: format.Week{Year: 2024, Number: 4}, Aderencia: 80, UTR: 1.5},
			{Week: format.Week{Year: 2024, Number: 5}, Aderencia: 88, UTR: 1.25},
		},
		Variations: []dashboard.WeekVariation{
			{From: format.Week{Year: 2024, Number: 4}, To: format.Week{Year: 2024, Number: 5}, Aderencia: 10, UTR: -16.6667},
		},
	}
	buf := &bytes.Buffer{}
	if err := WriteComparisonCSV(buf, cmp); err != nil {
		t.Fatalf("comparison csv error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "2024-W04,0,0,0,80.0%,1.50,") {
		t.Fatalf("missing week row in %q", out)
	}
	if !strings.Contains(out, "2024-W04,2024-W05,10.0%,0.0%,-16.7%") {
		t.Fatalf("missing variation row in %q", out)
	}
}
