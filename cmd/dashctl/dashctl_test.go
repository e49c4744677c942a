package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload"
)

func TestParseWeeks(t *testing.T) {
	weeks, err := parseWeeks([]string{"2024-W05", " ", "S06/2024", "7"}, 2024)
	require.NoError(t, err)
	assert.Equal(t, []format.Week{{Year: 2024, Number: 5}, {Year: 2024, Number: 6}, {Year: 2024, Number: 7}}, weeks)

	_, err = parseWeeks([]string{"2024-W05"}, 2024)
	assert.Error(t, err)
	_, err = parseWeeks([]string{"2024-W05", "W99"}, 2024)
	assert.ErrorIs(t, err, format.ErrInvalidWeek)
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	printProgress(&buf, upload.Progress{Status: upload.StatusRunning, BatchProgress: upload.BatchProgress{Batch: 1, Batches: 4, Inserted: 500, Total: 2000}})
	printProgress(&buf, upload.Progress{Status: upload.StatusCompleted, BatchProgress: upload.BatchProgress{Batch: 4, Batches: 4, Inserted: 2000, Total: 2000}})
	printProgress(&buf, upload.Progress{Status: upload.StatusFailed, Error: "timeout", BatchProgress: upload.BatchProgress{Batch: 2, Batches: 4}})

	assert.Equal(t, "[ 25.0%] batch 1/4, 500/2000 rows\n"+
		"completed: 2000/2000 rows\n"+
		"failed at batch 2/4: timeout\n", buf.String())
}

func TestPrintComparison(t *testing.T) {
	w5, w6 := format.Week{Year: 2024, Number: 5}, format.Week{Year: 2024, Number: 6}
	cmp := dashboard.WeekComparison{
		Weeks: []dashboard.WeekMetrics{
			{Week: w5, Label: w5.Label(), Aderencia: 80, UTR: 1.5, HorasOnline: "10:00:00", Totais: dashboard.Totals{Completadas: 1200}},
			{Week: w6, Label: w6.Label(), Aderencia: 88, UTR: 1.8, HorasOnline: "11:00:00", Totais: dashboard.Totals{Completadas: 1500}},
		},
		Variations: []dashboard.WeekVariation{{From: w5, To: w6, Aderencia: 10, Completadas: 25, UTR: 20}},
	}
	var buf bytes.Buffer
	require.NoError(t, printComparison(&buf, cmp))

	out := buf.String()
	assert.Contains(t, out, "Semana 05")
	assert.Contains(t, out, "1.200")
	assert.Contains(t, out, "88.0%")
	assert.Contains(t, out, "Semana 05 → Semana 06")
	assert.Contains(t, out, "+25.0%")
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"upload", "refresh", "weeks", "compare", "jobs"} {
		assert.True(t, names[want], want)
	}
	sub, _, err := rootCmd.Find([]string{"jobs", "stats"})
	require.NoError(t, err)
	assert.Equal(t, "stats", sub.Name())
}
