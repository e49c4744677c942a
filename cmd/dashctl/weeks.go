package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard/export"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

var weeksYear int

var weeksCmd = &cobra.Command{
	Use:   "weeks",
	Short: "List the weeks with data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd, app.BuildOptions{}, func(c *app.Components) error {
			weeks, err := c.Dashboard.ListWeeks(dashboard.ServiceContext(cmd.Context()), weeksYear)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, w := range weeks {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", w, w.Start().Format(time.DateOnly), w.End().Format(time.DateOnly))
			}
			return tw.Flush()
		})
	},
}

var (
	compareWeeks  []string
	compareFilter dashboard.Filter
	compareCSV    string
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare adherence and UTR across weeks",
	Long:  "Loads each week concurrently and prints the variation between consecutive weeks. Weeks accept 2024-W05, S05/2024 or a bare number for the current year.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		weeks, err := parseWeeks(compareWeeks, time.Now().Year())
		if err != nil {
			return err
		}
		return withComponents(cmd, app.BuildOptions{}, func(c *app.Components) error {
			cmp, err := c.Dashboard.CompareWeeks(dashboard.ServiceContext(cmd.Context()), compareFilter, weeks)
			if err != nil {
				return err
			}
			if compareCSV != "" {
				return writeComparisonFile(compareCSV, cmp)
			}
			return printComparison(cmd.OutOrStdout(), cmp)
		})
	},
}

func init() {
	weeksCmd.Flags().IntVar(&weeksYear, "ano", 0, "restrict to one year")

	compareCmd.Flags().StringSliceVar(&compareWeeks, "semanas", nil, "weeks to compare (at least two)")
	compareCmd.Flags().StringVar(&compareFilter.Praca, "praca", "", "praça filter")
	compareCmd.Flags().StringVar(&compareFilter.SubPraca, "sub-praca", "", "sub-praça filter")
	compareCmd.Flags().StringVar(&compareFilter.Origem, "origem", "", "origem filter")
	compareCmd.Flags().StringVar(&compareFilter.Turno, "turno", "", "turno filter")
	compareCmd.Flags().StringVar(&compareCSV, "csv", "", "write the comparison to this CSV file")
	_ = compareCmd.MarkFlagRequired("semanas")
}

func parseWeeks(values []string, defaultYear int) ([]format.Week, error) {
	weeks := make([]format.Week, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		w, err := format.ParseWeek(v, defaultYear)
		if err != nil {
			return nil, err
		}
		weeks = append(weeks, w)
	}
	if len(weeks) < 2 {
		return nil, fmt.Errorf("compare needs at least two weeks, got %d", len(weeks))
	}
	return weeks, nil
}

func printComparison(w io.Writer, cmp dashboard.WeekComparison) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEMANA\tADERÊNCIA\tCOMPLETADAS\tUTR\tHORAS")
	for _, m := range cmp.Weeks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Label,
			format.FormatPercent(m.Aderencia, 1), format.FormatNumber(m.Totais.Completadas),
			format.FormatDecimal(m.UTR), m.HorasOnline)
	}
	for _, v := range cmp.Variations {
		fmt.Fprintf(tw, "%s → %s\t%+.1f%%\t%+.1f%%\t%+.1f%%\t\n", v.From.Label(), v.To.Label(), v.Aderencia, v.Completadas, v.UTR)
	}
	return tw.Flush()
}

func writeComparisonFile(path string, cmp dashboard.WeekComparison) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteComparisonCSV(f, cmp); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
