package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger background jobs",
}

var jobsTriggerCmd = &cobra.Command{
	Use:       "trigger <refresh|warmup>",
	Short:     "Enqueue a background job",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"refresh", "warmup"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, app.BuildOptions{}, func(c *app.Components) error {
			var (
				id  string
				err error
			)
			switch args[0] {
			case "refresh":
				id, err = c.Jobs.EnqueueRefresh(cmd.Context(), "cli")
			case "warmup":
				id, err = c.Jobs.EnqueueWarmup(cmd.Context(), "cli")
			default:
				return fmt.Errorf("unknown job %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s task %s\n", args[0], id)
			return nil
		})
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd, app.BuildOptions{}, func(c *app.Components) error {
			stats, err := c.Jobs.Stats()
			if err != nil {
				return err
			}
			return printStats(cmd, stats)
		})
	},
}

func init() {
	jobsCmd.AddCommand(jobsTriggerCmd, jobsStatsCmd)
}

func printStats(cmd *cobra.Command, stats jobs.QueueStats) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
