package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the materialized views now",
	Long:  "Runs the refresh in this process under the shared lock and invalidates the dashboard cache.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd, app.BuildOptions{}, func(c *app.Components) error {
			start := time.Now()
			if err := c.Refresh.Run(cmd.Context(), "cli"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}
