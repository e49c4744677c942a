// Command dashctl is the operator CLI for the delivery dashboard: it loads
// spreadsheets, refreshes the aggregates and inspects the job queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "dashctl",
	Short:         "Operate the delivery dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(uploadCmd, refreshCmd, weeksCmd, compareCmd, jobsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withComponents builds the service graph for a single command and closes it
// afterwards.
func withComponents(cmd *cobra.Command, opts app.BuildOptions, fn func(*app.Components) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	components, err := app.Build(cmd.Context(), cfg, logger, opts)
	if err != nil {
		return err
	}
	runErr := fn(components)
	if err := components.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
