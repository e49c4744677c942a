package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <kind> <file>",
	Short: "Import a spreadsheet into the dashboard tables",
	Long: `Validates an XLSX or XLS file and inserts it in batches, printing
progress until the import finishes. kind is one of corridas, marketing or valores.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

var uploadPoll time.Duration

func init() {
	uploadCmd.Flags().DurationVar(&uploadPoll, "poll", 500*time.Millisecond, "progress polling interval")
}

func runUpload(cmd *cobra.Command, args []string) error {
	kind := upload.Kind(args[0])
	if _, err := upload.MappingFor(kind); err != nil {
		return err
	}
	content, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	return withComponents(cmd, app.BuildOptions{Enqueue: true}, func(c *app.Components) error {
		ctx := cmd.Context()
		p, err := c.Uploads.Start(ctx, kind, filepath.Base(args[1]), content, "cli")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "upload %s: %d rows into %s\n", p.ID, p.Total, p.Table)

		ticker := time.NewTicker(uploadPoll)
		defer ticker.Stop()
		last := -1
		for {
			if p.Batch != last {
				printProgress(out, p)
				last = p.Batch
			}
			if p.Done() {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if p, err = c.Uploads.Get(ctx, p.ID); err != nil {
				return err
			}
		}
		if p.Status == upload.StatusFailed {
			return fmt.Errorf("upload failed after %d rows: %s", p.Inserted, p.Error)
		}
		return nil
	})
}

func printProgress(w io.Writer, p upload.Progress) {
	switch p.Status {
	case upload.StatusCompleted:
		fmt.Fprintf(w, "completed: %d/%d rows\n", p.Inserted, p.Total)
	case upload.StatusFailed:
		fmt.Fprintf(w, "failed at batch %d/%d: %s\n", p.Batch, p.Batches, p.Error)
	default:
		fmt.Fprintf(w, "[%5.1f%%] batch %d/%d, %d/%d rows\n", p.Percent(), p.Batch, p.Batches, p.Inserted, p.Total)
	}
}
