package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/chrischoy/MediaWhisperer/model"
	"github.com/chrischoy/MediaWhisperer/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var ingestUser int64

var ingestCmd = &cobra.Command{
	Use:   "ingest [flags] file.pdf...",
	Short: "Convert local PDFs into the document registry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestUser <= 0 {
			return fmt.Errorf("--user must be a positive user ID")
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pipeline, err := newPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer pipeline.Release()

		var failed atomic.Int32
		// One bad file must not cancel conversions already running for the
		// others, so the group has no shared context.
		var g errgroup.Group
		g.SetLimit(max(cfg.Conversion.Workers, 1))

		for _, path := range args {
			g.Go(func() error {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				defer f.Close()

				doc, err := pipeline.IngestUpload(cmd.Context(), service.UploadRequest{
					UserID:   ingestUser,
					Filename: filepath.Base(path),
					Body:     f,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if doc.Status == model.StatusFailed {
					failed.Add(1)
				}
				slog.Info("ingested", "file", path, "pdf_id", doc.ID, "status", doc.Status, "error_msg", doc.ErrorMsg)
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", doc.ID, doc.Status, path)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		if n := failed.Load(); n > 0 {
			return fmt.Errorf("%d of %d documents failed to convert", n, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestUser, "user", 0, "owner user ID for the ingested documents")
}
