package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/sharezip/internal/apperr"
)

var fetchOut string

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch PATH",
		Short: "Download a folder and write it as a ZIP file",
		Long: `Run the same pipeline as POST /file/download-folder from the command
line: list the folder, check it against the size limit, download it and pack
it. The archive is written to --out, or <first segment>.zip in the current
directory.`,
		Example: `  sharezip fetch teamA/reports
  sharezip fetch teamA/reports --out /tmp/reports.zip`,
		Args: cobra.ExactArgs(1),
		RunE: fetchRun,
	}

	cmd.Flags().StringVar(&fetchOut, "out", "", "output file (default: <first segment>.zip)")

	return cmd
}

func fetchRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalMaterializer == nil {
		return fmt.Errorf("materializer not initialized")
	}

	archive, err := globalMaterializer.Materialize(cmd.Context(), args[0])
	if err != nil {
		resp := apperr.Lookup(apperr.KindOf(err))
		return fmt.Errorf("%s (error code %d): %w", resp.Message, resp.Code, err)
	}

	out := fetchOut
	if out == "" {
		out = archive.Name
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	if _, err := io.Copy(f, archive.Reader); err != nil {
		_ = f.Close()
		_ = os.Remove(out)
		return fmt.Errorf("writing %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", out, err)
	}

	log.Debug("archive written", "path", out, "entries", len(archive.Entries))
	fmt.Printf("Wrote %s (%d files, %s)\n", out, len(archive.Entries), humanize.IBytes(uint64(archive.Size)))
	return nil
}
