package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/sharezip/internal/store"
)

var (
	historyLimit  int
	historyStatus string
	historyPrune  time.Duration
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent folder downloads",
		Long: `Show recent folder downloads recorded in the history database, newest
first. Use --status to filter by running, success or failed. With
--prune-older-than, finished records older than the given age are deleted
first.`,
		Example: `  sharezip history
  sharezip history --limit 5 --status failed
  sharezip history --prune-older-than 720h`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of records to show")
	cmd.Flags().StringVar(&historyStatus, "status", "", "only show records with this status")
	cmd.Flags().DurationVar(&historyPrune, "prune-older-than", 0, "delete finished records older than this age")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	switch historyStatus {
	case "", store.StatusRunning, store.StatusSuccess, store.StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", historyStatus)
	}

	if historyPrune > 0 {
		n, err := globalStore.PruneFolderDownloads(time.Now().Add(-historyPrune))
		if err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
		fmt.Printf("Pruned %d record(s) older than %s\n\n", n, historyPrune)
	}

	downloads, err := globalStore.ListFolderDownloads(historyStatus, historyLimit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}

	if len(downloads) == 0 {
		fmt.Println("No folder downloads recorded.")
		return nil
	}

	fmt.Println("Folder Downloads")
	fmt.Println("================")
	fmt.Println("")
	fmt.Printf("%-30s %-8s %7s %10s %10s %-16s %s\n", "Path", "Status", "Files", "Size", "Duration", "Started", "Error")
	fmt.Println(strings.Repeat("-", 100))

	for _, d := range downloads {
		duration := "-"
		if d.Status != store.StatusRunning {
			duration = d.Duration().Truncate(time.Millisecond).String()
		}
		errCol := ""
		if d.Status == store.StatusFailed {
			errCol = fmt.Sprintf("code %d", d.ErrorCode)
		}
		fmt.Printf("%-30s %-8s %7d %10s %10s %-16s %s\n",
			truncate(d.Path, 30),
			d.Status,
			d.FileCount,
			humanize.IBytes(uint64(max(d.TotalSize, 0))),
			duration,
			d.StartTime.Local().Format("2006-01-02 15:04"),
			errCol,
		)
	}

	fmt.Println("")
	return nil
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
