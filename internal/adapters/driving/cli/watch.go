package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chunkstore/internal/adapters/driving/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Save chunk files as they appear in a directory",
	Long: `Watch a directory and save every *.jsonl chunk file written into it.

Saved files are renamed with a .done suffix. Files that cannot be decoded, or
whose records the store did not apply, are left in place and reported; they are
saved again when rewritten or on the next start. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Bool("backlog", true, "Save chunk files already in the directory first")
	watchCmd.Flags().Duration("settle", watch.DefaultSettle, "Quiet period after the last write before a file is read")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	backlog, err := cmd.Flags().GetBool("backlog")
	if err != nil {
		return fmt.Errorf("getting backlog flag: %w", err)
	}
	settle, err := cmd.Flags().GetDuration("settle")
	if err != nil {
		return fmt.Errorf("getting settle flag: %w", err)
	}

	w, err := watch.New(args[0], chunkStorage, watch.WithBacklog(backlog), watch.WithSettle(settle))
	if err != nil {
		return err
	}

	results, err := w.Run(cmd.Context())
	if err != nil {
		return err
	}

	cmd.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
	for r := range results {
		stamp := time.Now().Format("15:04:05")
		if r.Err != nil {
			cmd.Printf("[%s] %s: %v\n", stamp, r.Path, r.Err)
			continue
		}
		cmd.Printf("[%s] %s: saved %d of %d records\n", stamp, r.Path, r.Outcome.SuccessCount, r.Outcome.TotalCount)
		if n := r.Unapplied(); n > 0 {
			cmd.Printf("    kept for retry: %d records not applied\n", n)
		}
		for _, f := range r.Outcome.Failures {
			cmd.Printf("    %s  %s\n", displayID(f.ID), f.Error())
		}
	}
	return nil
}
