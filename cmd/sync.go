package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and print the outcome",
	Long: "Downloads the sheet once, normalizes it and compares it to the last persisted snapshot. " +
		"With --force the cycle runs with manual-trigger semantics and publishes even when unchanged.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initSync(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		force, _ := cmd.Flags().GetBool("force")
		asJSON, _ := cmd.Flags().GetBool("json")

		var entry model.CycleEntry
		if force {
			entry, _ = env.Controller.Trigger(ctx)
		} else {
			entry, _ = env.Controller.Tick(ctx)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(entry); err != nil {
				return err
			}
		} else {
			formatCycle(os.Stdout, entry)
		}

		if entry.Status == model.SyncStatusError {
			return eris.Errorf("sync failed: %s", entry.Error)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("force", false, "treat the cycle as a manual trigger (publish even if unchanged)")
	syncCmd.Flags().Bool("json", false, "print the cycle as JSON")
	rootCmd.AddCommand(syncCmd)
}

// formatCycle writes a one-cycle summary to w.
func formatCycle(w io.Writer, e model.CycleEntry) {
	icon, text := syncer.StatusDisplay(e.Status)
	_, _ = fmt.Fprintf(w, "%s %s\n", icon, text)
	_, _ = fmt.Fprintf(w, "  status:      %s\n", e.Status)
	_, _ = fmt.Fprintf(w, "  accepted:    %d\n", e.Accepted)
	_, _ = fmt.Fprintf(w, "  skipped:     %d\n", e.Skipped)
	if e.Fingerprint != "" {
		_, _ = fmt.Fprintf(w, "  fingerprint: %s\n", e.Fingerprint)
	}
	_, _ = fmt.Fprintf(w, "  duration:    %s\n", e.Duration().Round(time.Millisecond))
	if e.Error != "" {
		_, _ = fmt.Fprintf(w, "  error:       %s\n", e.Error)
	}
}
