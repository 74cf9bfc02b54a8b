package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/monitoring"
	"github.com/sells-group/townmap/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded sync cycles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("history"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		summary, _ := cmd.Flags().GetBool("summary")

		if summary {
			lookback, _ := cmd.Flags().GetDuration("since")
			return printSummary(ctx, os.Stdout, st, lookback)
		}

		cycles, err := st.ListCycles(ctx, store.CycleFilter{Status: model.SyncStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "history list")
		}
		if len(cycles) == 0 {
			fmt.Fprintln(os.Stderr, "No cycles found.")
			return nil
		}
		formatCycleList(os.Stdout, cycles)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("status", "", "filter by status (updated, unchanged, error)")
	historyCmd.Flags().Int("limit", 20, "max number of cycles to display (-1 for all)")
	historyCmd.Flags().Bool("summary", false, "print aggregate statistics instead of a list")
	historyCmd.Flags().Duration("since", 24*time.Hour, "time window for --summary")
	rootCmd.AddCommand(historyCmd)
}

// formatCycleList writes a tabular list of cycles to out.
func formatCycleList(out io.Writer, cycles []model.CycleEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tSTATUS\tTRIGGER\tACCEPTED\tSKIPPED\tFINGERPRINT\tDURATION\tERROR")
	for _, c := range cycles {
		trigger := "poll"
		if c.Manual {
			trigger = "manual"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			c.StartedAt.Local().Format("2006-01-02 15:04:05"),
			c.Status,
			trigger,
			c.Accepted,
			c.Skipped,
			orDash(c.Fingerprint),
			c.Duration().Round(time.Millisecond),
			truncate(c.Error, 60),
		)
	}
	_ = w.Flush()
}

// printSummary collects cycles started within lookback and writes their
// statistics to out.
func printSummary(ctx context.Context, out io.Writer, cycles monitoring.CycleLister, lookback time.Duration) error {
	snap, err := monitoring.NewCollector(cycles).Collect(ctx, lookback)
	if err != nil {
		return eris.Wrap(err, "history summary")
	}
	formatSummary(out, snap)
	return nil
}

// formatSummary writes aggregate cycle statistics to out.
func formatSummary(out io.Writer, s *monitoring.MetricsSnapshot) {
	_, _ = fmt.Fprintf(out, "Cycles (last %s): %d\n", s.Window(), s.Total)
	_, _ = fmt.Fprintf(out, "  Updated:   %d\n", s.Updated)
	_, _ = fmt.Fprintf(out, "  Unchanged: %d\n", s.Unchanged)
	_, _ = fmt.Fprintf(out, "  Failed:    %d (%.1f%%)\n", s.Failed, s.FailRate*100)
	_, _ = fmt.Fprintf(out, "  Manual:    %d\n", s.Manual)
	_, _ = fmt.Fprintf(out, "Avg duration: %dms\n", s.AvgDurationMs)
	_, _ = fmt.Fprintf(out, "Avg accepted/skipped: %d/%d\n", s.AvgAccepted, s.AvgSkipped)
	if s.LastSuccessAt != nil {
		_, _ = fmt.Fprintf(out, "Last success: %s\n", s.LastSuccessAt.Local().Format(time.RFC3339))
	}
	if s.LastError != "" {
		_, _ = fmt.Fprintf(out, "Last error:   %s\n", s.LastError)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
