package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/procure-cli/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize pipeline health and evaluate alert thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		since, _ := cmd.Flags().GetDuration("since")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stale := time.Duration(cfg.Monitoring.StaleAwaitingHours) * time.Hour
		snap, err := monitoring.NewCollector(st, nil, nil, stale).Collect(ctx, int(since.Hours()))
		if err != nil {
			return eris.Wrap(err, "status")
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		if asJSON {
			return printJSON(os.Stdout, map[string]any{"metrics": snap, "alerts": alerts})
		}
		formatSnapshot(os.Stdout, snap, alerts)
		return nil
	},
}

func init() {
	statusCmd.Flags().Duration("since", 24*time.Hour, "lookback window (e.g. 24h, 168h)")
	statusCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatSnapshot writes pipeline counts and raised alerts to out.
func formatSnapshot(out io.Writer, s *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Pipelines (last %dh):\t%d\n", s.LookbackHours, s.PipelineTotal)
	_, _ = fmt.Fprintf(w, "  Pending:\t%d\n", s.PipelinePending)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.PipelineRunning)
	_, _ = fmt.Fprintf(w, "  Awaiting bids:\t%d\n", s.PipelineAwaiting)
	_, _ = fmt.Fprintf(w, "  Step failed:\t%d\n", s.PipelineStepFailed)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", s.PipelineCompleted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.PipelineFailed)
	_, _ = fmt.Fprintf(w, "  Cancelled:\t%d\n", s.PipelineCancelled)
	if s.Finished() > 0 {
		_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.PipelineFailRate*100)
	}
	if len(s.StaleAwaiting) > 0 {
		ids := make([]string, len(s.StaleAwaiting))
		for i, id := range s.StaleAwaiting {
			ids[i] = truncateID(id)
		}
		_, _ = fmt.Fprintf(w, "Stale awaiting:\t%s\n", strings.Join(ids, ", "))
	}
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
