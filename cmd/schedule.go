package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/procure-cli/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run or inspect the stage reactivation scheduler",
}

var scheduleTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Promote due deferred stages and spawn wave pipelines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dateFlag, _ := cmd.Flags().GetString("date")
		wait, _ := cmd.Flags().GetBool("wait")

		today := time.Now().UTC()
		if dateFlag != "" {
			d, err := time.Parse(time.DateOnly, dateFlag)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", dateFlag)
			}
			today = d
		}

		env, err := initEnv(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		if wait {
			stop := env.runWorkers(ctx)
			defer stop()
		}

		res, err := env.Reactivator.Tick(ctx, today)
		if err != nil {
			return eris.Wrap(err, "schedule tick")
		}
		if wait {
			for _, w := range res.Waves {
				if _, err := env.Orchestrator.Wait(ctx, w.PipelineID, waitPollInterval); err != nil {
					return eris.Wrapf(err, "wait for wave %s", w.PipelineID)
				}
			}
		}
		return printJSON(os.Stdout, res)
	},
}

var scheduleNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print when the next scheduled tick fires",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		runner, err := scheduler.NewRunner(nil, nil, cfg.Scheduler)
		if err != nil {
			return err
		}
		next := runner.Next()
		fmt.Fprintf(os.Stdout, "%s (in %s)\n", next.Format(time.RFC3339), time.Until(next).Round(time.Minute))
		return nil
	},
}

func init() {
	scheduleTickCmd.Flags().String("date", "", "calendar date to tick for, YYYY-MM-DD (default today, UTC)")
	scheduleTickCmd.Flags().Bool("wait", false, "run workers in-process until the spawned waves stop")

	scheduleCmd.AddCommand(scheduleTickCmd)
	scheduleCmd.AddCommand(scheduleNextCmd)
	rootCmd.AddCommand(scheduleCmd)
}
