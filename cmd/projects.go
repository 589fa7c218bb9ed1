package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/procure-cli/internal/intake"
	"github.com/sells-group/procure-cli/internal/scheduler"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Submit projects and manage their timelines",
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <project.yaml>",
	Short: "Submit a project and start its procurement pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wait, _ := cmd.Flags().GetBool("wait")

		req, err := intake.LoadProjectFile(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		if wait {
			stop := env.runWorkers(ctx)
			defer stop()
		}

		sub, err := env.Intake.Submit(ctx, req)
		if err != nil {
			return eris.Wrap(err, "projects create")
		}
		if wait {
			if sub.Pipeline, err = env.Orchestrator.Wait(ctx, sub.Pipeline.ID, waitPollInterval); err != nil {
				return eris.Wrap(err, "projects create: wait")
			}
		}
		return printJSON(os.Stdout, sub)
	},
}

var projectsSetStartCmd = &cobra.Command{
	Use:   "set-start <project-id> <YYYY-MM-DD>",
	Short: "Record a construction start and infer stage dates",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		start, err := time.Parse(time.DateOnly, args[1])
		if err != nil {
			return eris.Wrapf(err, "parse date %q", args[1])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages, err := scheduler.NewTimeline(st).Apply(ctx, args[0], start)
		if err != nil {
			return eris.Wrap(err, "projects set-start")
		}
		return printJSON(os.Stdout, stages)
	},
}

func init() {
	projectsCreateCmd.Flags().Bool("wait", false, "run workers in-process until the pipeline stops")

	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsSetStartCmd)
	rootCmd.AddCommand(projectsCmd)
}
