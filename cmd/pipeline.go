package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

const waitPollInterval = 250 * time.Millisecond

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Create and control procurement pipelines",
	Long:  "Without --wait, started pipelines stay RUNNING until a serve process picks them up.",
}

// -- pipeline create --

var pipelineCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a PENDING pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")
		project, _ := cmd.Flags().GetString("project")
		stageIDs, _ := cmd.Flags().GetStringSlice("stages")
		stepNames, _ := cmd.Flags().GetStringSlice("steps")
		start, _ := cmd.Flags().GetBool("start")

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Orchestrator.CreatePipeline(ctx, pipeline.CreateRequest{
			OwnerID:   owner,
			ProjectID: project,
			StageIDs:  stageIDs,
			Steps:     parseSteps(stepNames),
		})
		if err != nil {
			return eris.Wrap(err, "pipeline create")
		}
		if !start {
			return printJSON(os.Stdout, p)
		}
		return runAction(cmd, env, p.ID, env.Orchestrator.StartPipeline)
	},
}

// -- pipeline start|resume|cancel --

func actionCmd(use, short string, pick func(*appEnv) func(context.Context, string) error) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <pipeline-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := initEnv(cmd.Context(), "pipeline")
			if err != nil {
				return err
			}
			defer env.Close()
			return runAction(cmd, env, args[0], pick(env))
		},
	}
	c.Flags().Bool("wait", false, "run workers in-process until the pipeline stops")
	c.Flags().Duration("timeout", 0, "give up waiting after this long (0 = no limit)")
	return c
}

var pipelineStartCmd = actionCmd("start", "Start a PENDING pipeline", func(e *appEnv) func(context.Context, string) error {
	return e.Orchestrator.StartPipeline
})

var pipelineResumeCmd = actionCmd("resume", "Resume a STEP_FAILED or AWAITING_EXTERNAL pipeline", func(e *appEnv) func(context.Context, string) error {
	return e.Orchestrator.ResumePipeline
})

var pipelineCancelCmd = actionCmd("cancel", "Cancel a pipeline", func(e *appEnv) func(context.Context, string) error {
	return e.Orchestrator.CancelPipeline
})

// runAction applies action to id and prints the resulting pipeline. With
// --wait it runs the worker pool until the pipeline leaves RUNNING.
func runAction(cmd *cobra.Command, env *appEnv, id string, action func(context.Context, string) error) error {
	ctx := cmd.Context()
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var stopWorkers func()
	if wait {
		stopWorkers = env.runWorkers(ctx)
		defer stopWorkers()
	}

	if err := action(ctx, id); err != nil {
		return eris.Wrapf(err, "pipeline %s", cmd.Name())
	}

	var (
		p   *model.Pipeline
		err error
	)
	if wait {
		waitCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		p, err = env.Orchestrator.Wait(waitCtx, id, waitPollInterval)
	} else {
		p, err = env.Orchestrator.GetPipelineStatus(ctx, id)
	}
	if err != nil {
		return eris.Wrapf(err, "pipeline %s", cmd.Name())
	}
	return printJSON(os.Stdout, p)
}

// -- pipeline status --

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <pipeline-id>",
	Short: "Show a pipeline with its step log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetPipeline(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "pipeline status")
		}
		return printJSON(os.Stdout, p)
	},
}

// -- pipeline list --

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		status, _ := cmd.Flags().GetString("status")
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipelines, err := st.ListPipelines(ctx, store.PipelineFilter{
			Status:    model.PipelineStatus(strings.ToUpper(status)),
			ProjectID: project,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline list")
		}
		if len(pipelines) == 0 {
			fmt.Fprintln(os.Stderr, "No pipelines found.")
			return nil
		}
		formatPipelineList(os.Stdout, pipelines)
		return nil
	},
}

func init() {
	pipelineCreateCmd.Flags().String("owner", "admin", "owner id")
	pipelineCreateCmd.Flags().String("project", "", "project id")
	pipelineCreateCmd.Flags().StringSlice("stages", nil, "stage ids to scope the pipeline to (default all active stages)")
	pipelineCreateCmd.Flags().StringSlice("steps", stepStrings(model.FullSteps), "ordered step names")
	pipelineCreateCmd.Flags().Bool("start", false, "start the pipeline after creating it")
	pipelineCreateCmd.Flags().Bool("wait", false, "with --start, run workers in-process until the pipeline stops")
	pipelineCreateCmd.Flags().Duration("timeout", 0, "give up waiting after this long (0 = no limit)")

	pipelineListCmd.Flags().String("status", "", "filter by status (PENDING, RUNNING, AWAITING_EXTERNAL, ...)")
	pipelineListCmd.Flags().String("project", "", "filter by project id")
	pipelineListCmd.Flags().Int("limit", 50, "max number of pipelines to display")

	pipelineCmd.AddCommand(pipelineCreateCmd)
	pipelineCmd.AddCommand(pipelineStartCmd)
	pipelineCmd.AddCommand(pipelineResumeCmd)
	pipelineCmd.AddCommand(pipelineCancelCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	rootCmd.AddCommand(pipelineCmd)
}

func parseSteps(names []string) []model.StepName {
	out := make([]model.StepName, 0, len(names))
	for _, n := range names {
		if n = strings.ToUpper(strings.TrimSpace(n)); n != "" {
			out = append(out, model.StepName(n))
		}
	}
	return out
}

func stepStrings(steps []model.StepName) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}

// formatPipelineList writes a tabular list of pipelines to out.
func formatPipelineList(out io.Writer, pipelines []model.Pipeline) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROJECT\tTRIGGER\tSTATUS\tSTEP\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t-------\t------\t----\t-------")

	for _, p := range pipelines {
		step := "-"
		if name, ok := p.CurrentStep(); ok {
			step = fmt.Sprintf("%d/%d %s", p.CurrentStepIndex+1, len(p.Steps), name)
		}
		project := p.ProjectID
		if project == "" {
			project = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(p.ID),
			truncateID(project),
			p.Trigger,
			p.Status,
			step,
			p.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
