package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
)

func commandNames(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := commandNames(rootCmd)
	for _, name := range []string{"serve", "pipeline", "projects", "schedule", "suppliers", "migrate", "status"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "procure", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestPipelineCommand_HasSubcommands(t *testing.T) {
	names := commandNames(pipelineCmd)
	for _, name := range []string{"create", "start", "resume", "cancel", "status", "list"} {
		assert.True(t, names[name], "pipeline should have subcommand %q", name)
	}
}

func TestPipelineCreateCommand_Flags(t *testing.T) {
	for _, name := range []string{"owner", "project", "stages", "steps", "start", "wait", "timeout"} {
		assert.NotNil(t, pipelineCreateCmd.Flags().Lookup(name), "pipeline create should have --%s flag", name)
	}

	steps := pipelineCreateCmd.Flags().Lookup("steps")
	require.NotNil(t, steps)
	assert.Contains(t, steps.DefValue, string(model.StepParseFiles))
	assert.Contains(t, steps.DefValue, string(model.StepCompareBids))
}

func TestPipelineActionCommands_Flags(t *testing.T) {
	for _, c := range []*cobra.Command{pipelineStartCmd, pipelineResumeCmd, pipelineCancelCmd} {
		assert.NotNil(t, c.Flags().Lookup("wait"), "%s should have --wait", c.Name())
		assert.NotNil(t, c.Flags().Lookup("timeout"), "%s should have --timeout", c.Name())
		assert.NoError(t, c.Args(c, []string{"abc"}))
		assert.Error(t, c.Args(c, nil), "%s requires a pipeline id", c.Name())
	}
}

func TestPipelineListCommand_Flags(t *testing.T) {
	flag := pipelineListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestScheduleCommand_Flags(t *testing.T) {
	names := commandNames(scheduleCmd)
	assert.True(t, names["tick"])
	assert.True(t, names["next"])

	assert.NotNil(t, scheduleTickCmd.Flags().Lookup("date"))
	assert.NotNil(t, scheduleTickCmd.Flags().Lookup("wait"))
}

func TestSuppliersCommand_Flags(t *testing.T) {
	names := commandNames(suppliersCmd)
	assert.True(t, names["import"])
	assert.True(t, names["match"])

	batch := suppliersImportCmd.Flags().Lookup("batch-size")
	require.NotNil(t, batch)
	assert.Equal(t, "500", batch.DefValue)

	category := suppliersMatchCmd.Flags().Lookup("category")
	require.NotNil(t, category)
	assert.Equal(t, []string{"true"}, category.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestProjectsCommand_Args(t *testing.T) {
	names := commandNames(projectsCmd)
	assert.True(t, names["create"])
	assert.True(t, names["set-start"])

	assert.Error(t, projectsSetStartCmd.Args(projectsSetStartCmd, []string{"p1"}))
	assert.NoError(t, projectsSetStartCmd.Args(projectsSetStartCmd, []string{"p1", "2026-05-04"}))
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("since")
	require.NotNil(t, flag)
	assert.Equal(t, "24h0m0s", flag.DefValue)
}

func TestParseSteps(t *testing.T) {
	got := parseSteps([]string{" parse_files", "", "COMPARE_BIDS "})
	assert.Equal(t, []model.StepName{model.StepParseFiles, model.StepCompareBids}, got)
	assert.Empty(t, parseSteps(nil))
}

func TestStepStrings(t *testing.T) {
	got := stepStrings(model.FullSteps)
	require.Len(t, got, len(model.FullSteps))
	assert.Equal(t, "PARSE_FILES", got[0])
}
