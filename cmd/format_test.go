package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/monitoring"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0f8e2c1a", truncateID("0f8e2c1a-77b2-4ce6-9d0e-6a9f8d1e2b3c"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestFormatPipelineList(t *testing.T) {
	updated := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	pipelines := []model.Pipeline{
		{
			ID:               "aaaaaaaa-1111-2222-3333-444444444444",
			ProjectID:        "bbbbbbbb-1111-2222-3333-444444444444",
			Trigger:          model.TriggerProject,
			Steps:            model.FullSteps,
			CurrentStepIndex: 5,
			Status:           model.PipelineStatusAwaiting,
			UpdatedAt:        updated,
		},
		{
			ID:               "cccccccc-1111-2222-3333-444444444444",
			Trigger:          model.TriggerAdmin,
			Steps:            []model.StepName{model.StepCompareBids},
			CurrentStepIndex: 1,
			Status:           model.PipelineStatusCompleted,
			UpdatedAt:        updated,
		},
	}

	var buf bytes.Buffer
	formatPipelineList(&buf, pipelines)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[2], "aaaaaaaa")
	assert.Contains(t, lines[2], "bbbbbbbb")
	assert.Contains(t, lines[2], "6/7 AWAIT_BIDS")
	assert.Contains(t, lines[2], "2026-05-04 09:30")
	assert.NotContains(t, lines[2], "aaaaaaaa-1111")

	// Finished pipelines and admin runs without a project show dashes.
	fields := strings.Fields(lines[3])
	assert.Equal(t, []string{"cccccccc", "-", "admin", "COMPLETED", "-", "2026-05-04", "09:30"}, fields)
}

func TestFormatScored(t *testing.T) {
	scored := []model.ScoredSupplier{
		{CompanyName: "Volt Électricité Angevine et Fils Réunis SARL", MatchedCategory: "electrical", Tier: model.TierExact, TotalScore: 82.5, CategoryScore: 100, LocationScore: 100},
		{CompanyName: "Plomberie Ouest", MatchedCategory: "plumbing", Tier: model.TierAdjacent, TotalScore: 41},
	}

	var buf bytes.Buffer
	formatScored(&buf, scored)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.True(t, strings.HasPrefix(lines[2], "1 "))
	assert.Contains(t, lines[2], "...")
	assert.Contains(t, lines[2], "82.5")
	assert.Contains(t, lines[3], "Plomberie Ouest")
	assert.Contains(t, lines[3], "adjacent")
}

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		PipelineTotal:      10,
		PipelineCompleted:  6,
		PipelineStepFailed: 2,
		PipelineAwaiting:   2,
		PipelineFailRate:   0.25,
		StaleAwaiting:      []string{"dddddddd-1111-2222-3333-444444444444"},
		LookbackHours:      24,
	}

	t.Run("with alerts", func(t *testing.T) {
		var buf bytes.Buffer
		formatSnapshot(&buf, snap, []monitoring.Alert{{
			Type:     monitoring.AlertStaleAwaiting,
			Severity: "warning",
			Message:  "1 pipeline awaiting bids",
		}})
		out := buf.String()
		assert.Contains(t, out, "last 24h")
		assert.Contains(t, out, "25.0%")
		assert.Contains(t, out, "dddddddd")
		assert.Contains(t, out, "[warning] stale_awaiting: 1 pipeline awaiting bids")
	})

	t.Run("no alerts", func(t *testing.T) {
		var buf bytes.Buffer
		formatSnapshot(&buf, &monitoring.MetricsSnapshot{LookbackHours: 1}, nil)
		out := buf.String()
		assert.NotContains(t, out, "Failure rate")
		assert.Contains(t, out, "No alerts.")
	})
}
