// Package parse turns project descriptions and document text into ordered
// construction stages with an LLM.
package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/pkg/anthropic"
)

// maxDocumentChars bounds the document text sent in one prompt.
const maxDocumentChars = 60_000

// Extractor derives stages from a project.
type Extractor interface {
	Extract(ctx context.Context, project model.Project) ([]model.Stage, error)
}

// LLMExtractor implements Extractor with the Anthropic Messages API.
type LLMExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewLLMExtractor creates an extractor using the given model.
func NewLLMExtractor(client anthropic.Client, modelID string, maxTokens int64) *LLMExtractor {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &LLMExtractor{client: client, model: modelID, maxTokens: maxTokens}
}

type extractedStage struct {
	Sequence            int    `json:"sequence"`
	Name                string `json:"name"`
	Category            string `json:"category"`
	Description         string `json:"description"`
	PlannedStartDate    string `json:"planned_start_date"`
	PlannedDurationDays *int   `json:"planned_duration_days"`
}

type extraction struct {
	Stages []extractedStage `json:"stages"`
}

// Extract asks the model for stages and normalizes its answer. Sequences are
// renumbered 1..n in the order returned when the model omits or repeats them.
func (e *LLMExtractor) Extract(ctx context.Context, project model.Project) ([]model.Stage, error) {
	log := zap.L().With(zap.String("component", "parse"), zap.String("project_id", project.ID))

	prompt := buildPrompt(project)
	if strings.TrimSpace(prompt) == "" {
		return nil, eris.New("parse: project has no description or documents")
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    systemPrompt(),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "parse: extract stages")
	}
	resp.Usage.LogCost(e.model, string(model.StepParseFiles))

	stages, err := decodeStages(resp.Text())
	if err != nil {
		return nil, err
	}
	log.Info("parse: stages extracted", zap.Int("stages", len(stages)), zap.String("stop_reason", resp.StopReason))
	return stages, nil
}

func systemPrompt() string {
	return fmt.Sprintf(`You split construction projects into procurement stages.
Answer with JSON only, shaped as {"stages":[{"sequence":1,"name":"","category":"","description":"","planned_start_date":"YYYY-MM-DD or empty","planned_duration_days":null}]}.
Use one category per stage, chosen from: %s.
List stages in execution order. Leave dates empty unless the text states them.`, strings.Join(model.Categories, ", "))
}

func buildPrompt(p model.Project) string {
	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "Project: %s\n", p.Name)
	}
	if strings.TrimSpace(p.Description) != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(p.Description))
	}
	budget := maxDocumentChars
	for _, d := range p.Documents {
		text := strings.TrimSpace(d.Text)
		if text == "" || budget <= 0 {
			continue
		}
		if len(text) > budget {
			text = text[:budget]
		}
		budget -= len(text)
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", d.Name, text)
	}
	return b.String()
}

func decodeStages(text string) ([]model.Stage, error) {
	var ex extraction
	if err := json.Unmarshal([]byte(cleanJSON(text)), &ex); err != nil {
		return nil, eris.Wrap(err, "parse: decode model output")
	}

	out := make([]model.Stage, 0, len(ex.Stages))
	seen := make(map[int]bool, len(ex.Stages))
	renumber := false
	for _, s := range ex.Stages {
		if s.Sequence <= 0 || seen[s.Sequence] {
			renumber = true
		}
		seen[s.Sequence] = true

		st := model.Stage{
			Sequence:            s.Sequence,
			Name:                strings.TrimSpace(s.Name),
			Category:            model.NormalizeCategory(s.Category),
			Description:         strings.TrimSpace(s.Description),
			PlannedDurationDays: s.PlannedDurationDays,
		}
		if s.PlannedStartDate != "" {
			d, err := time.Parse(time.DateOnly, s.PlannedStartDate)
			if err != nil {
				return nil, eris.Wrapf(err, "parse: stage %q start date", s.Name)
			}
			st.PlannedStartDate = &d
		}
		out = append(out, st)
	}
	if renumber {
		for i := range out {
			out[i].Sequence = i + 1
		}
	}
	return out, nil
}

// cleanJSON strips markdown fences and extracts the outer JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
