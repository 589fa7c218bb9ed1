// Package intake turns a submitted project into persisted stages and a
// running procurement pipeline.
package intake

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

// ErrInvalidProject is returned when a submission is missing required fields.
var ErrInvalidProject = eris.New("intake: invalid project")

// Pipelines is the orchestrator surface intake drives.
type Pipelines interface {
	CreatePipeline(ctx context.Context, req pipeline.CreateRequest) (*model.Pipeline, error)
	StartPipeline(ctx context.Context, id string) error
}

// ProjectRequest is a project submission. Stages are optional; without them
// PARSE_FILES extracts stages from the description and documents.
type ProjectRequest struct {
	model.Project `yaml:",inline"`
	Stages        []model.Stage `json:"stages,omitempty" yaml:"stages"`
}

// Submission is what Submit persisted and started.
type Submission struct {
	Project  *model.Project  `json:"project"`
	Stages   []model.Stage   `json:"stages"`
	Pipeline *model.Pipeline `json:"pipeline"`
}

// Service accepts projects.
type Service struct {
	projects  store.ProjectStore
	pipelines Pipelines
}

// NewService creates an intake service.
func NewService(projects store.ProjectStore, pipelines Pipelines) *Service {
	return &Service{projects: projects, pipelines: pipelines}
}

// Submit persists the project and its declared stages, then creates and
// starts a full pipeline for it. When the start cannot be queued the
// submission is still returned with the error.
func (s *Service) Submit(ctx context.Context, req ProjectRequest) (*Submission, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "intake"))

	proj := req.Project
	if err := s.projects.CreateProject(ctx, &proj); err != nil {
		return nil, eris.Wrap(err, "intake: create project")
	}

	var stages []model.Stage
	if len(req.Stages) > 0 {
		saved, err := s.projects.UpsertStages(ctx, proj.ID, req.Stages)
		if err != nil {
			return nil, eris.Wrapf(err, "intake: save stages for project %s", proj.ID)
		}
		stages = saved
	}

	p, err := s.pipelines.CreatePipeline(ctx, pipeline.CreateRequest{
		OwnerID:   proj.OwnerID,
		ProjectID: proj.ID,
		Steps:     model.FullSteps,
		Trigger:   model.TriggerProject,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "intake: create pipeline for project %s", proj.ID)
	}

	sub := &Submission{Project: &proj, Stages: stages, Pipeline: p}
	if err := s.pipelines.StartPipeline(ctx, p.ID); err != nil {
		return sub, eris.Wrapf(err, "intake: start pipeline %s", p.ID)
	}

	log.Info("project submitted",
		zap.String("project_id", proj.ID),
		zap.String("pipeline_id", p.ID),
		zap.Int("declared_stages", len(stages)),
	)
	return sub, nil
}

// Validate checks the fields every submission needs.
func Validate(req ProjectRequest) error {
	var missing []string
	if strings.TrimSpace(req.OwnerID) == "" {
		missing = append(missing, "owner_id")
	}
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return eris.Wrapf(ErrInvalidProject, "missing %s", strings.Join(missing, ", "))
	}

	seen := make(map[int]bool, len(req.Stages))
	for _, st := range req.Stages {
		if strings.TrimSpace(st.Name) == "" {
			return eris.Wrapf(ErrInvalidProject, "stage %d has no name", st.Sequence)
		}
		if seen[st.Sequence] {
			return eris.Wrapf(ErrInvalidProject, "duplicate stage sequence %d", st.Sequence)
		}
		seen[st.Sequence] = true
	}
	return nil
}

// LoadProjectFile reads a YAML project submission.
func LoadProjectFile(path string) (ProjectRequest, error) {
	var req ProjectRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, eris.Wrapf(err, "intake: read %s", path)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, eris.Wrapf(err, "intake: decode %s", path)
	}
	return req, nil
}
