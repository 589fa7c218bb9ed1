// Package store persists pipelines, projects, stages, the supplier directory,
// RFQs and bids. Every backend updates pipelines under an optimistic version
// check so concurrent writers to one pipeline cannot lose updates.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/procure-cli/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a pipeline changed since it was read.
	ErrConflict = eris.New("store: version conflict")
)

// PipelineFilter narrows ListPipelines.
type PipelineFilter struct {
	Status    model.PipelineStatus `json:"status,omitempty"`
	ProjectID string               `json:"project_id,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
}

// PipelineStore persists orchestrator state.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *model.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*model.Pipeline, error)
	// UpdatePipeline saves p only if the stored version still equals
	// p.Version, then increments p.Version. Otherwise it returns ErrConflict.
	UpdatePipeline(ctx context.Context, p *model.Pipeline) error
	ListPipelines(ctx context.Context, filter PipelineFilter) ([]model.Pipeline, error)
}

// ProjectStore persists projects and their stages.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	// ListSchedulableProjects returns projects with a quoting horizon and at
	// least one stage.
	ListSchedulableProjects(ctx context.Context) ([]model.Project, error)
	SetConstructionStart(ctx context.Context, projectID string, start time.Time) error

	// ListStages returns a project's stages ordered by sequence.
	ListStages(ctx context.Context, projectID string) ([]model.Stage, error)
	GetStage(ctx context.Context, id string) (*model.Stage, error)
	// UpsertStages matches stages on (project, sequence) and returns the
	// stored rows with ids assigned.
	UpsertStages(ctx context.Context, projectID string, stages []model.Stage) ([]model.Stage, error)
	SetStageStatus(ctx context.Context, status model.ProcurementStatus, stageIDs ...string) error
	// SetStageDates persists PlannedStartDate for each stage.
	SetStageDates(ctx context.Context, stages []model.Stage) error
}

// SupplierDirectory is the candidate pool consulted by the matching engine.
type SupplierDirectory interface {
	// FindByCategory returns suppliers tagged with category, plus untagged
	// suppliers whose industry code maps to it. Response history is filled in.
	FindByCategory(ctx context.Context, category string) ([]model.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*model.Supplier, error)
	UpsertSuppliers(ctx context.Context, suppliers []model.Supplier) (int, error)
	UpsertSignals(ctx context.Context, signals model.SupplierSignals) error
}

// RFQStore persists quotation requests and the bids answering them.
type RFQStore interface {
	// EnsureRFQ inserts r unless an RFQ for the same pipeline, stage and
	// supplier exists, and returns whichever record is stored.
	EnsureRFQ(ctx context.Context, r *model.RFQ) (*model.RFQ, error)
	GetRFQ(ctx context.Context, id string) (*model.RFQ, error)
	MarkRFQ(ctx context.Context, id string, status model.RFQStatus, sentAt *time.Time, errMsg string) error
	ListRFQs(ctx context.Context, pipelineID string) ([]model.RFQ, error)

	CreateBid(ctx context.Context, b *model.Bid) error
	ListBids(ctx context.Context, pipelineID string) ([]model.Bid, error)
}

// Store is the full persistence interface.
type Store interface {
	PipelineStore
	ProjectStore
	SupplierDirectory
	RFQStore

	Migrate(ctx context.Context) error
	Close() error
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

func conflict(id string, version int64) error {
	return eris.Wrapf(ErrConflict, "pipeline %s at version %d", id, version)
}

// mergeStages resolves incoming stages against the stored ones by sequence.
// Matched stages keep their id, and keep their procurement status when the
// incoming one is blank. New stages get an id and default to ACTIVE.
func mergeStages(projectID string, existing, incoming []model.Stage) []model.Stage {
	bySeq := make(map[int]model.Stage, len(existing))
	for _, st := range existing {
		bySeq[st.Sequence] = st
	}

	out := make([]model.Stage, 0, len(incoming))
	for _, st := range incoming {
		st = cloneStage(st)
		st.ProjectID = projectID
		if prev, ok := bySeq[st.Sequence]; ok {
			st.ID = prev.ID
			if st.ProcurementStatus == "" {
				st.ProcurementStatus = prev.ProcurementStatus
			}
		}
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		if st.ProcurementStatus == "" {
			st.ProcurementStatus = model.ProcurementActive
		}
		st.Category = model.NormalizeCategory(st.Category)
		out = append(out, st)
	}
	return out
}

type encodedPipeline struct {
	stageIDs, steps, stepLog, outputs []byte
}

func encodePipeline(p *model.Pipeline) (encodedPipeline, error) {
	var (
		enc encodedPipeline
		err error
	)
	if enc.stageIDs, err = json.Marshal(nonNil(p.StageIDs)); err != nil {
		return enc, err
	}
	if enc.steps, err = json.Marshal(nonNil(p.Steps)); err != nil {
		return enc, err
	}
	if enc.stepLog, err = json.Marshal(nonNil(p.StepLog)); err != nil {
		return enc, err
	}
	outputs := p.Outputs
	if outputs == nil {
		outputs = map[model.StepName]json.RawMessage{}
	}
	enc.outputs, err = json.Marshal(outputs)
	return enc, err
}

func decodePipeline(p *model.Pipeline, stageIDs, steps, stepLog, outputs []byte) error {
	if err := json.Unmarshal(stageIDs, &p.StageIDs); err != nil {
		return eris.Wrap(err, "unmarshal stage ids")
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return eris.Wrap(err, "unmarshal steps")
	}
	if err := json.Unmarshal(stepLog, &p.StepLog); err != nil {
		return eris.Wrap(err, "unmarshal step log")
	}
	if err := json.Unmarshal(outputs, &p.Outputs); err != nil {
		return eris.Wrap(err, "unmarshal outputs")
	}
	if len(p.StageIDs) == 0 {
		p.StageIDs = nil
	}
	if len(p.Outputs) == 0 {
		p.Outputs = nil
	}
	return nil
}

// nonNil keeps empty slices encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// prepareSupplier assigns a missing id and normalizes category tags.
func prepareSupplier(sup *model.Supplier) {
	if sup.ID == "" {
		sup.ID = uuid.New().String()
	}
	for i, c := range sup.Categories {
		sup.Categories[i] = model.NormalizeCategory(c)
	}
}
