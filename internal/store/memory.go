package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/procure-cli/internal/model"
)

// MemoryStore is an in-process Store used by tests and the memory driver.
// Every read and write copies records so callers never share memory with it.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[string]*model.Pipeline
	projects  map[string]model.Project
	stages    map[string]model.Stage
	suppliers map[string]model.Supplier
	rfqs      map[string]model.RFQ
	bids      map[string]model.Bid

	nowFunc func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		pipelines: make(map[string]*model.Pipeline),
		projects:  make(map[string]model.Project),
		stages:    make(map[string]model.Stage),
		suppliers: make(map[string]model.Supplier),
		rfqs:      make(map[string]model.RFQ),
		bids:      make(map[string]model.Bid),
		nowFunc:   time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) now() time.Time { return s.nowFunc().UTC() }

// --- Pipelines ---

func (s *MemoryStore) CreatePipeline(_ context.Context, p *model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.pipelines[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPipeline(_ context.Context, id string) (*model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[id]
	if !ok {
		return nil, notFound("pipeline", id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdatePipeline(_ context.Context, p *model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pipelines[p.ID]
	if !ok {
		return notFound("pipeline", p.ID)
	}
	if existing.Version != p.Version {
		return conflict(p.ID, p.Version)
	}
	p.Version++
	p.UpdatedAt = s.now()
	s.pipelines[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) ListPipelines(_ context.Context, filter PipelineFilter) ([]model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Pipeline
	for _, p := range s.pipelines {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.ProjectID != "" && p.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Projects and stages ---

func (s *MemoryStore) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = cloneProject(*p)
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	c := cloneProject(p)
	return &c, nil
}

func (s *MemoryStore) ListSchedulableProjects(context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hasStages := make(map[string]bool)
	for _, st := range s.stages {
		hasStages[st.ProjectID] = true
	}

	var out []model.Project
	for _, p := range s.projects {
		if p.QuotingHorizonDays != nil && hasStages[p.ID] {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SetConstructionStart(_ context.Context, projectID string, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return notFound("project", projectID)
	}
	d := model.Date(start)
	p.ConstructionStart = &d
	p.UpdatedAt = s.now()
	s.projects[projectID] = p
	return nil
}

func (s *MemoryStore) ListStages(_ context.Context, projectID string) ([]model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stagesOf(projectID), nil
}

func (s *MemoryStore) stagesOf(projectID string) []model.Stage {
	var out []model.Stage
	for _, st := range s.stages {
		if st.ProjectID == projectID {
			out = append(out, cloneStage(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *MemoryStore) GetStage(_ context.Context, id string) (*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stages[id]
	if !ok {
		return nil, notFound("stage", id)
	}
	c := cloneStage(st)
	return &c, nil
}

func (s *MemoryStore) UpsertStages(_ context.Context, projectID string, stages []model.Stage) ([]model.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, notFound("project", projectID)
	}

	now := s.now()
	for _, st := range mergeStages(projectID, s.stagesOf(projectID), stages) {
		st.UpdatedAt = now
		s.stages[st.ID] = st
	}
	return s.stagesOf(projectID), nil
}

func (s *MemoryStore) SetStageStatus(_ context.Context, status model.ProcurementStatus, stageIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range stageIDs {
		if _, ok := s.stages[id]; !ok {
			return notFound("stage", id)
		}
	}
	now := s.now()
	for _, id := range stageIDs {
		st := s.stages[id]
		st.ProcurementStatus = status
		st.UpdatedAt = now
		s.stages[id] = st
	}
	return nil
}

func (s *MemoryStore) SetStageDates(_ context.Context, stages []model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range stages {
		if _, ok := s.stages[in.ID]; !ok {
			return notFound("stage", in.ID)
		}
	}
	now := s.now()
	for _, in := range stages {
		st := s.stages[in.ID]
		st.PlannedStartDate = cloneTime(in.PlannedStartDate)
		st.UpdatedAt = now
		s.stages[in.ID] = st
	}
	return nil
}

// --- Supplier directory ---

func (s *MemoryStore) FindByCategory(_ context.Context, category string) ([]model.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category = model.NormalizeCategory(category)
	var out []model.Supplier
	for _, sup := range s.suppliers {
		if !inCategory(sup, category) {
			continue
		}
		c := cloneSupplier(sup)
		c.History = s.historyOf(sup.ID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompanyName != out[j].CompanyName {
			return out[i].CompanyName < out[j].CompanyName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func inCategory(sup model.Supplier, category string) bool {
	for _, c := range sup.Categories {
		if model.NormalizeCategory(c) == category {
			return true
		}
	}
	return len(sup.Categories) == 0 && model.IndustryCategory(sup.IndustryCode) == category
}

// historyOf must be called with mu held.
func (s *MemoryStore) historyOf(supplierID string) model.ResponseHistory {
	var h model.ResponseHistory
	for _, r := range s.rfqs {
		if r.SupplierID == supplierID && r.Status == model.RFQSent {
			h.RFQsSent++
		}
	}
	answered := make(map[string]bool)
	for _, b := range s.bids {
		if b.SupplierID == supplierID && !answered[b.RFQID] {
			answered[b.RFQID] = true
			h.BidsReceived++
		}
	}
	return h
}

func (s *MemoryStore) GetSupplier(_ context.Context, id string) (*model.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sup, ok := s.suppliers[id]
	if !ok {
		return nil, notFound("supplier", id)
	}
	c := cloneSupplier(sup)
	c.History = s.historyOf(id)
	return &c, nil
}

func (s *MemoryStore) UpsertSuppliers(_ context.Context, suppliers []model.Supplier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range suppliers {
		prepareSupplier(&suppliers[i])
		s.suppliers[suppliers[i].ID] = cloneSupplier(suppliers[i])
	}
	return len(suppliers), nil
}

func (s *MemoryStore) UpsertSignals(_ context.Context, signals model.SupplierSignals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sup, ok := s.suppliers[signals.SupplierID]
	if !ok {
		return notFound("supplier", signals.SupplierID)
	}
	sup.ApplySignals(signals)
	s.suppliers[sup.ID] = cloneSupplier(sup)
	return nil
}

// --- RFQs and bids ---

func (s *MemoryStore) EnsureRFQ(_ context.Context, r *model.RFQ) (*model.RFQ, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rfqs {
		if existing.PipelineID == r.PipelineID && existing.StageID == r.StageID && existing.SupplierID == r.SupplierID {
			c := cloneRFQ(existing)
			return &c, nil
		}
	}

	c := cloneRFQ(*r)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.RFQPending
	}
	c.CreatedAt = s.now()
	s.rfqs[c.ID] = c
	out := cloneRFQ(c)
	return &out, nil
}

func (s *MemoryStore) GetRFQ(_ context.Context, id string) (*model.RFQ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rfqs[id]
	if !ok {
		return nil, notFound("rfq", id)
	}
	c := cloneRFQ(r)
	return &c, nil
}

func (s *MemoryStore) MarkRFQ(_ context.Context, id string, status model.RFQStatus, sentAt *time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rfqs[id]
	if !ok {
		return notFound("rfq", id)
	}
	r.Status = status
	r.SentAt = cloneTime(sentAt)
	r.Error = errMsg
	s.rfqs[id] = r
	return nil
}

func (s *MemoryStore) ListRFQs(_ context.Context, pipelineID string) ([]model.RFQ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RFQ
	for _, r := range s.rfqs {
		if r.PipelineID == pipelineID {
			out = append(out, cloneRFQ(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StageID != out[j].StageID {
			return out[i].StageID < out[j].StageID
		}
		return out[i].SupplierID < out[j].SupplierID
	})
	return out, nil
}

func (s *MemoryStore) CreateBid(_ context.Context, b *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rfqs[b.RFQID]
	if !ok {
		return notFound("rfq", b.RFQID)
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.PipelineID, b.StageID, b.SupplierID = r.PipelineID, r.StageID, r.SupplierID
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = s.now()
	}
	s.bids[b.ID] = *b
	return nil
}

func (s *MemoryStore) ListBids(_ context.Context, pipelineID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Bid
	for _, b := range s.bids {
		if b.PipelineID == pipelineID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- copies ---

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

func cloneLocation(l model.Location) model.Location {
	l.Lat = cloneFloat(l.Lat)
	l.Lon = cloneFloat(l.Lon)
	return l
}

func cloneProject(p model.Project) model.Project {
	p.Location = cloneLocation(p.Location)
	p.QuotingHorizonDays = cloneInt(p.QuotingHorizonDays)
	p.ConstructionStart = cloneTime(p.ConstructionStart)
	p.Documents = append([]model.Document(nil), p.Documents...)
	return p
}

func cloneStage(st model.Stage) model.Stage {
	st.PlannedStartDate = cloneTime(st.PlannedStartDate)
	st.PlannedDurationDays = cloneInt(st.PlannedDurationDays)
	return st
}

func cloneSupplier(sup model.Supplier) model.Supplier {
	sup.Categories = append([]string(nil), sup.Categories...)
	sup.ServiceAreas = append([]string(nil), sup.ServiceAreas...)
	sup.Location = cloneLocation(sup.Location)
	sup.Rating = cloneFloat(sup.Rating)
	sup.RiskScore = cloneFloat(sup.RiskScore)
	return sup
}

func cloneRFQ(r model.RFQ) model.RFQ {
	r.SentAt = cloneTime(r.SentAt)
	return r
}
