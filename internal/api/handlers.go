package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/intake"
	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
)

const defaultLookbackHours = 24

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string              `json:"status"`
	Queue    pipeline.QueueStats `json:"queue"`
	Breakers map[string]string   `json:"breakers,omitempty"`
}

// ActionResponse acknowledges an asynchronous pipeline operation.
type ActionResponse struct {
	ID     string               `json:"id"`
	Status model.PipelineStatus `json:"status"`
}

// ConstructionStartRequest is the body of PUT /v1/projects/{id}/construction-start.
type ConstructionStartRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
}

// BidRequest is the body of POST /v1/rfqs/{id}/bids.
type BidRequest struct {
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	LeadTimeDays int     `json:"lead_time_days"`
	Notes        string  `json:"notes,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Queue: s.deps.Orchestrator.Stats()}
	if s.deps.Breakers != nil {
		resp.Breakers = s.deps.Breakers.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	lookback := defaultLookbackHours
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, badRequest("lookback_hours must be a positive integer"))
			return
		}
		lookback = n
	}
	snap, err := s.deps.Collector.Collect(r.Context(), lookback)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req intake.ProjectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.deps.Intake.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func (s *server) handleConstructionStart(w http.ResponseWriter, r *http.Request) {
	var req ConstructionStartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, r, badRequest("date must be YYYY-MM-DD"))
		return
	}
	stages, err := s.deps.Timeline.Apply(r.Context(), chi.URLParam(r, "id"), start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": chi.URLParam(r, "id"), "stages": stages})
}

func (s *server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, r, badRequest("owner_id is required"))
		return
	}
	p, err := s.deps.Orchestrator.CreatePipeline(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Orchestrator.GetPipelineStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	s.pipelineAction(w, r, s.deps.Orchestrator.StartPipeline)
}

func (s *server) handleResumePipeline(w http.ResponseWriter, r *http.Request) {
	s.pipelineAction(w, r, s.deps.Orchestrator.ResumePipeline)
}

func (s *server) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	s.pipelineAction(w, r, s.deps.Orchestrator.CancelPipeline)
}

// pipelineAction runs an asynchronous transition and reports the status
// the pipeline was left in.
func (s *server) pipelineAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := action(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Orchestrator.GetPipelineStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ActionResponse{ID: p.ID, Status: p.Status})
}

func (s *server) handleStageSuppliers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stage, err := s.deps.Projects.GetStage(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	proj, err := s.deps.Projects.GetProject(ctx, stage.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scored, err := s.deps.Matcher.FindAndScoreSuppliers(ctx, *stage, proj.Location)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if scored == nil {
		scored = []model.ScoredSupplier{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage_id": stage.ID, "suppliers": scored})
}

func (s *server) handleCreateBid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req BidRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, badRequest("amount must be positive"))
		return
	}
	if req.LeadTimeDays < 0 {
		writeError(w, r, badRequest("lead_time_days must not be negative"))
		return
	}

	rfq, err := s.deps.RFQs.GetRFQ(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rfq.Status != model.RFQSent {
		writeError(w, r, eris.Wrapf(pipeline.ErrInvalidState, "rfq %s is %s", rfq.ID, rfq.Status))
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "EUR"
	}
	bid := &model.Bid{
		RFQID:        rfq.ID,
		Amount:       req.Amount,
		Currency:     currency,
		LeadTimeDays: req.LeadTimeDays,
		Notes:        req.Notes,
		ReceivedAt:   s.deps.Now(),
	}
	if err := s.deps.RFQs.CreateBid(ctx, bid); err != nil {
		writeError(w, r, err)
		return
	}

	// The bid stays stored when the awaiting pipeline cannot be resumed.
	if err := s.deps.Orchestrator.NotifyBid(ctx, rfq.ID); err != nil {
		zap.L().With(zap.String("component", "api")).Warn("api: bid notify failed",
			zap.String("rfq_id", rfq.ID),
			zap.String("pipeline_id", rfq.PipelineID),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusCreated, bid)
}
