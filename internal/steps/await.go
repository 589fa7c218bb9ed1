package steps

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/config"
	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
)

// AwaitMode selects when AWAIT_BIDS lets the pipeline continue.
type AwaitMode string

const (
	// AwaitMinBids waits until every stage has enough bids or every RFQ
	// was answered.
	AwaitMinBids AwaitMode = "min_bids"
	// AwaitDeadline waits until the bid window after the last dispatch ends.
	AwaitDeadline AwaitMode = "deadline"
	// AwaitEither passes on whichever of the two comes first.
	AwaitEither AwaitMode = "either"
	// AwaitManual passes only on an operator resume.
	AwaitManual AwaitMode = "manual"
)

// AwaitPolicy configures AWAIT_BIDS.
type AwaitPolicy struct {
	Mode    AwaitMode
	MinBids int
	Window  time.Duration
	// ManualOverride lets an operator resume pass in every mode without
	// re-checking bids or the deadline.
	ManualOverride bool
}

// DefaultAwaitPolicy waits for three bids per stage or seven days. A resume
// re-checks the condition.
func DefaultAwaitPolicy() AwaitPolicy {
	return AwaitPolicy{Mode: AwaitEither, MinBids: 3, Window: 7 * 24 * time.Hour}
}

// PolicyFromConfig converts the await settings.
func PolicyFromConfig(c config.AwaitConfig) AwaitPolicy {
	p := AwaitPolicy{
		Mode:           AwaitMode(c.Mode),
		MinBids:        c.MinBids,
		Window:         time.Duration(c.WindowDays) * 24 * time.Hour,
		ManualOverride: c.ManualOverride,
	}
	def := DefaultAwaitPolicy()
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	if p.MinBids < 1 {
		p.MinBids = def.MinBids
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	return p
}

// StageBids counts responses for one stage. Bids is the number of sent RFQs
// with at least one bid; Responded counts distinct suppliers.
type StageBids struct {
	StageID   string `json:"stage_id"`
	RFQsSent  int    `json:"rfqs_sent"`
	Responded int    `json:"responded"`
	Bids      int    `json:"bids"`
}

// AwaitStatus is the AWAIT_BIDS evaluation, stored as its output.
type AwaitStatus struct {
	Mode      AwaitMode   `json:"mode"`
	Stages    []StageBids `json:"stages"`
	Deadline  *time.Time  `json:"deadline,omitempty"`
	Satisfied bool        `json:"satisfied"`
	Reason    string      `json:"reason,omitempty"`
}

// AwaitBids checks whether enough bids have arrived. It never blocks: an
// unmet condition parks the pipeline in AWAITING_EXTERNAL until a bid, the
// deadline sweep or an operator resumes it.
type AwaitBids struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *AwaitBids) Name() model.StepName { return model.StepAwaitBids }

// Execute implements pipeline.Handler.
func (h *AwaitBids) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	st, err := h.Evaluate(ctx, sc.Pipeline.ID, sc.Reason)
	if err != nil {
		return pipeline.Result{}, err
	}

	zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name()))).Info("await: bids evaluated",
		zap.String("pipeline_id", sc.Pipeline.ID),
		zap.String("mode", string(st.Mode)),
		zap.Bool("satisfied", st.Satisfied),
		zap.String("reason", st.Reason),
	)
	return pipeline.Result{Awaiting: !st.Satisfied, Output: st}, nil
}

// Evaluate applies the policy to the pipeline's RFQs and bids.
func (h *AwaitBids) Evaluate(ctx context.Context, pipelineID string, reason model.RunReason) (*AwaitStatus, error) {
	pol := h.d.Await
	rfqs, err := h.d.RFQs.ListRFQs(ctx, pipelineID)
	if err != nil {
		return nil, eris.Wrap(err, "await: list rfqs")
	}
	bids, err := h.d.RFQs.ListBids(ctx, pipelineID)
	if err != nil {
		return nil, eris.Wrap(err, "await: list bids")
	}

	st := &AwaitStatus{Mode: pol.Mode}
	byStage := make(map[string]*StageBids)
	sent := make(map[string]bool)
	var order []string
	var lastSent *time.Time
	for _, r := range rfqs {
		if r.Status != model.RFQSent {
			continue
		}
		sb, ok := byStage[r.StageID]
		if !ok {
			sb = &StageBids{StageID: r.StageID}
			byStage[r.StageID] = sb
			order = append(order, r.StageID)
		}
		sb.RFQsSent++
		sent[r.ID] = true
		if r.SentAt != nil && (lastSent == nil || r.SentAt.After(*lastSent)) {
			t := *r.SentAt
			lastSent = &t
		}
	}

	// Revised quotes on one RFQ count once, as in COMPARE_BIDS.
	answered := make(map[string]bool)
	responded := make(map[string]bool)
	for _, b := range bids {
		sb, ok := byStage[b.StageID]
		if !ok || !sent[b.RFQID] || answered[b.RFQID] {
			continue
		}
		answered[b.RFQID] = true
		sb.Bids++
		if key := b.StageID + "|" + b.SupplierID; !responded[key] {
			responded[key] = true
			sb.Responded++
		}
	}
	for _, id := range order {
		st.Stages = append(st.Stages, *byStage[id])
	}

	if len(st.Stages) == 0 {
		st.Satisfied, st.Reason = true, "no_rfqs"
		return st, nil
	}

	minMet := true
	for _, sb := range st.Stages {
		if sb.Bids < pol.MinBids && sb.Bids < sb.RFQsSent {
			minMet = false
			break
		}
	}
	deadlineMet := false
	if lastSent != nil {
		d := lastSent.Add(pol.Window)
		st.Deadline = &d
		deadlineMet = !h.d.Now().Before(d)
	}
	manual := reason == model.RunResume

	switch {
	case manual && pol.ManualOverride:
		st.Satisfied, st.Reason = true, "manual"
	case pol.Mode == AwaitManual:
		if manual {
			st.Satisfied, st.Reason = true, "manual"
		}
	case (pol.Mode == AwaitMinBids || pol.Mode == AwaitEither) && minMet:
		st.Satisfied, st.Reason = true, "min_bids"
	case (pol.Mode == AwaitDeadline || pol.Mode == AwaitEither) && deadlineMet:
		st.Satisfied, st.Reason = true, "deadline"
	}
	return st, nil
}

// Deadline reports when the bid window of pipeline p closes. Modes without a
// deadline, and pipelines with nothing sent, report false.
func (h *AwaitBids) Deadline(ctx context.Context, p *model.Pipeline) (time.Time, bool, error) {
	if h.d.Await.Mode != AwaitDeadline && h.d.Await.Mode != AwaitEither {
		return time.Time{}, false, nil
	}
	st, err := h.Evaluate(ctx, p.ID, model.RunDeadline)
	if err != nil {
		return time.Time{}, false, err
	}
	if st.Deadline == nil {
		return time.Time{}, false, nil
	}
	return *st.Deadline, true, nil
}
