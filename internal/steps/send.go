package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/resilience"
	"github.com/sells-group/procure-cli/pkg/mailer"
)

// SendOutput is the SEND_RFQS result.
type SendOutput struct {
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	NoContact int `json:"no_contact"`
}

// SendRFQs dispatches one request for quotation per (stage, supplier). Pairs
// already sent in this pipeline are skipped, so a resume only retries the
// ones that failed.
type SendRFQs struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *SendRFQs) Name() model.StepName { return model.StepSendRFQs }

// Execute implements pipeline.Handler.
func (h *SendRFQs) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	p := sc.Pipeline
	log := zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name())), zap.String("pipeline_id", p.ID))

	if h.d.Mailer == nil {
		return pipeline.Result{}, eris.New("send: no mailer configured")
	}
	matches, err := matchesFrom(sc)
	if err != nil {
		return pipeline.Result{}, err
	}
	proj, err := h.d.project(ctx, p)
	if err != nil {
		return pipeline.Result{}, err
	}

	existing, err := h.d.RFQs.ListRFQs(ctx, p.ID)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "send: list rfqs")
	}
	sent := make(map[string]bool, len(existing))
	for _, r := range existing {
		if r.Status == model.RFQSent {
			sent[r.StageID+"|"+r.SupplierID] = true
		}
	}

	breaker := h.d.Breakers.Get("mailer")
	retry := h.d.Retry
	retry.OnRetry = resilience.RetryLogger("mailer", "send")

	var (
		out      SendOutput
		failures []string
	)
	for _, stageID := range sortedKeys(matches) {
		stage, err := h.d.Projects.GetStage(ctx, stageID)
		if err != nil {
			return pipeline.Result{}, eris.Wrapf(err, "send: load stage %s", stageID)
		}
		for _, cand := range matches[stageID] {
			if sent[stageID+"|"+cand.SupplierID] {
				out.Skipped++
				continue
			}
			if cand.ContactEmail == "" {
				out.NoContact++
				continue
			}

			rfq, err := h.d.RFQs.EnsureRFQ(ctx, &model.RFQ{
				PipelineID: p.ID,
				ProjectID:  proj.ID,
				StageID:    stageID,
				SupplierID: cand.SupplierID,
				Recipient:  cand.ContactEmail,
				MatchScore: cand.TotalScore,
				Status:     model.RFQPending,
			})
			if err != nil {
				return pipeline.Result{}, eris.Wrap(err, "send: record rfq")
			}
			if rfq.Status == model.RFQSent {
				out.Skipped++
				continue
			}

			msg := rfqMessage(h.d.MailFrom, proj, stage, cand, rfq)
			_, err = resilience.Call(ctx, breaker, retry, func(ctx context.Context) (*mailer.SendResult, error) {
				return h.d.Mailer.Send(ctx, msg)
			})
			if err != nil {
				if merr := h.d.RFQs.MarkRFQ(ctx, rfq.ID, model.RFQFailed, nil, err.Error()); merr != nil {
					return pipeline.Result{}, eris.Wrap(merr, "send: mark rfq failed")
				}
				failures = append(failures, fmt.Sprintf("%s: %v", cand.CompanyName, err))
				log.Warn("send: rfq dispatch failed",
					zap.String("rfq_id", rfq.ID),
					zap.String("supplier_id", cand.SupplierID),
					zap.Error(err),
				)
				continue
			}

			now := h.d.Now()
			if err := h.d.RFQs.MarkRFQ(ctx, rfq.ID, model.RFQSent, &now, ""); err != nil {
				return pipeline.Result{}, eris.Wrap(err, "send: mark rfq sent")
			}
			out.Sent++
		}
	}

	log.Info("send: dispatch complete",
		zap.Int("sent", out.Sent),
		zap.Int("skipped", out.Skipped),
		zap.Int("no_contact", out.NoContact),
		zap.Int("failed", len(failures)),
	)
	if len(failures) > 0 {
		return pipeline.Result{}, eris.Errorf("send: %d rfq(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return pipeline.Result{Output: out}, nil
}

func rfqMessage(from string, proj *model.Project, stage *model.Stage, cand model.ScoredSupplier, rfq *model.RFQ) mailer.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", cand.CompanyName)
	fmt.Fprintf(&b, "We are requesting a quotation for the %s work package of %s.\n\n", stage.Name, proj.Name)
	fmt.Fprintf(&b, "Category: %s\n", stage.Category)
	if loc := formatLocation(proj.Location); loc != "" {
		fmt.Fprintf(&b, "Location: %s\n", loc)
	}
	if stage.PlannedStartDate != nil {
		fmt.Fprintf(&b, "Planned start: %s\n", stage.PlannedStartDate.Format(time.DateOnly))
	}
	fmt.Fprintf(&b, "Planned duration: %d days\n", stage.DurationDays())
	if stage.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", stage.Description)
	}
	fmt.Fprintf(&b, "\nPlease quote reference %s with your price and lead time.\n", rfq.ID)

	return mailer.Message{
		From:    from,
		To:      cand.ContactEmail,
		Subject: fmt.Sprintf("Request for quotation: %s (%s)", stage.Name, proj.Name),
		Text:    b.String(),
		Tags: map[string]string{
			"pipeline_id": rfq.PipelineID,
			"rfq_id":      rfq.ID,
			"stage_id":    rfq.StageID,
		},
		IdempotencyKey: rfq.ID,
	}
}

func formatLocation(l model.Location) string {
	var parts []string
	for _, s := range []string{l.City, l.Region, l.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
