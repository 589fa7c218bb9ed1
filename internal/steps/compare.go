package steps

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
)

// StageComparison ranks the bids received for one stage.
type StageComparison struct {
	StageID     string      `json:"stage_id"`
	Bids        int         `json:"bids"`
	Lowest      float64     `json:"lowest"`
	Highest     float64     `json:"highest"`
	Median      float64     `json:"median"`
	Spread      float64     `json:"spread"`
	Recommended *model.Bid  `json:"recommended,omitempty"`
	Ranked      []model.Bid `json:"ranked,omitempty"`
}

// CompareOutput is the COMPARE_BIDS result.
type CompareOutput struct {
	Stages []StageComparison `json:"stages"`
}

// CompareBids ranks each stage's bids by price, then lead time, then the
// supplier's match score.
type CompareBids struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *CompareBids) Name() model.StepName { return model.StepCompareBids }

// Execute implements pipeline.Handler.
func (h *CompareBids) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	id := sc.Pipeline.ID
	rfqs, err := h.d.RFQs.ListRFQs(ctx, id)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "compare: list rfqs")
	}
	bids, err := h.d.RFQs.ListBids(ctx, id)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "compare: list bids")
	}

	out := compareBids(rfqs, bids)
	recommended := 0
	for _, s := range out.Stages {
		if s.Recommended != nil {
			recommended++
		}
	}
	zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name()))).Info("compare: bids ranked",
		zap.String("pipeline_id", id),
		zap.Int("stages", len(out.Stages)),
		zap.Int("bids", len(bids)),
		zap.Int("recommended", recommended),
	)
	return pipeline.Result{Output: out}, nil
}

func compareBids(rfqs []model.RFQ, bids []model.Bid) CompareOutput {
	score := make(map[string]float64, len(rfqs))
	var stages []string
	seenStage := make(map[string]bool)
	for _, r := range rfqs {
		score[r.ID] = r.MatchScore
		if r.Status == model.RFQSent && !seenStage[r.StageID] {
			seenStage[r.StageID] = true
			stages = append(stages, r.StageID)
		}
	}

	// Keep the latest bid per RFQ.
	latest := make(map[string]model.Bid, len(bids))
	for _, b := range bids {
		if prev, ok := latest[b.RFQID]; !ok || b.ReceivedAt.After(prev.ReceivedAt) {
			latest[b.RFQID] = b
		}
	}
	byStage := make(map[string][]model.Bid)
	for _, b := range latest {
		byStage[b.StageID] = append(byStage[b.StageID], b)
		if !seenStage[b.StageID] {
			seenStage[b.StageID] = true
			stages = append(stages, b.StageID)
		}
	}
	sort.Strings(stages)

	out := CompareOutput{Stages: make([]StageComparison, 0, len(stages))}
	for _, stageID := range stages {
		ranked := byStage[stageID]
		sort.Slice(ranked, func(i, j int) bool {
			a, b := ranked[i], ranked[j]
			if a.Amount != b.Amount {
				return a.Amount < b.Amount
			}
			if a.LeadTimeDays != b.LeadTimeDays {
				return a.LeadTimeDays < b.LeadTimeDays
			}
			if score[a.RFQID] != score[b.RFQID] {
				return score[a.RFQID] > score[b.RFQID]
			}
			return a.ID < b.ID
		})

		cmp := StageComparison{StageID: stageID, Bids: len(ranked), Ranked: ranked}
		if len(ranked) > 0 {
			cmp.Lowest = ranked[0].Amount
			cmp.Highest = ranked[len(ranked)-1].Amount
			cmp.Median = median(ranked)
			cmp.Spread = cmp.Highest - cmp.Lowest
			rec := ranked[0]
			cmp.Recommended = &rec
		}
		out.Stages = append(out.Stages, cmp)
	}
	return out
}

// median of bids already sorted by amount.
func median(sorted []model.Bid) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2].Amount
	}
	return (sorted[n/2-1].Amount + sorted[n/2].Amount) / 2
}
