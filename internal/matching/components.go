package matching

import (
	"math"
	"strings"

	"github.com/sells-group/procure-cli/internal/model"
)

// Component weights of the composite score.
const (
	WeightCategory  = 0.40
	WeightLocation  = 0.20
	WeightResponse  = 0.15
	WeightRisk      = 0.15
	WeightFinancial = 0.10

	// TaxDebtPenalty multiplies the composite of a supplier with tax debt.
	TaxDebtPenalty = 0.70
	// AdjacentPenalty multiplies categoryScore for adjacent-pool candidates.
	AdjacentPenalty = 0.6
)

// Components are the five per-supplier sub-scores, each in 0..100.
type Components struct {
	Category  float64
	Location  float64
	Response  float64
	Risk      float64
	Financial float64
}

// Composite combines the components and applies the tax debt penalty.
func Composite(c Components, hasTaxDebt bool) float64 {
	total := WeightCategory*c.Category +
		WeightLocation*c.Location +
		WeightResponse*c.Response +
		WeightRisk*c.Risk +
		WeightFinancial*c.Financial
	if hasTaxDebt {
		total *= TaxDebtPenalty
	}
	return clamp(total)
}

// CategoryScore rates how well sup's trade tags fit target.
func CategoryScore(sup model.Supplier, target string) float64 {
	target = model.NormalizeCategory(target)
	for _, c := range sup.Categories {
		if model.NormalizeCategory(c) == target {
			return 100
		}
	}
	if len(sup.Categories) == 0 {
		switch {
		case strings.TrimSpace(sup.IndustryCode) == "":
			return 20
		case model.IndustryCategory(sup.IndustryCode) == target:
			return 60
		default:
			return 10
		}
	}
	for _, c := range sup.Categories {
		if IsAdjacent(c, target) {
			return 50
		}
	}
	return 10
}

// LocationScore rates how well sup covers the project location.
func LocationScore(sup model.Supplier, project model.Location) float64 {
	if !project.Specified() {
		return 50
	}
	if !hasLocationSignal(sup) {
		return 20
	}
	if sameName(sup.Location.City, project.City) {
		return 100
	}
	for _, area := range sup.ServiceAreas {
		if sameName(area, project.City) || sameName(area, project.Region) {
			return 90
		}
	}
	if within(sup, project) {
		return 90
	}
	if sameName(sup.Location.Region, project.Region) {
		return 40
	}
	return 10
}

func hasLocationSignal(sup model.Supplier) bool {
	return sup.Location.Specified() || len(sup.ServiceAreas) > 0
}

func within(sup model.Supplier, project model.Location) bool {
	if sup.ServiceRadiusKM <= 0 {
		return false
	}
	from, to := point(sup.Location), point(project)
	if from == nil || to == nil {
		return false
	}
	return haversineKM(from, to) <= sup.ServiceRadiusKM
}

// ResponseScore bands the share of past RFQs a supplier answered.
func ResponseScore(h model.ResponseHistory) float64 {
	if h.RFQsSent <= 0 {
		return 50
	}
	ratio := float64(h.BidsReceived) / float64(h.RFQsSent)
	switch {
	case ratio >= 0.7:
		return 100
	case ratio >= 0.5:
		return 80
	case ratio >= 0.3:
		return 60
	case ratio >= 0.1:
		return 40
	default:
		return 20
	}
}

// RiskComponent inverts an external risk score; unknown risk is neutral.
func RiskComponent(risk *float64) float64 {
	if risk == nil {
		return 50
	}
	return clamp(100 - *risk)
}

// FinancialScore rewards a high rating and verification.
func FinancialScore(rating *float64, verified bool) float64 {
	score := 50.0
	if rating != nil {
		switch r := *rating; {
		case r >= 4.5:
			score += 30
		case r >= 4.0:
			score += 20
		case r >= 3.5:
			score += 10
		case r < 3.0:
			score -= 10
		}
	}
	if verified {
		score += 20
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
