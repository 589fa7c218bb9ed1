package model

import "time"

// ResponseHistory counts past RFQs to a supplier and how many of them it
// answered. Revised bids on one RFQ count once.
type ResponseHistory struct {
	RFQsSent     int `json:"rfqs_sent"`
	BidsReceived int `json:"bids_received"`
}

// Supplier is a directory entry.
type Supplier struct {
	ID              string          `json:"id" yaml:"id"`
	CompanyName     string          `json:"company_name" yaml:"company_name"`
	ContactEmail    string          `json:"contact_email,omitempty" yaml:"contact_email"`
	Phone           string          `json:"phone,omitempty" yaml:"phone"`
	Website         string          `json:"website,omitempty" yaml:"website"`
	Categories      []string        `json:"categories,omitempty" yaml:"categories"`
	IndustryCode    string          `json:"industry_code,omitempty" yaml:"industry_code"`
	Location        Location        `json:"location" yaml:"location"`
	ServiceAreas    []string        `json:"service_areas,omitempty" yaml:"service_areas"`
	ServiceRadiusKM float64         `json:"service_radius_km,omitempty" yaml:"service_radius_km"`
	Rating          *float64        `json:"rating,omitempty" yaml:"rating"`
	Verified        bool            `json:"verified" yaml:"verified"`
	HasTaxDebt      bool            `json:"has_tax_debt" yaml:"has_tax_debt"`
	RiskScore       *float64        `json:"risk_score,omitempty" yaml:"risk_score"`
	History         ResponseHistory `json:"history" yaml:"-"`
}

// SupplierSignals are trust signals returned by the enrichment provider.
type SupplierSignals struct {
	SupplierID string    `json:"supplier_id"`
	RiskScore  *float64  `json:"risk_score,omitempty"`
	Rating     *float64  `json:"rating,omitempty"`
	Verified   bool      `json:"verified"`
	HasTaxDebt bool      `json:"has_tax_debt"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// ApplySignals overwrites the supplier's trust signals with s.
func (sup *Supplier) ApplySignals(s SupplierSignals) {
	sup.RiskScore = s.RiskScore
	sup.Rating = s.Rating
	sup.Verified = s.Verified
	sup.HasTaxDebt = s.HasTaxDebt
}

// MatchTier records which relaxation tier admitted a candidate.
type MatchTier string

const (
	TierExact           MatchTier = "exact"
	TierLocationRelaxed MatchTier = "location_relaxed"
	TierAdjacent        MatchTier = "adjacent"
)

// ScoredSupplier is a ranked candidate for one stage.
type ScoredSupplier struct {
	SupplierID      string    `json:"supplier_id"`
	CompanyName     string    `json:"company_name"`
	ContactEmail    string    `json:"contact_email,omitempty"`
	TotalScore      float64   `json:"total_score"`
	CategoryScore   float64   `json:"category_score"`
	LocationScore   float64   `json:"location_score"`
	ResponseScore   float64   `json:"response_score"`
	RiskScore       float64   `json:"risk_score"`
	FinancialScore  float64   `json:"financial_score"`
	HasTaxDebt      bool      `json:"has_tax_debt"`
	MatchedCategory string    `json:"matched_category"`
	Tier            MatchTier `json:"tier"`
}
