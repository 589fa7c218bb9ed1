package model

import "time"

// RFQStatus tracks dispatch of one request for quotation.
type RFQStatus string

const (
	RFQPending RFQStatus = "PENDING"
	RFQSent    RFQStatus = "SENT"
	RFQFailed  RFQStatus = "FAILED"
)

// RFQ is a request for quotation sent to one supplier for one stage within
// one pipeline. (PipelineID, StageID, SupplierID) is unique.
type RFQ struct {
	ID         string     `json:"id"`
	PipelineID string     `json:"pipeline_id"`
	ProjectID  string     `json:"project_id"`
	StageID    string     `json:"stage_id"`
	SupplierID string     `json:"supplier_id"`
	Recipient  string     `json:"recipient"`
	MatchScore float64    `json:"match_score"`
	Status     RFQStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Bid is a supplier's price response to an RFQ.
type Bid struct {
	ID           string    `json:"id"`
	RFQID        string    `json:"rfq_id"`
	PipelineID   string    `json:"pipeline_id"`
	StageID      string    `json:"stage_id"`
	SupplierID   string    `json:"supplier_id"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	LeadTimeDays int       `json:"lead_time_days"`
	Notes        string    `json:"notes,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}
