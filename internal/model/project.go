package model

import (
	"strings"
	"time"
)

// DefaultStageDurationDays is used by timeline inference when a stage has no duration.
const DefaultStageDurationDays = 30

// ProcurementStatus is whether sourcing for a stage is underway.
type ProcurementStatus string

const (
	ProcurementActive   ProcurementStatus = "ACTIVE"
	ProcurementDeferred ProcurementStatus = "DEFERRED"
)

// Location is where work happens or where a supplier operates.
type Location struct {
	City    string   `json:"city,omitempty" yaml:"city"`
	Region  string   `json:"region,omitempty" yaml:"region"`
	Country string   `json:"country,omitempty" yaml:"country"`
	Lat     *float64 `json:"lat,omitempty" yaml:"lat"`
	Lon     *float64 `json:"lon,omitempty" yaml:"lon"`
}

// Specified reports whether any part of the location is known.
func (l Location) Specified() bool {
	return strings.TrimSpace(l.City) != "" || strings.TrimSpace(l.Region) != "" || l.HasCoordinates()
}

// HasCoordinates reports whether both lat and lon are set.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Document is text already extracted from an uploaded project file.
type Document struct {
	Name string `json:"name" yaml:"name"`
	Text string `json:"text" yaml:"text"`
}

// Project groups the stages being procured for one construction job.
type Project struct {
	ID                 string     `json:"id" yaml:"id"`
	OwnerID            string     `json:"owner_id" yaml:"owner_id"`
	Name               string     `json:"name" yaml:"name"`
	Description        string     `json:"description,omitempty" yaml:"description"`
	Location           Location   `json:"location" yaml:"location"`
	QuotingHorizonDays *int       `json:"quoting_horizon_days,omitempty" yaml:"quoting_horizon_days"`
	ConstructionStart  *time.Time `json:"construction_start,omitempty" yaml:"construction_start"`
	Documents          []Document `json:"documents,omitempty" yaml:"documents"`
	CreatedAt          time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"-"`
}

// Stage is a unit of procurement work belonging to a project.
type Stage struct {
	ID                  string            `json:"id" yaml:"id"`
	ProjectID           string            `json:"project_id" yaml:"-"`
	Sequence            int               `json:"sequence" yaml:"sequence"`
	Name                string            `json:"name" yaml:"name"`
	Category            string            `json:"category" yaml:"category"`
	Description         string            `json:"description,omitempty" yaml:"description"`
	ProcurementStatus   ProcurementStatus `json:"procurement_status" yaml:"procurement_status"`
	PlannedStartDate    *time.Time        `json:"planned_start_date,omitempty" yaml:"planned_start_date"`
	PlannedDurationDays *int              `json:"planned_duration_days,omitempty" yaml:"planned_duration_days"`
	UpdatedAt           time.Time         `json:"updated_at" yaml:"-"`
}

// DurationDays returns the planned duration. Unset or negative durations
// take the default; an explicit zero is a same-day stage.
func (s Stage) DurationDays() int {
	if s.PlannedDurationDays == nil || *s.PlannedDurationDays < 0 {
		return DefaultStageDurationDays
	}
	return *s.PlannedDurationDays
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
