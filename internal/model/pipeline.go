// Package model defines the entities shared by the orchestrator, the matching
// engine and the stores.
package model

import (
	"encoding/json"
	"time"
)

// StepName identifies a step handler. Names must match the step registry.
type StepName string

const (
	StepParseFiles      StepName = "PARSE_FILES"
	StepValidateParse   StepName = "VALIDATE_PARSE"
	StepMatchSuppliers  StepName = "MATCH_SUPPLIERS"
	StepEnrichCompanies StepName = "ENRICH_COMPANIES"
	StepSendRFQs        StepName = "SEND_RFQS"
	StepAwaitBids       StepName = "AWAIT_BIDS"
	StepCompareBids     StepName = "COMPARE_BIDS"
)

// FullSteps is the step list of a pipeline built from a newly created project.
var FullSteps = []StepName{
	StepParseFiles,
	StepValidateParse,
	StepMatchSuppliers,
	StepEnrichCompanies,
	StepSendRFQs,
	StepAwaitBids,
	StepCompareBids,
}

// WaveSteps is the reduced step list of a wave pipeline spawned for promoted stages.
var WaveSteps = []StepName{
	StepMatchSuppliers,
	StepEnrichCompanies,
	StepSendRFQs,
	StepAwaitBids,
	StepCompareBids,
}

// PipelineStatus is the orchestrator state of a pipeline.
type PipelineStatus string

const (
	PipelineStatusPending    PipelineStatus = "PENDING"
	PipelineStatusRunning    PipelineStatus = "RUNNING"
	PipelineStatusAwaiting   PipelineStatus = "AWAITING_EXTERNAL"
	PipelineStatusStepFailed PipelineStatus = "STEP_FAILED"
	PipelineStatusCompleted  PipelineStatus = "COMPLETED"
	PipelineStatusCancelled  PipelineStatus = "CANCELLED"
	PipelineStatusFailed     PipelineStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s PipelineStatus) Terminal() bool {
	switch s {
	case PipelineStatusCompleted, PipelineStatusCancelled, PipelineStatusFailed:
		return true
	}
	return false
}

// Resumable reports whether resume is legal from s.
func (s PipelineStatus) Resumable() bool {
	return s == PipelineStatusStepFailed || s == PipelineStatusAwaiting
}

// Trigger records what created a pipeline.
type Trigger string

const (
	TriggerProject Trigger = "project"
	TriggerAdmin   Trigger = "admin"
	TriggerWave    Trigger = "wave"
)

// RunReason records why the execution loop was entered.
type RunReason string

const (
	RunStart    RunReason = "start"
	RunAdvance  RunReason = "advance"  // the previous step succeeded
	RunResume   RunReason = "resume"   // manual resume
	RunBid      RunReason = "bid"      // a bid arrived for one of the pipeline's RFQs
	RunDeadline RunReason = "deadline" // the bid window elapsed
	RunRecover  RunReason = "recover"  // re-enqueued after a restart
)

// StepOutcome is the result recorded in the step log.
type StepOutcome string

const (
	OutcomeSucceeded StepOutcome = "SUCCEEDED"
	OutcomeAwaiting  StepOutcome = "AWAITING"
	OutcomeFailed    StepOutcome = "FAILED"
)

// StepLogEntry is one handler invocation.
type StepLogEntry struct {
	Step       StepName    `json:"step"`
	Index      int         `json:"index"`
	Attempt    int         `json:"attempt"`
	Reason     RunReason   `json:"reason"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Outcome    StepOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
}

// Pipeline is one orchestrated run of a fixed list of steps.
type Pipeline struct {
	ID               string                       `json:"id"`
	OwnerID          string                       `json:"owner_id"`
	ProjectID        string                       `json:"project_id,omitempty"`
	StageIDs         []string                     `json:"stage_ids,omitempty"` // wave scope; empty = all active stages
	Trigger          Trigger                      `json:"trigger"`
	Steps            []StepName                   `json:"steps"`
	CurrentStepIndex int                          `json:"current_step_index"`
	Status           PipelineStatus               `json:"status"`
	LastError        *string                      `json:"last_error,omitempty"`
	StepLog          []StepLogEntry               `json:"step_log"`
	Outputs          map[StepName]json.RawMessage `json:"outputs,omitempty"`
	Version          int64                        `json:"version"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// CurrentStep returns the step at the cursor, or false once every step has run.
func (p *Pipeline) CurrentStep() (StepName, bool) {
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return "", false
	}
	return p.Steps[p.CurrentStepIndex], true
}

// FailedAttempts counts failed invocations of the step at the cursor.
func (p *Pipeline) FailedAttempts() int {
	n := 0
	for _, e := range p.StepLog {
		if e.Index == p.CurrentStepIndex && e.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// LastEntry returns the most recent log entry for the step at index.
func (p *Pipeline) LastEntry(index int) (StepLogEntry, bool) {
	for i := len(p.StepLog) - 1; i >= 0; i-- {
		if p.StepLog[i].Index == index {
			return p.StepLog[i], true
		}
	}
	return StepLogEntry{}, false
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	c := *p
	c.StageIDs = append([]string(nil), p.StageIDs...)
	c.Steps = append([]StepName(nil), p.Steps...)
	c.StepLog = append([]StepLogEntry(nil), p.StepLog...)
	if p.LastError != nil {
		msg := *p.LastError
		c.LastError = &msg
	}
	if p.Outputs != nil {
		c.Outputs = make(map[StepName]json.RawMessage, len(p.Outputs))
		for k, v := range p.Outputs {
			c.Outputs[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}
