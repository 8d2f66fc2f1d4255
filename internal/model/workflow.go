package model

import "time"

// WorkflowStatus represents the current state of an evaluation workflow.
type WorkflowStatus string

const (
	WorkflowStatusRunning  WorkflowStatus = "running"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusResumed  WorkflowStatus = "resumed"
	WorkflowStatusComplete WorkflowStatus = "complete"
	WorkflowStatusFailed   WorkflowStatus = "failed"
)

// WorkflowState tracks one applicant's progress through the pipeline.
// There is exactly one state row per applicant; re-evaluation overwrites it.
type WorkflowState struct {
	ApplicantID   string         `json:"applicant_id"`
	Status        WorkflowStatus `json:"status"`
	CurrentStage  string         `json:"current_stage,omitempty"`
	PauseReason   string         `json:"pause_reason,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	GateAttempts  map[string]int `json:"gate_attempts,omitempty"` // stage id → checks performed this run
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StageStatus represents the outcome of a single stage execution.
type StageStatus string

const (
	StageStatusOK      StageStatus = "ok"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// StageResult is the output of one stage execution for one applicant.
// Re-execution replaces the prior result; only the audit log is versioned.
type StageResult struct {
	ApplicantID string         `json:"applicant_id"`
	StageID     string         `json:"stage_id"`
	Status      StageStatus    `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Fixed stage ids that run outside the gated analysis set.
const (
	StagePattern   = "pattern"
	StageSynthesis = "synthesis"
)
