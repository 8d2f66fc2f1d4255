package model

import "time"

// InteractionType is the closed taxonomy of auditable orchestrator actions.
type InteractionType string

const (
	InteractionExtraction                   InteractionType = "extraction"
	InteractionIdentityMatch                InteractionType = "identity_match"
	InteractionEnrichmentFetch              InteractionType = "enrichment_fetch"
	InteractionEnrichmentValidationAttempt  InteractionType = "enrichment_validation_attempt"
	InteractionEnrichmentRemediationAttempt InteractionType = "enrichment_remediation_attempt"
	InteractionEnrichmentValidationPassed   InteractionType = "enrichment_validation_passed"
	InteractionGateCheck                    InteractionType = "gate_check"
	InteractionStageExecution               InteractionType = "stage_execution"
	InteractionPatternAnalysis              InteractionType = "pattern_analysis"
	InteractionSynthesis                    InteractionType = "synthesis"
	InteractionReportReady                  InteractionType = "report_ready"
	InteractionPause                        InteractionType = "pause"
	InteractionResume                       InteractionType = "resume"
	InteractionFileUpload                   InteractionType = "file_upload"
)

// AuditEvent is an immutable, append-only record of one orchestrator action.
// Sequence numbers are monotonic per applicant; there is no cross-applicant
// ordering guarantee.
type AuditEvent struct {
	ID          string          `json:"id"`
	ApplicantID string          `json:"applicant_id"`
	Actor       string          `json:"actor"`
	Type        InteractionType `json:"interaction_type"`
	Payload     map[string]any  `json:"payload,omitempty"`
	Sequence    int64           `json:"sequence"`
	Timestamp   time.Time       `json:"timestamp"`
}
