package model

import "time"

// UploadDecision is the outcome of matching an uploaded document.
type UploadDecision string

const (
	DecisionNewApplicant    UploadDecision = "new_applicant"
	DecisionMatchedExisting UploadDecision = "matched_existing"
)

// UploadRecord is written once per ingested file. The extraction fields are
// immutable after creation; review fields may be appended later.
type UploadRecord struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`

	// What the extraction provider read out of the file.
	Extracted            CandidateIdentity `json:"extracted"`
	ExtractionConfidence float64           `json:"extraction_confidence"`

	// What the match decided. Actual holds the matched or created
	// applicant's stored identity so reviewers can compare both sides.
	MatchedApplicantID string            `json:"matched_applicant_id,omitempty"`
	Actual             CandidateIdentity `json:"actual"`
	MatchConfidence    float64           `json:"match_confidence"`
	Decision           UploadDecision    `json:"decision"`

	// Optional human review, appended without mutating the fields above.
	Reviewed   bool       `json:"reviewed"`
	Approved   bool       `json:"approved"`
	ReviewerID string     `json:"reviewer_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UploadReview holds the fields a human reviewer may append to an upload
// record.
type UploadReview struct {
	Approved   bool   `json:"approved"`
	ReviewerID string `json:"reviewer_id"`
	Notes      string `json:"notes,omitempty"`
}
