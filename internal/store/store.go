package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/evaluation-cli/internal/model"
)

// ErrDuplicateKey is returned by CreateApplicant when the normalized
// identity key already exists. The resolver treats this as an integrity
// fault, never as a merge.
var ErrDuplicateKey = eris.New("store: duplicate identity key")

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = eris.New("store: not found")

// CandidateQuery narrows the applicant scan used by upload matching.
// All fields are expected in normalized form; empty fields are ignored.
type CandidateQuery struct {
	SchoolName string
	StateCode  string
	GivenName  string
	FamilyName string
	Limit      int
}

// AuditFilter selects audit events by type and time window.
type AuditFilter struct {
	Type  model.InteractionType
	Since time.Time
	Until time.Time
	Limit int
}

// WorkflowFilter selects workflow states for listing.
type WorkflowFilter struct {
	Status model.WorkflowStatus
	Limit  int
}

// Store defines the persistence contract the orchestrator requires.
// Identity keys passed in are already normalized by the caller.
type Store interface {
	// Applicants
	CreateApplicant(ctx context.Context, a *model.Applicant, key model.IdentityKey) error
	GetApplicant(ctx context.Context, id string) (*model.Applicant, error)
	// FindApplicantByKey returns (nil, nil) when no applicant has the key.
	FindApplicantByKey(ctx context.Context, key model.IdentityKey) (*model.Applicant, error)
	UpdateApplicant(ctx context.Context, a *model.Applicant) error
	SearchCandidates(ctx context.Context, q CandidateQuery) ([]model.Applicant, error)

	// School profiles
	// GetSchoolProfile returns (nil, nil) when the profile does not exist.
	GetSchoolProfile(ctx context.Context, school, state string) (*model.SchoolProfile, error)
	// SaveSchoolProfile bumps the version and appends a history row; the
	// head row is upserted, the history is never overwritten.
	SaveSchoolProfile(ctx context.Context, p *model.SchoolProfile) error
	ListProfileVersions(ctx context.Context, school, state string) ([]model.SchoolProfile, error)

	// Stage results (one per applicant+stage; re-execution replaces)
	SaveStageResult(ctx context.Context, r *model.StageResult) error
	ListStageResults(ctx context.Context, applicantID string) ([]model.StageResult, error)
	// ListRecentSyntheses returns completed synthesis results for applicants
	// from the given school, newest first. Used as the pattern step's
	// historical comparison pool.
	ListRecentSyntheses(ctx context.Context, school, state string, limit int) ([]model.StageResult, error)

	// Audit (append-only)
	AppendAuditEvent(ctx context.Context, e *model.AuditEvent) (int64, error)
	ListAuditEvents(ctx context.Context, applicantID string, f AuditFilter) ([]model.AuditEvent, error)

	// Uploads
	CreateUploadRecord(ctx context.Context, r *model.UploadRecord) error
	GetUploadRecord(ctx context.Context, id string) (*model.UploadRecord, error)
	// ReviewUploadRecord appends review fields without touching the
	// original extraction fields.
	ReviewUploadRecord(ctx context.Context, id string, review model.UploadReview) error

	// Workflow states
	SaveWorkflowState(ctx context.Context, s *model.WorkflowState) error
	GetWorkflowState(ctx context.Context, applicantID string) (*model.WorkflowState, error)
	ListWorkflowStates(ctx context.Context, f WorkflowFilter) ([]model.WorkflowState, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
