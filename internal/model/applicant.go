package model

import (
	"time"
)

// IdentityKey is the composite key used to deduplicate applicants. All four
// parts are stored in normalized form (lowercased, whitespace collapsed,
// diacritics stripped) so lookups are exact string comparisons.
type IdentityKey struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	SchoolName string `json:"school_name"`
	StateCode  string `json:"state_code"`
}

// Applicant is one evaluated entity. Created on first resolution of a new
// identity key; later uploads for the same key mutate the same record.
// Applicants are never hard-deleted; a finished workflow leaves the record
// in place for audit.
type Applicant struct {
	ID         string         `json:"id"`
	GivenName  string         `json:"given_name"`
	FamilyName string         `json:"family_name"`
	SchoolName string         `json:"school_name"`
	StateCode  string         `json:"state_code"`
	Documents  []string       `json:"documents,omitempty"` // raw submitted document texts
	Fields     map[string]any `json:"fields,omitempty"`    // extracted document fields
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Key returns the applicant's raw (un-normalized) identity key.
func (a *Applicant) Key() IdentityKey {
	return IdentityKey{
		GivenName:  a.GivenName,
		FamilyName: a.FamilyName,
		SchoolName: a.SchoolName,
		StateCode:  a.StateCode,
	}
}

// Field returns the named extracted field, if present.
func (a *Applicant) Field(name string) (any, bool) {
	v, ok := a.Fields[name]
	return v, ok
}

// MergeFields copies the given fields into the applicant's field bag,
// overwriting existing values. Returns the number of fields written.
func (a *Applicant) MergeFields(fields map[string]any) int {
	if a.Fields == nil {
		a.Fields = make(map[string]any, len(fields))
	}
	n := 0
	for k, v := range fields {
		if v == nil {
			continue
		}
		a.Fields[k] = v
		n++
	}
	return n
}

// Submission is the input that kicks off an evaluation workflow.
type Submission struct {
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	SchoolName string   `json:"school_name"`
	StateCode  string   `json:"state_code"`
	Documents  []string `json:"documents"`
}

// CandidateIdentity is an identity extracted from an uploaded document,
// before it has been matched to any applicant.
type CandidateIdentity struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	SchoolName string `json:"school_name"`
	StateCode  string `json:"state_code"`
}
