package model

import "time"

// ReviewStatus is the human-review state of a school profile.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// RequiredProfileFields is the fixed checklist a school profile must satisfy
// before dependent analysis stages may run.
var RequiredProfileFields = []string{
	"grading_scale",
	"enrollment",
	"avg_gpa",
	"avg_sat",
	"ap_course_count",
	"matriculation_rate",
	"district_type",
}

// SchoolProfile is shared context keyed by (school_name, state_code). It is
// independent of any single applicant: concurrent workflows referencing the
// same school share one profile.
type SchoolProfile struct {
	ID           string         `json:"id"`
	SchoolName   string         `json:"school_name"`
	StateCode    string         `json:"state_code"`
	Fields       map[string]any `json:"fields"`
	ReviewStatus ReviewStatus   `json:"review_status"`
	Confidence   float64        `json:"confidence"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Approved reports whether the profile has been human-approved. An approved
// profile is authoritative regardless of any freshly fetched confidence.
func (p *SchoolProfile) Approved() bool {
	return p != nil && p.ReviewStatus == ReviewStatusApproved
}

// MissingFields returns the required fields not yet present, in checklist
// order.
func (p *SchoolProfile) MissingFields() []string {
	var missing []string
	for _, f := range RequiredProfileFields {
		if p == nil {
			missing = append(missing, f)
			continue
		}
		if v, ok := p.Fields[f]; !ok || v == nil || v == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// MergeFields copies non-nil fields into the profile.
func (p *SchoolProfile) MergeFields(fields map[string]any) {
	if p.Fields == nil {
		p.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			continue
		}
		p.Fields[k] = v
	}
}
