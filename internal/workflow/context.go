package workflow

import (
	"strings"

	"github.com/sells-group/evaluation-cli/internal/model"
)

// Context is the immutable per-run view of everything a stage may read.
// Updates go through copy-on-write constructors so no stage can mutate
// state behind another's back.
type Context struct {
	Applicant model.Applicant
	Profile   *model.SchoolProfile
	Outputs   map[string]map[string]any // stage id → payload
}

// NewContext builds the initial run context.
func NewContext(a model.Applicant, p *model.SchoolProfile) Context {
	return Context{
		Applicant: a,
		Profile:   p,
		Outputs:   map[string]map[string]any{},
	}
}

// WithFields returns a copy with the given fields merged into the
// applicant's field bag.
func (c Context) WithFields(fields map[string]any) Context {
	merged := make(map[string]any, len(c.Applicant.Fields)+len(fields))
	for k, v := range c.Applicant.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		if v != nil {
			merged[k] = v
		}
	}
	c.Applicant.Fields = merged
	return c
}

// WithOutput returns a copy with one stage's payload recorded.
func (c Context) WithOutput(stageID string, payload map[string]any) Context {
	outputs := make(map[string]map[string]any, len(c.Outputs)+1)
	for k, v := range c.Outputs {
		outputs[k] = v
	}
	outputs[stageID] = payload
	c.Outputs = outputs
	return c
}

// Field looks up a named input, checking applicant fields first and then
// the school profile.
func (c Context) Field(name string) (any, bool) {
	if v, ok := c.Applicant.Fields[name]; ok && present(v) {
		return v, true
	}
	if c.Profile != nil {
		if v, ok := c.Profile.Fields[name]; ok && present(v) {
			return v, true
		}
	}
	return nil, false
}

// MissingOf returns the subset of required fields absent from the context,
// in declaration order.
func (c Context) MissingOf(required []string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := c.Field(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// DocumentText joins all submitted documents for full-text extraction.
func (c Context) DocumentText() string {
	return strings.Join(c.Applicant.Documents, "\n\n---\n\n")
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
