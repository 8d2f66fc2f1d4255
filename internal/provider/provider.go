// Package provider defines the contracts for the external extraction,
// enrichment, and analysis collaborators the orchestrator depends on.
package provider

import (
	"context"
	"sync"

	"github.com/sells-group/evaluation-cli/internal/model"
)

// FocusHint narrows a provider call to specific missing fields. A nil or
// empty hint means a full pass.
type FocusHint struct {
	Fields []string
}

// NewFocusHint builds a hint for the given fields, or nil when there are
// none.
func NewFocusHint(fields []string) *FocusHint {
	if len(fields) == 0 {
		return nil
	}
	return &FocusHint{Fields: fields}
}

// Focused reports whether the hint actually narrows anything.
func (h *FocusHint) Focused() bool {
	return h != nil && len(h.Fields) > 0
}

// Extraction is the result of one extraction or enrichment call.
type Extraction struct {
	Fields     map[string]any
	Confidence float64
}

// ExtractionProvider reads structured fields out of raw document text.
type ExtractionProvider interface {
	Extract(ctx context.Context, documentText string, hint *FocusHint) (*Extraction, error)
}

// EnrichmentProvider fetches shared school context by (school, state).
type EnrichmentProvider interface {
	Enrich(ctx context.Context, schoolName, stateCode string, hint *FocusHint) (*Extraction, error)
}

// AnalysisRequest carries everything one analysis stage may read: the
// applicant's data, the shared school context, and the outputs of stages
// that already ran.
type AnalysisRequest struct {
	StageID      string
	Applicant    model.Applicant
	Profile      *model.SchoolProfile
	PriorOutputs map[string]map[string]any

	// HistoricalPool is only populated for the pattern stage.
	HistoricalPool []model.StageResult
}

// AnalysisProvider runs one analysis stage and returns its opaque payload.
type AnalysisProvider interface {
	Run(ctx context.Context, req AnalysisRequest) (map[string]any, error)
}

// Registry maps stage ids to their analysis providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]AnalysisProvider
}

// NewRegistry creates an empty analysis provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]AnalysisProvider)}
}

// Register binds a provider to a stage id.
func (r *Registry) Register(stageID string, p AnalysisProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[stageID] = p
}

// Get returns the provider for a stage id, or nil if none is registered.
func (r *Registry) Get(stageID string) AnalysisProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[stageID]
}

// Stages returns all registered stage ids.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
