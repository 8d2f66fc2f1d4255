package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/match"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// DefaultRemediationAttempts bounds the focused re-fetches the enricher may
// make after the initial fetch leaves required fields empty.
const DefaultRemediationAttempts = 2

// Enricher resolves the shared school profile for a workflow. Concurrent
// workflows for the same (school, state) are collapsed into one fetch via
// singleflight; every caller still gets the full audit trace on its own
// applicant stream.
type Enricher struct {
	store    store.Store
	audit    *audit.Logger
	provider provider.EnrichmentProvider
	group    singleflight.Group

	// MaxRemediation is the extra focused attempts allowed after the
	// initial fetch fails validation.
	MaxRemediation int
}

// NewEnricher creates an enricher with the default remediation bound.
func NewEnricher(st store.Store, al *audit.Logger, p provider.EnrichmentProvider) *Enricher {
	return &Enricher{
		store:          st,
		audit:          al,
		provider:       p,
		MaxRemediation: DefaultRemediationAttempts,
	}
}

// traceEvent is one audit entry produced while resolving a profile. The
// resolution runs once per (school, state) but the trace is replayed onto
// every sharing applicant's audit stream.
type traceEvent struct {
	t       model.InteractionType
	payload map[string]any
}

type enrichOutcome struct {
	profile *model.SchoolProfile
	trace   []traceEvent
	missing []string
}

// Ensure returns a validated school profile for the applicant's school,
// fetching and remediating as needed. A human-approved profile wins over
// any fresh fetch. When the remediation budget is exhausted with fields
// still missing, Ensure returns the partial profile alongside a
// MissingDataError so the caller can pause rather than crash.
//
// Profiles are keyed on the normalized school and state so every raw
// spelling of the same school shares one record and one in-flight fetch.
func (e *Enricher) Ensure(ctx context.Context, applicantID, school, state string) (*model.SchoolProfile, error) {
	normSchool := match.NormalizeSchool(school)
	normState := strings.ToUpper(strings.TrimSpace(state))
	key := normSchool + "|" + normState
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.resolve(ctx, school, state, normSchool, normState)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: resolve %s", key)
	}

	out := v.(*enrichOutcome)
	for _, ev := range out.trace {
		e.audit.MustRecord(ctx, applicantID, "system", ev.t, ev.payload)
	}
	if len(out.missing) > 0 {
		return out.profile, &MissingDataError{Scope: "enrichment", Missing: out.missing}
	}
	return out.profile, nil
}

// resolve fetches and validates one profile. Provider failures count as
// attempts that recovered nothing: the bounded loop keeps going and an
// exhausted budget surfaces as missing fields, never as a hard error.
func (e *Enricher) resolve(ctx context.Context, school, state, normSchool, normState string) (*enrichOutcome, error) {
	profile, err := e.store.GetSchoolProfile(ctx, normSchool, normState)
	if err != nil {
		return nil, eris.Wrap(err, "load profile")
	}
	if profile.Approved() {
		return &enrichOutcome{
			profile: profile,
			trace: []traceEvent{{model.InteractionEnrichmentValidationPassed, map[string]any{
				"school": school, "state": state, "source": "approved_profile",
			}}},
		}, nil
	}

	out := &enrichOutcome{}

	fetched, err := e.provider.Enrich(ctx, school, state, nil)
	if err != nil {
		zap.L().Warn("enrich: fetch failed",
			zap.String("school", school),
			zap.String("state", state),
			zap.Error(err),
		)
		out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentFetch, map[string]any{
			"school": school, "state": state, "error": err.Error(),
		}})
		fetched = &provider.Extraction{Fields: map[string]any{}}
	} else {
		out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentFetch, map[string]any{
			"school": school, "state": state,
			"confidence":  fetched.Confidence,
			"field_count": len(fetched.Fields),
		}})
	}

	if profile == nil {
		profile = &model.SchoolProfile{
			ID:           uuid.NewString(),
			SchoolName:   normSchool,
			StateCode:    normState,
			ReviewStatus: model.ReviewStatusPending,
		}
	}
	profile.MergeFields(fetched.Fields)
	profile.Confidence = fetched.Confidence

	missing := profile.MissingFields()
	out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentValidationAttempt, map[string]any{
		"school": school, "state": state, "attempt": 1, "missing": missing,
	}})

	for attempt := 1; len(missing) > 0 && attempt <= e.MaxRemediation; attempt++ {
		hint := provider.NewFocusHint(missing)
		refetched, err := e.provider.Enrich(ctx, school, state, hint)
		if err != nil {
			zap.L().Warn("enrich: remediation attempt failed",
				zap.String("school", school),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentRemediationAttempt, map[string]any{
				"school": school, "state": state, "attempt": attempt, "focus": missing, "error": err.Error(),
			}})
			refetched = &provider.Extraction{Fields: map[string]any{}}
		} else {
			out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentRemediationAttempt, map[string]any{
				"school": school, "state": state, "attempt": attempt, "focus": missing,
			}})
		}

		profile.MergeFields(refetched.Fields)
		missing = profile.MissingFields()
		out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentValidationAttempt, map[string]any{
			"school": school, "state": state, "attempt": attempt + 1, "missing": missing,
		}})
	}

	if err := e.store.SaveSchoolProfile(ctx, profile); err != nil {
		return nil, eris.Wrap(err, "save profile")
	}

	if len(missing) > 0 {
		out.missing = missing
		zap.L().Warn("enrich: remediation budget exhausted",
			zap.String("school", school),
			zap.String("state", state),
			zap.Strings("missing", missing),
		)
	} else {
		out.trace = append(out.trace, traceEvent{model.InteractionEnrichmentValidationPassed, map[string]any{
			"school": school, "state": state, "version": profile.Version,
		}})
	}

	out.profile = profile
	return out, nil
}
