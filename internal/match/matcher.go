package match

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// DefaultAttachThreshold is the minimum match confidence for attaching an
// upload to an existing applicant. The comparison is inclusive: a score of
// exactly 0.8 attaches.
const DefaultAttachThreshold = 0.8

// DefaultMaxCandidates caps the candidate scan per upload.
const DefaultMaxCandidates = 5

// identityFields are the extraction targets for upload identity.
var identityFields = []string{"given_name", "family_name", "school_name", "state_code"}

// Matcher routes uploaded documents: attach to an existing applicant when
// the tiered match clears the threshold, otherwise create a new applicant.
// Every upload leaves a record holding both the extracted and the decided
// identity, whether or not it matched.
type Matcher struct {
	store      store.Store
	audit      *audit.Logger
	extraction provider.ExtractionProvider

	Threshold     float64
	MaxCandidates int
}

// NewMatcher creates a matcher with default threshold and candidate cap.
func NewMatcher(st store.Store, al *audit.Logger, p provider.ExtractionProvider) *Matcher {
	return &Matcher{
		store:         st,
		audit:         al,
		extraction:    p,
		Threshold:     DefaultAttachThreshold,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// HandleUpload ingests one document: extracts its identity, matches it
// against stored applicants, and either appends the document to the winner
// or creates a fresh applicant. The applicant the document landed on is in
// the returned record's MatchedApplicantID either way.
func (m *Matcher) HandleUpload(ctx context.Context, filename, documentText string) (*model.UploadRecord, error) {
	ext, err := m.extraction.Extract(ctx, documentText, provider.NewFocusHint(identityFields))
	if err != nil {
		return nil, eris.Wrapf(err, "match: identity extraction for %s", filename)
	}
	extracted := identityFromFields(ext.Fields)

	rec := &model.UploadRecord{
		ID:                   uuid.NewString(),
		Filename:             filename,
		Extracted:            extracted,
		ExtractionConfidence: ext.Confidence,
	}

	candidates, err := m.store.SearchCandidates(ctx, store.CandidateQuery{
		SchoolName: NormalizeSchool(extracted.SchoolName),
		StateCode:  strings.ToUpper(strings.TrimSpace(extracted.StateCode)),
		GivenName:  NormalizeName(extracted.GivenName),
		FamilyName: NormalizeName(extracted.FamilyName),
		Limit:      m.MaxCandidates * 10,
	})
	if err != nil {
		return nil, eris.Wrap(err, "match: candidate search")
	}

	ranked := Rank(extracted, candidates, m.MaxCandidates)
	if len(ranked) > 0 && ranked[0].Confidence >= m.Threshold {
		best := ranked[0]
		a, err := m.attach(ctx, best.Applicant.ID, documentText)
		if err != nil {
			return nil, err
		}
		rec.MatchedApplicantID = a.ID
		rec.Actual = actualIdentity(a)
		rec.MatchConfidence = best.Confidence
		rec.Decision = model.DecisionMatchedExisting
	} else {
		a, err := m.createApplicant(ctx, extracted, documentText)
		if err != nil {
			return nil, err
		}
		rec.MatchedApplicantID = a.ID
		rec.Actual = actualIdentity(a)
		if len(ranked) > 0 {
			rec.MatchConfidence = ranked[0].Confidence
		}
		rec.Decision = model.DecisionNewApplicant
	}

	if err := m.store.CreateUploadRecord(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "match: save upload record")
	}
	m.audit.MustRecord(ctx, rec.MatchedApplicantID, "system", model.InteractionFileUpload, map[string]any{
		"upload_id":  rec.ID,
		"filename":   filename,
		"decision":   string(rec.Decision),
		"confidence": rec.MatchConfidence,
	})
	zap.L().Info("match: upload routed",
		zap.String("upload_id", rec.ID),
		zap.String("applicant_id", rec.MatchedApplicantID),
		zap.String("decision", string(rec.Decision)),
		zap.Float64("confidence", rec.MatchConfidence),
	)
	return rec, nil
}

func (m *Matcher) attach(ctx context.Context, applicantID, documentText string) (*model.Applicant, error) {
	a, err := m.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, eris.Wrapf(err, "match: load applicant %s", applicantID)
	}
	a.Documents = append(a.Documents, documentText)
	if err := m.store.UpdateApplicant(ctx, a); err != nil {
		return nil, eris.Wrapf(err, "match: attach document to %s", applicantID)
	}
	return a, nil
}

func (m *Matcher) createApplicant(ctx context.Context, id model.CandidateIdentity, documentText string) (*model.Applicant, error) {
	key := NormalizeKey(model.IdentityKey{
		GivenName:  id.GivenName,
		FamilyName: id.FamilyName,
		SchoolName: id.SchoolName,
		StateCode:  id.StateCode,
	})

	// The exact key may exist even when no fuzzy candidate cleared the
	// threshold; an exact hit always attaches.
	if existing, err := m.store.FindApplicantByKey(ctx, key); err != nil {
		return nil, eris.Wrap(err, "match: key lookup")
	} else if existing != nil {
		return m.attach(ctx, existing.ID, documentText)
	}

	a := &model.Applicant{
		ID:         uuid.NewString(),
		GivenName:  id.GivenName,
		FamilyName: id.FamilyName,
		SchoolName: id.SchoolName,
		StateCode:  id.StateCode,
		Documents:  []string{documentText},
	}
	if err := m.store.CreateApplicant(ctx, a, key); err != nil {
		return nil, eris.Wrap(err, "match: create applicant")
	}
	return a, nil
}

// Review appends a human decision to an upload record.
func (m *Matcher) Review(ctx context.Context, uploadID string, review model.UploadReview) error {
	if err := m.store.ReviewUploadRecord(ctx, uploadID, review); err != nil {
		return eris.Wrapf(err, "match: review upload %s", uploadID)
	}
	return nil
}

func identityFromFields(fields map[string]any) model.CandidateIdentity {
	str := func(k string) string {
		if v, ok := fields[k].(string); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	return model.CandidateIdentity{
		GivenName:  str("given_name"),
		FamilyName: str("family_name"),
		SchoolName: str("school_name"),
		StateCode:  str("state_code"),
	}
}

func actualIdentity(a *model.Applicant) model.CandidateIdentity {
	return model.CandidateIdentity{
		GivenName:  a.GivenName,
		FamilyName: a.FamilyName,
		SchoolName: a.SchoolName,
		StateCode:  a.StateCode,
	}
}
