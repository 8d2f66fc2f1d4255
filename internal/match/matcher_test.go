package match

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// identityExtractor returns a fixed identity for any document.
type identityExtractor struct {
	identity   model.CandidateIdentity
	confidence float64
}

func (e *identityExtractor) Extract(_ context.Context, _ string, _ *provider.FocusHint) (*provider.Extraction, error) {
	return &provider.Extraction{
		Fields: map[string]any{
			"given_name":  e.identity.GivenName,
			"family_name": e.identity.FamilyName,
			"school_name": e.identity.SchoolName,
			"state_code":  e.identity.StateCode,
		},
		Confidence: e.confidence,
	}, nil
}

func newTestMatcher(t *testing.T, extracted model.CandidateIdentity) (*Matcher, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	m := NewMatcher(st, audit.NewLogger(st), &identityExtractor{identity: extracted, confidence: 0.9})
	return m, st
}

func seedApplicant(t *testing.T, st store.Store, a model.Applicant) {
	t.Helper()
	key := NormalizeKey(a.Key())
	require.NoError(t, st.CreateApplicant(context.Background(), &a, key))
}

func TestHandleUploadAttachesExactMatch(t *testing.T) {
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Jane", FamilyName: "Doe", SchoolName: "Lincoln High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)

	seedApplicant(t, st, applicant("a1", "Jane", "Doe", "Lincoln High School", "GA"))

	rec, err := m.HandleUpload(ctx, "transcript.pdf", "transcript text")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionMatchedExisting, rec.Decision)
	assert.Equal(t, "a1", rec.MatchedApplicantID)
	assert.InDelta(t, 1.0, rec.MatchConfidence, 0.001)
	assert.Equal(t, extracted, rec.Extracted)
	assert.Equal(t, "Jane", rec.Actual.GivenName)

	// The document landed on the matched applicant.
	a, err := st.GetApplicant(ctx, "a1")
	require.NoError(t, err)
	assert.Contains(t, a.Documents, "transcript text")
}

func TestHandleUploadBoundaryConfidenceAttaches(t *testing.T) {
	// First-initial match at the same school and state scores 6/7, which
	// clears the inclusive 0.8 threshold.
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "J.", FamilyName: "D.", SchoolName: "Lincoln High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)
	m.Threshold = TierConfidence(tierSchoolStateInitial)

	seedApplicant(t, st, applicant("a1", "Jane", "Doe", "Lincoln High School", "GA"))

	rec, err := m.HandleUpload(ctx, "essay.txt", "essay text")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionMatchedExisting, rec.Decision)
	assert.Equal(t, "a1", rec.MatchedApplicantID)
}

func TestHandleUploadBelowThresholdCreatesApplicant(t *testing.T) {
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Rosa", FamilyName: "Klein", SchoolName: "Lincoln High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)

	// Same school and state but unrelated name: tier 5, below threshold.
	seedApplicant(t, st, applicant("a1", "Jane", "Doe", "Lincoln High School", "GA"))

	rec, err := m.HandleUpload(ctx, "letter.txt", "letter text")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionNewApplicant, rec.Decision)
	assert.NotEqual(t, "a1", rec.MatchedApplicantID)
	assert.InDelta(t, TierConfidence(tierSchoolState), rec.MatchConfidence, 0.001)

	created, err := st.GetApplicant(ctx, rec.MatchedApplicantID)
	require.NoError(t, err)
	assert.Equal(t, "Rosa", created.GivenName)
	assert.Equal(t, []string{"letter text"}, created.Documents)
}

func TestHandleUploadInitialScanSurfacesCandidate(t *testing.T) {
	// Neither the school nor the family name matches the stored row, so
	// only the first-initial scan can surface the candidate for scoring.
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Jayne", FamilyName: "Doee", SchoolName: "Washington High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)

	seedApplicant(t, st, applicant("a1", "Jane", "Doe", "Lincoln High School", "GA"))

	rec, err := m.HandleUpload(ctx, "doc.txt", "doc text")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionNewApplicant, rec.Decision)
	assert.InDelta(t, TierConfidence(tierFuzzyName), rec.MatchConfidence, 0.001)
}

func TestHandleUploadDeterministicTieBreak(t *testing.T) {
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Jane", FamilyName: "Doe", SchoolName: "Lincoln High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)

	// Two exact-tier candidates; the lower id must win every time.
	seedApplicant(t, st, applicant("a2", "Jane", "Doe", "Lincoln High", "GA"))
	seedApplicant(t, st, applicant("a1", "Jane", "Doe", "Lincoln High School", "GA"))

	rec, err := m.HandleUpload(ctx, "doc.txt", "doc text")
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.MatchedApplicantID)
}

func TestHandleUploadAlwaysWritesRecord(t *testing.T) {
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Wei", FamilyName: "Chen", SchoolName: "Central High", StateCode: "TX"}
	m, st := newTestMatcher(t, extracted)

	rec, err := m.HandleUpload(ctx, "doc.txt", "doc text")
	require.NoError(t, err)

	stored, err := st.GetUploadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, extracted, stored.Extracted)
	assert.Equal(t, model.DecisionNewApplicant, stored.Decision)
	assert.InDelta(t, 0.9, stored.ExtractionConfidence, 0.001)
	assert.False(t, stored.Reviewed)
}

func TestHandleUploadRecordsAuditEvent(t *testing.T) {
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Jane", FamilyName: "Doe", SchoolName: "Lincoln High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)

	seedApplicant(t, st, applicant("a1", "Jane", "Doe", "Lincoln High School", "GA"))

	rec, err := m.HandleUpload(ctx, "transcript.pdf", "transcript text")
	require.NoError(t, err)

	events, err := st.ListAuditEvents(ctx, rec.MatchedApplicantID, store.AuditFilter{Type: model.InteractionFileUpload})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, rec.ID, events[0].Payload["upload_id"])
	assert.Equal(t, string(model.DecisionMatchedExisting), events[0].Payload["decision"])
}

func TestReviewAppendsWithoutMutatingExtraction(t *testing.T) {
	ctx := context.Background()
	extracted := model.CandidateIdentity{GivenName: "Jane", FamilyName: "Doe", SchoolName: "Lincoln High", StateCode: "GA"}
	m, st := newTestMatcher(t, extracted)

	rec, err := m.HandleUpload(ctx, "doc.txt", "doc text")
	require.NoError(t, err)

	require.NoError(t, m.Review(ctx, rec.ID, model.UploadReview{
		Approved:   true,
		ReviewerID: "reviewer-1",
		Notes:      "checked against registrar records",
	}))

	stored, err := st.GetUploadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Reviewed)
	assert.True(t, stored.Approved)
	assert.Equal(t, "reviewer-1", stored.ReviewerID)
	assert.NotNil(t, stored.ReviewedAt)
	assert.Equal(t, extracted, stored.Extracted)
}
