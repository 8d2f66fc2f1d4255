package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evaluation-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testKey() model.IdentityKey {
	return model.IdentityKey{GivenName: "jane", FamilyName: "doe", SchoolName: "lincoln", StateCode: "GA"}
}

func testApplicant(id string) *model.Applicant {
	return &model.Applicant{
		ID:         id,
		GivenName:  "Jane",
		FamilyName: "Doe",
		SchoolName: "Lincoln High School",
		StateCode:  "GA",
		Documents:  []string{"transcript text"},
		Fields:     map[string]any{"gpa": 3.8},
	}
}

func TestCreateAndGetApplicant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := testApplicant("a1")
	require.NoError(t, st.CreateApplicant(ctx, a, testKey()))

	got, err := st.GetApplicant(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.GivenName)
	assert.Equal(t, []string{"transcript text"}, got.Documents)
	assert.InDelta(t, 3.8, got.Fields["gpa"].(float64), 0.001)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetApplicantNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetApplicant(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateApplicantDuplicateKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateApplicant(ctx, testApplicant("a1"), testKey()))

	err := st.CreateApplicant(ctx, testApplicant("a2"), testKey())
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestFindApplicantByKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	found, err := st.FindApplicantByKey(ctx, testKey())
	require.NoError(t, err)
	assert.Nil(t, found, "absent key returns nil, nil")

	require.NoError(t, st.CreateApplicant(ctx, testApplicant("a1"), testKey()))

	found, err = st.FindApplicantByKey(ctx, testKey())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.ID)
}

func TestUpdateApplicant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := testApplicant("a1")
	require.NoError(t, st.CreateApplicant(ctx, a, testKey()))

	a.Documents = append(a.Documents, "essay text")
	a.Fields["essay_text"] = "essay body"
	require.NoError(t, st.UpdateApplicant(ctx, a))

	got, err := st.GetApplicant(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, got.Documents, 2)
	assert.Equal(t, "essay body", got.Fields["essay_text"])
}

func TestUpdateApplicantMissing(t *testing.T) {
	st := newTestStore(t)
	err := st.UpdateApplicant(context.Background(), testApplicant("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchCandidatesBySchoolAndFamily(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateApplicant(ctx, testApplicant("a1"), testKey()))
	other := testApplicant("a2")
	other.GivenName, other.FamilyName = "Wei", "Chen"
	require.NoError(t, st.CreateApplicant(ctx, other,
		model.IdentityKey{GivenName: "wei", FamilyName: "chen", SchoolName: "central", StateCode: "TX"}))

	got, err := st.SearchCandidates(ctx, CandidateQuery{SchoolName: "lincoln"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	got, err = st.SearchCandidates(ctx, CandidateQuery{FamilyName: "chen"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)
}

func TestSearchCandidatesByInitials(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateApplicant(ctx, testApplicant("a1"), testKey()))

	// Neither the school nor the misspelled family name matches exactly;
	// the scan still surfaces the candidate by first-initial pair.
	got, err := st.SearchCandidates(ctx, CandidateQuery{
		SchoolName: "central",
		GivenName:  "jane",
		FamilyName: "doee",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

// --- School profiles ---

func testProfile() *model.SchoolProfile {
	return &model.SchoolProfile{
		SchoolName:   "Lincoln High School",
		StateCode:    "GA",
		Fields:       map[string]any{"enrollment": 1200},
		ReviewStatus: model.ReviewStatusPending,
		Confidence:   0.8,
	}
}

func TestSchoolProfileVersioning(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	p := testProfile()
	require.NoError(t, st.SaveSchoolProfile(ctx, p))
	assert.Equal(t, 1, p.Version)

	p.Fields["avg_gpa"] = 3.2
	require.NoError(t, st.SaveSchoolProfile(ctx, p))
	assert.Equal(t, 2, p.Version)

	head, err := st.GetSchoolProfile(ctx, "Lincoln High School", "GA")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, 2, head.Version)
	assert.InDelta(t, 3.2, head.Fields["avg_gpa"].(float64), 0.001)

	versions, err := st.ListProfileVersions(ctx, "Lincoln High School", "GA")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
	_, hasGPA := versions[0].Fields["avg_gpa"]
	assert.False(t, hasGPA, "history rows are immutable")
}

func TestGetSchoolProfileAbsent(t *testing.T) {
	st := newTestStore(t)
	p, err := st.GetSchoolProfile(context.Background(), "Nowhere High", "ZZ")
	require.NoError(t, err)
	assert.Nil(t, p)
}

// --- Stage results ---

func TestSaveStageResultUpserts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateApplicant(ctx, testApplicant("a1"), testKey()))

	r := &model.StageResult{
		ApplicantID: "a1",
		StageID:     "academics",
		Status:      model.StageStatusFailed,
		Error:       "backend unavailable",
	}
	require.NoError(t, st.SaveStageResult(ctx, r))

	r.Status = model.StageStatusOK
	r.Error = ""
	r.Payload = map[string]any{"score": 0.8}
	require.NoError(t, st.SaveStageResult(ctx, r))

	results, err := st.ListStageResults(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, results, 1, "re-execution replaces the prior result")
	assert.Equal(t, model.StageStatusOK, results[0].Status)
	assert.Empty(t, results[0].Error)
}

func TestListRecentSyntheses(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i, id := range []string{"a1", "a2", "a3"} {
		a := testApplicant(id)
		a.GivenName = a.GivenName + id
		key := testKey()
		key.GivenName = key.GivenName + id
		require.NoError(t, st.CreateApplicant(ctx, a, key))

		status := model.StageStatusOK
		if id == "a3" {
			status = model.StageStatusFailed
		}
		require.NoError(t, st.SaveStageResult(ctx, &model.StageResult{
			ApplicantID: id,
			StageID:     model.StageSynthesis,
			Status:      status,
			Payload:     map[string]any{"score": 0.5},
			CompletedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	pool, err := st.ListRecentSyntheses(ctx, "lincoln", "GA", 10)
	require.NoError(t, err)
	require.Len(t, pool, 2, "only completed syntheses join the pool")
	assert.Equal(t, "a2", pool[0].ApplicantID, "newest first")
}

// --- Audit ---

func TestAppendAuditEventSequences(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i := 1; i <= 3; i++ {
		seq, err := st.AppendAuditEvent(ctx, &model.AuditEvent{
			ApplicantID: "a1",
			Actor:       "system",
			Type:        model.InteractionExtraction,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	// Sequences are per applicant, not global.
	seq, err := st.AppendAuditEvent(ctx, &model.AuditEvent{
		ApplicantID: "a2",
		Actor:       "system",
		Type:        model.InteractionExtraction,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestAppendAuditEventConcurrent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			seq, err := st.AppendAuditEvent(ctx, &model.AuditEvent{
				ApplicantID: "a1",
				Actor:       "system",
				Type:        model.InteractionGateCheck,
			})
			// Concurrent writers may collide on the unique sequence and
			// retry at a higher layer; successful writes must be unique.
			if err != nil {
				return
			}
			mu.Lock()
			assert.False(t, seen[seq])
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	events, err := st.ListAuditEvents(ctx, "a1", AuditFilter{})
	require.NoError(t, err)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestListAuditEventsFiltered(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, typ := range []model.InteractionType{
		model.InteractionExtraction,
		model.InteractionGateCheck,
		model.InteractionGateCheck,
	} {
		_, err := st.AppendAuditEvent(ctx, &model.AuditEvent{
			ApplicantID: "a1",
			Actor:       "system",
			Type:        typ,
			Payload:     map[string]any{"stage": "academics"},
		})
		require.NoError(t, err)
	}

	events, err := st.ListAuditEvents(ctx, "a1", AuditFilter{Type: model.InteractionGateCheck})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "academics", events[0].Payload["stage"])

	limited, err := st.ListAuditEvents(ctx, "a1", AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Uploads ---

func TestUploadRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	rec := &model.UploadRecord{
		ID:       "u1",
		Filename: "transcript.pdf",
		Extracted: model.CandidateIdentity{
			GivenName: "Jane", FamilyName: "Doe", SchoolName: "Lincoln High", StateCode: "GA",
		},
		ExtractionConfidence: 0.9,
		MatchedApplicantID:   "a1",
		Actual: model.CandidateIdentity{
			GivenName: "Jane", FamilyName: "Doe", SchoolName: "Lincoln High School", StateCode: "GA",
		},
		MatchConfidence: 1.0,
		Decision:        model.DecisionMatchedExisting,
	}
	require.NoError(t, st.CreateUploadRecord(ctx, rec))

	got, err := st.GetUploadRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Lincoln High", got.Extracted.SchoolName)
	assert.Equal(t, "Lincoln High School", got.Actual.SchoolName)
	assert.False(t, got.Reviewed)

	require.NoError(t, st.ReviewUploadRecord(ctx, "u1", model.UploadReview{
		Approved:   true,
		ReviewerID: "reviewer-1",
		Notes:      "confirmed",
	}))

	got, err = st.GetUploadRecord(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Reviewed)
	assert.True(t, got.Approved)
	assert.Equal(t, "reviewer-1", got.ReviewerID)
	require.NotNil(t, got.ReviewedAt)
	// Extraction fields are untouched by review.
	assert.Equal(t, "Jane", got.Extracted.GivenName)
}

func TestReviewUploadRecordMissing(t *testing.T) {
	st := newTestStore(t)
	err := st.ReviewUploadRecord(context.Background(), "missing", model.UploadReview{ReviewerID: "r"})
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Workflow states ---

func TestWorkflowStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateApplicant(ctx, testApplicant("a1"), testKey()))

	state := &model.WorkflowState{
		ApplicantID:   "a1",
		Status:        model.WorkflowStatusPaused,
		CurrentStage:  "academics",
		PauseReason:   "gate_failed",
		MissingFields: []string{"gpa"},
		GateAttempts:  map[string]int{"academics": 2},
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.SaveWorkflowState(ctx, state))

	got, err := st.GetWorkflowState(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusPaused, got.Status)
	assert.Equal(t, []string{"gpa"}, got.MissingFields)
	assert.Equal(t, 2, got.GateAttempts["academics"])

	// Upsert: re-evaluation overwrites the row.
	state.Status = model.WorkflowStatusComplete
	state.PauseReason = ""
	state.MissingFields = nil
	require.NoError(t, st.SaveWorkflowState(ctx, state))

	got, err = st.GetWorkflowState(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusComplete, got.Status)
	assert.Empty(t, got.MissingFields)
}

func TestListWorkflowStatesByStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i, id := range []string{"a1", "a2", "a3"} {
		a := testApplicant(id)
		key := testKey()
		key.GivenName = key.GivenName + id
		require.NoError(t, st.CreateApplicant(ctx, a, key))

		status := model.WorkflowStatusComplete
		if i == 0 {
			status = model.WorkflowStatusPaused
		}
		require.NoError(t, st.SaveWorkflowState(ctx, &model.WorkflowState{
			ApplicantID: id,
			Status:      status,
			UpdatedAt:   time.Now().UTC(),
		}))
	}

	paused, err := st.ListWorkflowStates(ctx, WorkflowFilter{Status: model.WorkflowStatusPaused})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, "a1", paused[0].ApplicantID)

	all, err := st.ListWorkflowStates(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
