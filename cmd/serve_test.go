//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/match"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
	"github.com/sells-group/evaluation-cli/internal/workflow"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubExtraction struct{}

func (stubExtraction) Extract(ctx context.Context, documentText string, hint *provider.FocusHint) (*provider.Extraction, error) {
	return &provider.Extraction{
		Fields: map[string]any{
			"given_name": "Jane", "family_name": "Doe",
			"school_name": "Lincoln High School", "state_code": "GA",
		},
		Confidence: 0.9,
	}, nil
}

type stubEnrichment struct{}

func (stubEnrichment) Enrich(ctx context.Context, schoolName, stateCode string, hint *provider.FocusHint) (*provider.Extraction, error) {
	return &provider.Extraction{Fields: map[string]any{}, Confidence: 0.5}, nil
}

type stubAnalysis struct{}

func (stubAnalysis) Run(ctx context.Context, req provider.AnalysisRequest) (map[string]any, error) {
	return map[string]any{"summary": "ok", "score": 0.5}, nil
}

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	al := audit.NewLogger(st)
	stages := workflow.DefaultStages()

	registry := provider.NewRegistry()
	for _, s := range stages {
		registry.Register(s.ID, stubAnalysis{})
	}
	registry.Register(model.StagePattern, stubAnalysis{})
	registry.Register(model.StageSynthesis, stubAnalysis{})

	resolver := workflow.NewResolver(st, al)
	enricher := workflow.NewEnricher(st, al, stubEnrichment{})
	gate := workflow.NewGate(st, al, stubExtraction{})
	runner := workflow.NewRunner(st, al, gate, registry)
	synthesizer := workflow.NewSynthesizer(st, al, registry)
	orchestrator := workflow.NewOrchestrator(st, al, resolver, enricher, runner, synthesizer, stubExtraction{}, stages)
	matcher := match.NewMatcher(st, al, stubExtraction{})

	return &appEnv{Store: st, Audit: al, Orchestrator: orchestrator, Matcher: matcher}
}

func TestServeHealth(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeSubmitValidation(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/submissions", "application/json",
		bytes.NewBufferString(`{"given_name": "Jane"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/submissions", "application/json",
		bytes.NewBufferString(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeWorkflowNotFound(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/workflows/no-such-applicant")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeResumeNotResumable(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(env))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, env.Store.CreateApplicant(ctx, &model.Applicant{
		ID: "a1", GivenName: "Jane", FamilyName: "Doe",
		SchoolName: "Lincoln High School", StateCode: "GA",
	}, model.IdentityKey{GivenName: "jane", FamilyName: "doe", SchoolName: "lincoln", StateCode: "GA"}))
	require.NoError(t, env.Store.SaveWorkflowState(ctx, &model.WorkflowState{
		ApplicantID: "a1", Status: model.WorkflowStatusFailed,
	}))

	resp, err := http.Post(srv.URL+"/workflows/a1/resume", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServeUploadReviewValidation(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	// Missing reviewer id.
	resp, err := http.Post(srv.URL+"/uploads/u1/review", "application/json",
		bytes.NewBufferString(`{"approved": true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown upload record.
	resp, err = http.Post(srv.URL+"/uploads/u1/review", "application/json",
		bytes.NewBufferString(`{"approved": true, "reviewer_id": "r1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeListWorkflows(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(env))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var states []model.WorkflowState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
	assert.Empty(t, states)
}

func TestServeCmdMetadata(t *testing.T) {
	assert.Equal(t, "serve", serveCmd.Use)
	assert.NotNil(t, serveCmd.Flags().Lookup("port"))
}
