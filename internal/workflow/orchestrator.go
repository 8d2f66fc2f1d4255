// Package workflow implements the evaluation pipeline: identity resolution,
// school enrichment, gated analysis stages, and final synthesis, with every
// action mirrored into the append-only audit log.
package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// Result is the outcome of one Evaluate or Resume call. A paused result is
// not an error: it carries the fields a human must supply before resuming.
type Result struct {
	ApplicantID string
	Status      model.WorkflowStatus
	PauseReason string
	Missing     []string
	Stages      []model.StageResult
	Synthesis   map[string]any
}

// Orchestrator drives one applicant's evaluation end to end. It never
// partially resumes: a resumed workflow restarts from the first stage so
// every stage sees the corrected data.
type Orchestrator struct {
	store       store.Store
	audit       *audit.Logger
	resolver    *Resolver
	enricher    *Enricher
	runner      *Runner
	synthesizer *Synthesizer
	extraction  provider.ExtractionProvider
	stages      []StageDef
}

// NewOrchestrator wires the pipeline. Stages may come from DefaultStages
// or a YAML stage file.
func NewOrchestrator(
	st store.Store,
	al *audit.Logger,
	resolver *Resolver,
	enricher *Enricher,
	runner *Runner,
	synthesizer *Synthesizer,
	extraction provider.ExtractionProvider,
	stages []StageDef,
) *Orchestrator {
	return &Orchestrator{
		store:       st,
		audit:       al,
		resolver:    resolver,
		enricher:    enricher,
		runner:      runner,
		synthesizer: synthesizer,
		extraction:  extraction,
		stages:      stages,
	}
}

// Evaluate resolves the submission to an applicant and runs the pipeline.
func (o *Orchestrator) Evaluate(ctx context.Context, sub model.Submission) (*Result, error) {
	a, err := o.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, a)
}

// Resume restarts an applicant's workflow from the beginning. Paused
// workflows resume once the missing data is supplied; completed workflows
// re-enter when a later upload attaches a new document. A running or
// failed workflow cannot be resumed.
func (o *Orchestrator) Resume(ctx context.Context, applicantID string) (*Result, error) {
	state, err := o.store.GetWorkflowState(ctx, applicantID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: load state for %s", applicantID)
	}
	if state.Status != model.WorkflowStatusPaused && state.Status != model.WorkflowStatusComplete {
		return nil, eris.Errorf("orchestrator: workflow for %s is %s, not resumable", applicantID, state.Status)
	}

	a, err := o.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: load applicant %s", applicantID)
	}

	o.audit.MustRecord(ctx, applicantID, "system", model.InteractionResume, map[string]any{
		"previous_status": string(state.Status),
		"previous_pause":  state.PauseReason,
	})
	if err := o.saveState(ctx, &model.WorkflowState{
		ApplicantID: applicantID,
		Status:      model.WorkflowStatusResumed,
	}); err != nil {
		return nil, err
	}
	zap.L().Info("orchestrator: resuming workflow",
		zap.String("applicant_id", applicantID),
		zap.String("previous_status", string(state.Status)),
		zap.String("previous_pause", state.PauseReason),
	)
	return o.run(ctx, a)
}

func (o *Orchestrator) run(ctx context.Context, a *model.Applicant) (*Result, error) {
	if err := o.saveState(ctx, &model.WorkflowState{
		ApplicantID: a.ID,
		Status:      model.WorkflowStatusRunning,
	}); err != nil {
		return nil, err
	}

	if err := o.extract(ctx, a); err != nil {
		return o.fail(ctx, a.ID, err)
	}

	profile, err := o.enricher.Ensure(ctx, a.ID, a.SchoolName, a.StateCode)
	if err != nil {
		var mde *MissingDataError
		if eris.As(err, &mde) {
			return o.pause(ctx, a.ID, "enrichment_incomplete", "", mde.Missing, nil)
		}
		return o.fail(ctx, a.ID, err)
	}

	c := NewContext(*a, profile)
	c, stageResults, gateAttempts, err := o.runner.Run(ctx, c, o.stages)
	if err != nil {
		var mde *MissingDataError
		if eris.As(err, &mde) {
			return o.pause(ctx, a.ID, "gate_failed", mde.StageID, mde.Missing, gateAttempts)
		}
		return o.fail(ctx, a.ID, err)
	}

	c, err = o.synthesizer.Finish(ctx, c, stageResults)
	if err != nil {
		return o.fail(ctx, a.ID, err)
	}

	if err := o.saveState(ctx, &model.WorkflowState{
		ApplicantID:  a.ID,
		Status:       model.WorkflowStatusComplete,
		GateAttempts: gateAttempts,
	}); err != nil {
		return nil, err
	}
	zap.L().Info("orchestrator: workflow complete",
		zap.String("applicant_id", a.ID),
		zap.Int("stages", len(stageResults)),
	)

	return &Result{
		ApplicantID: a.ID,
		Status:      model.WorkflowStatusComplete,
		Stages:      stageResults,
		Synthesis:   c.Outputs[model.StageSynthesis],
	}, nil
}

// extract runs the initial full extraction over every submitted document
// and persists the recovered fields. An extraction failure recovers
// nothing; the stage gates downstream decide whether that pauses the run.
func (o *Orchestrator) extract(ctx context.Context, a *model.Applicant) error {
	if len(a.Documents) == 0 {
		return nil
	}
	text := NewContext(*a, nil).DocumentText()
	ext, err := o.extraction.Extract(ctx, text, nil)
	if err != nil {
		zap.L().Warn("orchestrator: initial extraction failed",
			zap.String("applicant_id", a.ID),
			zap.Error(err),
		)
		o.audit.MustRecord(ctx, a.ID, "system", model.InteractionExtraction, map[string]any{
			"mode":  "full",
			"error": err.Error(),
		})
		return nil
	}
	n := a.MergeFields(ext.Fields)
	if err := o.store.UpdateApplicant(ctx, a); err != nil {
		return eris.Wrap(err, "orchestrator: persist extracted fields")
	}
	o.audit.MustRecord(ctx, a.ID, "system", model.InteractionExtraction, map[string]any{
		"mode":        "full",
		"confidence":  ext.Confidence,
		"field_count": n,
	})
	return nil
}

func (o *Orchestrator) pause(ctx context.Context, applicantID, reason, stageID string, missing []string, gateAttempts map[string]int) (*Result, error) {
	state := &model.WorkflowState{
		ApplicantID:   applicantID,
		Status:        model.WorkflowStatusPaused,
		CurrentStage:  stageID,
		PauseReason:   reason,
		MissingFields: missing,
		GateAttempts:  gateAttempts,
	}
	if err := o.saveState(ctx, state); err != nil {
		return nil, err
	}
	o.audit.MustRecord(ctx, applicantID, "system", model.InteractionPause, map[string]any{
		"reason":  reason,
		"stage":   stageID,
		"missing": missing,
	})
	zap.L().Warn("orchestrator: workflow paused",
		zap.String("applicant_id", applicantID),
		zap.String("reason", reason),
		zap.Strings("missing", missing),
	)
	return &Result{
		ApplicantID: applicantID,
		Status:      model.WorkflowStatusPaused,
		PauseReason: reason,
		Missing:     missing,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, applicantID string, cause error) (*Result, error) {
	state := &model.WorkflowState{
		ApplicantID: applicantID,
		Status:      model.WorkflowStatusFailed,
		PauseReason: cause.Error(),
	}
	if err := o.saveState(ctx, state); err != nil {
		zap.L().Error("orchestrator: failed to persist failure state",
			zap.String("applicant_id", applicantID),
			zap.Error(err),
		)
	}
	return nil, cause
}

func (o *Orchestrator) saveState(ctx context.Context, s *model.WorkflowState) error {
	s.UpdatedAt = time.Now().UTC()
	if err := o.store.SaveWorkflowState(ctx, s); err != nil {
		return eris.Wrapf(err, "orchestrator: save state for %s", s.ApplicantID)
	}
	return nil
}
