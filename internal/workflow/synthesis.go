package workflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/match"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// DefaultPoolLimit caps the historical comparison pool the pattern step
// loads for one school.
const DefaultPoolLimit = 25

// Synthesizer runs the two fixed final steps: pattern analysis against the
// school's historical pool, then the synthesis that folds every available
// output into the final report. Both are best-effort: a pattern failure
// degrades the synthesis input, and a synthesis provider failure falls back
// to a locally computed summary marked low confidence.
type Synthesizer struct {
	store    store.Store
	audit    *audit.Logger
	registry *provider.Registry

	PoolLimit int
}

// NewSynthesizer creates a synthesizer with the default pool limit.
func NewSynthesizer(st store.Store, al *audit.Logger, reg *provider.Registry) *Synthesizer {
	return &Synthesizer{store: st, audit: al, registry: reg, PoolLimit: DefaultPoolLimit}
}

// Finish runs pattern then synthesis and returns the context extended with
// both payloads. It only errors on persistence failures; provider failures
// degrade instead.
func (s *Synthesizer) Finish(ctx context.Context, c Context, stageResults []model.StageResult) (Context, error) {
	c, err := s.pattern(ctx, c)
	if err != nil {
		return c, err
	}
	return s.synthesize(ctx, c, stageResults)
}

func (s *Synthesizer) pattern(ctx context.Context, c Context) (Context, error) {
	// Applicants are stored under normalized school/state columns, so the
	// pool query must normalize the raw names the same way.
	pool, err := s.store.ListRecentSyntheses(ctx,
		match.NormalizeSchool(c.Applicant.SchoolName),
		strings.ToUpper(strings.TrimSpace(c.Applicant.StateCode)),
		s.PoolLimit)
	if err != nil {
		zap.L().Warn("synthesis: historical pool unavailable",
			zap.String("applicant_id", c.Applicant.ID),
			zap.Error(err),
		)
		pool = nil
	}

	res := model.StageResult{
		ApplicantID: c.Applicant.ID,
		StageID:     model.StagePattern,
		Status:      model.StageStatusOK,
	}

	p := s.registry.Get(model.StagePattern)
	if p == nil {
		res.Status = model.StageStatusFailed
		res.Error = "no provider registered for stage pattern"
	} else {
		payload, err := p.Run(ctx, provider.AnalysisRequest{
			StageID:        model.StagePattern,
			Applicant:      c.Applicant,
			Profile:        c.Profile,
			PriorOutputs:   c.Outputs,
			HistoricalPool: pool,
		})
		if err != nil {
			zap.L().Warn("synthesis: pattern step failed",
				zap.String("applicant_id", c.Applicant.ID),
				zap.Error(err),
			)
			res.Status = model.StageStatusFailed
			res.Error = err.Error()
		} else {
			res.Payload = payload
			c = c.WithOutput(model.StagePattern, payload)
		}
	}
	res.CompletedAt = time.Now().UTC()

	if err := s.store.SaveStageResult(ctx, &res); err != nil {
		return c, err
	}
	s.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionPatternAnalysis, map[string]any{
		"status":    string(res.Status),
		"pool_size": len(pool),
		"error":     res.Error,
	})
	return c, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, c Context, stageResults []model.StageResult) (Context, error) {
	res := model.StageResult{
		ApplicantID: c.Applicant.ID,
		StageID:     model.StageSynthesis,
		Status:      model.StageStatusOK,
	}

	var payload map[string]any
	p := s.registry.Get(model.StageSynthesis)
	if p != nil {
		out, err := p.Run(ctx, provider.AnalysisRequest{
			StageID:      model.StageSynthesis,
			Applicant:    c.Applicant,
			Profile:      c.Profile,
			PriorOutputs: c.Outputs,
		})
		if err == nil {
			payload = out
		} else {
			zap.L().Warn("synthesis: provider failed, using local fallback",
				zap.String("applicant_id", c.Applicant.ID),
				zap.Error(err),
			)
		}
	}
	if payload == nil {
		payload = fallbackSummary(stageResults)
	}
	if anyFailed(stageResults) {
		payload["low_confidence"] = true
	}

	res.Payload = payload
	res.CompletedAt = time.Now().UTC()
	c = c.WithOutput(model.StageSynthesis, payload)

	if err := s.store.SaveStageResult(ctx, &res); err != nil {
		return c, err
	}
	s.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionSynthesis, map[string]any{
		"low_confidence": payload["low_confidence"] == true,
		"stage_count":    len(stageResults),
	})
	s.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionReportReady, map[string]any{
		"stages": completedStages(stageResults),
	})
	return c, nil
}

// fallbackSummary aggregates stage outcomes locally when the synthesis
// provider is unavailable. The score is the fraction of stages that ran
// to completion.
func fallbackSummary(results []model.StageResult) map[string]any {
	ok := 0
	for _, r := range results {
		if r.Status == model.StageStatusOK {
			ok++
		}
	}
	score := 0.0
	if len(results) > 0 {
		score = float64(ok) / float64(len(results))
	}
	return map[string]any{
		"source":         "fallback",
		"score":          score,
		"stages_ok":      ok,
		"stages_total":   len(results),
		"low_confidence": true,
	}
}

func anyFailed(results []model.StageResult) bool {
	for _, r := range results {
		if r.Status != model.StageStatusOK {
			return true
		}
	}
	return false
}

func completedStages(results []model.StageResult) []string {
	var out []string
	for _, r := range results {
		if r.Status == model.StageStatusOK {
			out = append(out, r.StageID)
		}
	}
	return out
}
