package workflow

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// DefaultGateChecks is the number of times a stage gate may check its
// required fields in one run: the initial check plus one recheck after a
// focused extraction.
const DefaultGateChecks = 2

// Gate verifies a stage's required inputs before execution. A failed first
// check triggers one focused extraction over the applicant's documents
// before the final check; there is no unbounded retry.
type Gate struct {
	store      store.Store
	audit      *audit.Logger
	extraction provider.ExtractionProvider

	// MaxChecks caps gate checks per stage per run.
	MaxChecks int
}

// NewGate creates a gate with the default check bound.
func NewGate(st store.Store, al *audit.Logger, p provider.ExtractionProvider) *Gate {
	return &Gate{store: st, audit: al, extraction: p, MaxChecks: DefaultGateChecks}
}

// Check runs the gate for one stage. On success it returns the (possibly
// field-enriched) context and the number of checks performed. On exhaustion
// it returns a MissingDataError naming the stage and the absent fields.
func (g *Gate) Check(ctx context.Context, c Context, stage StageDef) (Context, int, error) {
	checks := 0
	for {
		checks++
		missing := c.MissingOf(stage.Requires)
		g.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionGateCheck, map[string]any{
			"stage":   stage.ID,
			"attempt": checks,
			"missing": missing,
			"passed":  len(missing) == 0,
		})
		if len(missing) == 0 {
			return c, checks, nil
		}
		if checks >= g.MaxChecks {
			zap.L().Warn("gate: required fields still missing",
				zap.String("applicant_id", c.Applicant.ID),
				zap.String("stage", stage.ID),
				zap.Strings("missing", missing),
			)
			return c, checks, &MissingDataError{Scope: "gate", StageID: stage.ID, Missing: missing}
		}

		next, err := g.refocus(ctx, c, stage.ID, missing)
		if err != nil {
			return c, checks, err
		}
		c = next
	}
}

// refocus runs a focused extraction for the missing fields and persists
// anything recovered onto the applicant record. An extraction failure is
// not fatal: the attempt simply recovers nothing and the final check
// resolves the gate through the normal pause path.
func (g *Gate) refocus(ctx context.Context, c Context, stageID string, missing []string) (Context, error) {
	ext, err := g.extraction.Extract(ctx, c.DocumentText(), provider.NewFocusHint(missing))
	if err != nil {
		zap.L().Warn("gate: focused extraction failed",
			zap.String("applicant_id", c.Applicant.ID),
			zap.String("stage", stageID),
			zap.Error(err),
		)
		g.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionExtraction, map[string]any{
			"mode":  "focused",
			"stage": stageID,
			"focus": missing,
			"error": err.Error(),
		})
		return c, nil
	}
	g.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionExtraction, map[string]any{
		"mode":       "focused",
		"stage":      stageID,
		"focus":      missing,
		"confidence": ext.Confidence,
	})

	c = c.WithFields(ext.Fields)
	updated := c.Applicant
	if err := g.store.UpdateApplicant(ctx, &updated); err != nil {
		return c, eris.Wrap(err, "gate: persist recovered fields")
	}
	return c, nil
}
