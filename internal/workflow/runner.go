package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// Runner executes the gated analysis stages in dependency waves. Stages in
// a wave run concurrently; a stage's execution failure is isolated into its
// own failed result and never aborts sibling stages. Only a gate failure
// stops the run, surfacing as a pause.
type Runner struct {
	store    store.Store
	audit    *audit.Logger
	gate     *Gate
	registry *provider.Registry

	// MaxParallel caps concurrent stage executions per wave. Zero means
	// the wave size.
	MaxParallel int
}

// NewRunner creates a stage runner.
func NewRunner(st store.Store, al *audit.Logger, gate *Gate, reg *provider.Registry) *Runner {
	return &Runner{store: st, audit: al, gate: gate, registry: reg}
}

// Run gates and executes all stages. It returns the context extended with
// every successful stage's output, all stage results, and the per-stage
// gate check counts. A MissingDataError means at least one gate exhausted
// its checks and the workflow must pause.
func (r *Runner) Run(ctx context.Context, c Context, stages []StageDef) (Context, []model.StageResult, map[string]int, error) {
	attempts := make(map[string]int, len(stages))
	var results []model.StageResult
	failed := make(map[string]bool)

	for _, wave := range waves(stages) {
		// Gates run sequentially: a focused extraction recovers fields
		// into the shared context, which later gates in the wave may read.
		var gateErr *MissingDataError
		var gated []StageDef
		for _, s := range wave {
			next, checks, err := r.gate.Check(ctx, c, s)
			attempts[s.ID] = checks
			c = next
			if err != nil {
				var mde *MissingDataError
				if eris.As(err, &mde) {
					if gateErr == nil {
						gateErr = mde
					} else {
						gateErr.Missing = mergeUnique(gateErr.Missing, mde.Missing)
					}
					continue
				}
				return c, results, attempts, err
			}
			gated = append(gated, s)
		}
		if gateErr != nil {
			return c, results, attempts, gateErr
		}

		waveResults := r.execWave(ctx, c, gated, failed)
		for _, res := range waveResults {
			results = append(results, res)
			if res.Status == model.StageStatusOK {
				c = c.WithOutput(res.StageID, res.Payload)
			} else {
				failed[res.StageID] = true
			}
			if err := r.store.SaveStageResult(ctx, &res); err != nil {
				return c, results, attempts, err
			}
			r.audit.MustRecord(ctx, c.Applicant.ID, "system", model.InteractionStageExecution, map[string]any{
				"stage":  res.StageID,
				"status": string(res.Status),
				"error":  res.Error,
			})
		}
	}

	return c, results, attempts, nil
}

// execWave runs one wave's stages concurrently and returns results in the
// wave's declaration order.
func (r *Runner) execWave(ctx context.Context, c Context, wave []StageDef, failed map[string]bool) []model.StageResult {
	out := make([]model.StageResult, len(wave))

	g, gctx := errgroup.WithContext(ctx)
	if r.MaxParallel > 0 {
		g.SetLimit(r.MaxParallel)
	}
	for i, s := range wave {
		out[i] = model.StageResult{
			ApplicantID: c.Applicant.ID,
			StageID:     s.ID,
		}

		if dep := failedDependency(s, failed); dep != "" {
			out[i].Status = model.StageStatusSkipped
			out[i].Error = "dependency " + dep + " failed"
			out[i].CompletedAt = time.Now().UTC()
			continue
		}

		g.Go(func() error {
			res := &out[i]
			defer func() { res.CompletedAt = time.Now().UTC() }()

			p := r.registry.Get(s.ID)
			if p == nil {
				res.Status = model.StageStatusFailed
				res.Error = "no provider registered for stage " + s.ID
				return nil
			}
			payload, err := p.Run(gctx, provider.AnalysisRequest{
				StageID:      s.ID,
				Applicant:    c.Applicant,
				Profile:      c.Profile,
				PriorOutputs: c.Outputs,
			})
			if err != nil {
				zap.L().Warn("runner: stage failed",
					zap.String("applicant_id", c.Applicant.ID),
					zap.String("stage", s.ID),
					zap.Error(err),
				)
				res.Status = model.StageStatusFailed
				res.Error = err.Error()
				return nil
			}
			res.Status = model.StageStatusOK
			res.Payload = payload
			return nil
		})
	}
	// Stage errors are captured in results, never returned.
	_ = g.Wait()
	return out
}

func failedDependency(s StageDef, failed map[string]bool) string {
	for _, dep := range s.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			a = append(a, v)
			seen[v] = true
		}
	}
	return a
}
