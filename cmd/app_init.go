package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/evaluation-cli/internal/audit"
	"github.com/sells-group/evaluation-cli/internal/match"
	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/provider"
	"github.com/sells-group/evaluation-cli/internal/resilience"
	"github.com/sells-group/evaluation-cli/internal/store"
	"github.com/sells-group/evaluation-cli/internal/workflow"
	"github.com/sells-group/evaluation-cli/pkg/claude"
)

// appEnv holds the wired store, audit logger, orchestrator, and matcher
// used by every command. Callers should defer env.Close().
type appEnv struct {
	Store        store.Store
	Audit        *audit.Logger
	Orchestrator *workflow.Orchestrator
	Matcher      *match.Matcher
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "evaluation.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initApp sets up the store, model client, rate-limited providers, and the
// full workflow pipeline.
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	al := audit.NewLogger(st)

	client := claude.NewClient(cfg.Anthropic.Key)
	limiter := rate.NewLimiter(rate.Limit(cfg.Provider.RequestsPerSecond), cfg.Provider.Burst)
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Provider.MaxRetries

	extraction := provider.NewLimitedExtraction(
		provider.NewClaudeExtraction(client, cfg.Anthropic.ExtractionModel), limiter, retry)
	enrichment := provider.NewLimitedEnrichment(
		provider.NewClaudeEnrichment(client, cfg.Anthropic.EnrichmentModel), limiter, retry)
	analysis := provider.NewLimitedAnalysis(
		provider.NewClaudeAnalysis(client, cfg.Anthropic.AnalysisModel), limiter, retry)

	stages, err := workflow.LoadStages(cfg.Workflow.StageFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	for _, s := range stages {
		registry.Register(s.ID, analysis)
	}
	registry.Register(model.StagePattern, analysis)
	registry.Register(model.StageSynthesis, analysis)

	resolver := workflow.NewResolver(st, al)

	enricher := workflow.NewEnricher(st, al, enrichment)
	enricher.MaxRemediation = cfg.Workflow.RemediationAttempts

	gate := workflow.NewGate(st, al, extraction)
	gate.MaxChecks = cfg.Workflow.GateChecks

	runner := workflow.NewRunner(st, al, gate, registry)
	runner.MaxParallel = cfg.Workflow.MaxParallelStages

	synthesizer := workflow.NewSynthesizer(st, al, registry)
	synthesizer.PoolLimit = cfg.Workflow.PoolLimit

	orchestrator := workflow.NewOrchestrator(st, al, resolver, enricher, runner, synthesizer, extraction, stages)

	matcher := match.NewMatcher(st, al, extraction)
	matcher.Threshold = cfg.Match.Threshold
	matcher.MaxCandidates = cfg.Match.MaxCandidates

	return &appEnv{
		Store:        st,
		Audit:        al,
		Orchestrator: orchestrator,
		Matcher:      matcher,
	}, nil
}
