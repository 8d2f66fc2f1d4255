package provider

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/sells-group/evaluation-cli/internal/resilience"
)

// limitedExtraction wraps an ExtractionProvider with rate limiting and
// transient-failure retry. Retry here covers only the I/O layer; the
// workflow's own gate and remediation bounds are enforced above this.
type limitedExtraction struct {
	inner   ExtractionProvider
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewLimitedExtraction wraps an extraction provider in a rate limiter and
// bounded retry.
func NewLimitedExtraction(inner ExtractionProvider, limiter *rate.Limiter, retry resilience.RetryConfig) ExtractionProvider {
	return &limitedExtraction{inner: inner, limiter: limiter, retry: retry}
}

func (p *limitedExtraction) Extract(ctx context.Context, documentText string, hint *FocusHint) (*Extraction, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return resilience.DoVal(ctx, p.retry, "extract", func(ctx context.Context) (*Extraction, error) {
		return p.inner.Extract(ctx, documentText, hint)
	})
}

type limitedEnrichment struct {
	inner   EnrichmentProvider
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewLimitedEnrichment wraps an enrichment provider in a rate limiter and
// bounded retry.
func NewLimitedEnrichment(inner EnrichmentProvider, limiter *rate.Limiter, retry resilience.RetryConfig) EnrichmentProvider {
	return &limitedEnrichment{inner: inner, limiter: limiter, retry: retry}
}

func (p *limitedEnrichment) Enrich(ctx context.Context, schoolName, stateCode string, hint *FocusHint) (*Extraction, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return resilience.DoVal(ctx, p.retry, "enrich", func(ctx context.Context) (*Extraction, error) {
		return p.inner.Enrich(ctx, schoolName, stateCode, hint)
	})
}

type limitedAnalysis struct {
	inner   AnalysisProvider
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewLimitedAnalysis wraps an analysis provider in a rate limiter and
// bounded retry.
func NewLimitedAnalysis(inner AnalysisProvider, limiter *rate.Limiter, retry resilience.RetryConfig) AnalysisProvider {
	return &limitedAnalysis{inner: inner, limiter: limiter, retry: retry}
}

func (p *limitedAnalysis) Run(ctx context.Context, req AnalysisRequest) (map[string]any, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return resilience.DoVal(ctx, p.retry, "analysis:"+req.StageID, func(ctx context.Context) (map[string]any, error) {
		return p.inner.Run(ctx, req)
	})
}
