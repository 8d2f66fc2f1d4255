package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/evaluation-cli/pkg/claude"
)

const (
	defaultMaxTokens = 4096

	extractionSystem = `You extract structured fields from college application documents.
Respond with a single JSON object of the form
{"fields": {<field>: <value>, ...}, "confidence": <0.0-1.0>}.
Omit any field you cannot find. Never invent values.`

	enrichmentSystem = `You research United States high schools.
Given a school name and state, respond with a single JSON object of the form
{"fields": {"grading_scale": ..., "enrollment": ..., "avg_gpa": ..., "avg_sat": ...,
"ap_course_count": ..., "matriculation_rate": ..., "district_type": ...},
"confidence": <0.0-1.0>}.
Omit any field you cannot establish. Never invent values.`

	analysisSystem = `You are an admissions reader. Analyze the applicant data you are
given for the named review dimension and respond with a single JSON object
containing your findings, including a "summary" string and a "score" number
between 0 and 1.`
)

// ClaudeExtraction implements ExtractionProvider with a single-message
// model call. A focus hint narrows the prompt to the named fields.
type ClaudeExtraction struct {
	client claude.Client
	model  string
}

// NewClaudeExtraction creates a model-backed extraction provider.
func NewClaudeExtraction(c claude.Client, model string) *ClaudeExtraction {
	return &ClaudeExtraction{client: c, model: model}
}

func (p *ClaudeExtraction) Extract(ctx context.Context, documentText string, hint *FocusHint) (*Extraction, error) {
	prompt := "Extract all relevant application fields from the documents below.\n\n" + documentText
	if hint.Focused() {
		prompt = fmt.Sprintf(
			"Extract ONLY these fields from the documents below: %s\n\n%s",
			strings.Join(hint.Fields, ", "), documentText)
	}

	resp, err := p.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     p.model,
		MaxTokens: defaultMaxTokens,
		System:    []claude.SystemBlock{{Text: extractionSystem, Cached: true}},
		Messages:  []claude.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(p.model, "extraction")
	return parseExtraction(resp.Text())
}

// ClaudeEnrichment implements EnrichmentProvider.
type ClaudeEnrichment struct {
	client claude.Client
	model  string
}

// NewClaudeEnrichment creates a model-backed enrichment provider.
func NewClaudeEnrichment(c claude.Client, model string) *ClaudeEnrichment {
	return &ClaudeEnrichment{client: c, model: model}
}

func (p *ClaudeEnrichment) Enrich(ctx context.Context, schoolName, stateCode string, hint *FocusHint) (*Extraction, error) {
	prompt := fmt.Sprintf("School: %s\nState: %s", schoolName, stateCode)
	if hint.Focused() {
		prompt += "\n\nResearch ONLY these fields: " + strings.Join(hint.Fields, ", ")
	}

	resp, err := p.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     p.model,
		MaxTokens: defaultMaxTokens,
		System:    []claude.SystemBlock{{Text: enrichmentSystem, Cached: true}},
		Messages:  []claude.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(p.model, "enrichment")
	return parseExtraction(resp.Text())
}

// ClaudeAnalysis implements AnalysisProvider for every analysis stage,
// including pattern and synthesis. The stage id selects the review
// dimension in the prompt.
type ClaudeAnalysis struct {
	client claude.Client
	model  string
}

// NewClaudeAnalysis creates a model-backed analysis provider.
func NewClaudeAnalysis(c claude.Client, model string) *ClaudeAnalysis {
	return &ClaudeAnalysis{client: c, model: model}
}

func (p *ClaudeAnalysis) Run(ctx context.Context, req AnalysisRequest) (map[string]any, error) {
	prompt, err := analysisPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     p.model,
		MaxTokens: defaultMaxTokens,
		System:    []claude.SystemBlock{{Text: analysisSystem, Cached: true}},
		Messages:  []claude.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(p.model, "analysis:"+req.StageID)

	var payload map[string]any
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &payload); err != nil {
		return nil, eris.Wrapf(err, "provider: parse %s analysis response", req.StageID)
	}
	return payload, nil
}

func analysisPrompt(req AnalysisRequest) (string, error) {
	input := map[string]any{
		"dimension":        req.StageID,
		"applicant_fields": req.Applicant.Fields,
		"prior_outputs":    req.PriorOutputs,
	}
	if req.Profile != nil {
		input["school_profile"] = req.Profile.Fields
	}
	if len(req.HistoricalPool) > 0 {
		pool := make([]map[string]any, 0, len(req.HistoricalPool))
		for _, r := range req.HistoricalPool {
			pool = append(pool, r.Payload)
		}
		input["historical_pool"] = pool
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", eris.Wrap(err, "provider: marshal analysis input")
	}
	return fmt.Sprintf("Review dimension: %s\n\nInput data:\n%s", req.StageID, data), nil
}

// parseExtraction decodes the common {"fields": ..., "confidence": ...}
// response shape.
func parseExtraction(text string) (*Extraction, error) {
	var out struct {
		Fields     map[string]any `json:"fields"`
		Confidence float64        `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, eris.Wrap(err, "provider: parse extraction response")
	}
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return &Extraction{Fields: out.Fields, Confidence: out.Confidence}, nil
}

// cleanJSON strips markdown fences and isolates the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
