// Package quality holds the strategies behind the advisory quality report
// produced when an upload is submitted.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// maxReviewChars bounds how much of each document is sent to the model.
const maxReviewChars = 4000

// ExpertReviewStrategy asks an LLM to grade the material the way a domain
// reviewer would.
type ExpertReviewStrategy struct {
	ai port.AIProvider
}

func NewExpertReviewStrategy(ai port.AIProvider) *ExpertReviewStrategy {
	return &ExpertReviewStrategy{ai: ai}
}

func (s *ExpertReviewStrategy) Name() string { return "expert_review" }

func (s *ExpertReviewStrategy) Assess(ctx context.Context, req port.QualityRequest) (*port.QualityResult, error) {
	docs := textDocuments(req.Artifacts, maxReviewChars)
	if len(docs) == 0 {
		return &port.QualityResult{
			Strategy: s.Name(),
			Findings: []string{"no text content available for expert review"},
		}, nil
	}

	systemPrompt := fmt.Sprintf(`You are a senior reviewer of %s knowledge for a construction management assistant.
Assess the submitted material on a scale of 1-10 for each criterion:

1. **Accuracy**: How accurate and factual is the information?
2. **Completeness**: How comprehensive is the coverage?
3. **Relevance**: How relevant is it to construction management?
4. **Practicality**: How actionable and practical is the information?
5. **Currency**: How up-to-date is the information?
6. **Clarity**: How clear and understandable is the content?
7. **Authority**: How authoritative is the source?
8. **Specificity**: How specific and detailed is the information?

Give a one-line explanation per criterion and list any gaps.
End with a single line: **Score: X/10**`, humanDomain(req.Domain))

	response, err := s.ai.Chat(ctx, systemPrompt, "Assess the quality of this material.", docs)
	if err != nil {
		return nil, fmt.Errorf("expert review: %w", err)
	}

	return &port.QualityResult{
		Strategy: s.Name(),
		Score:    extractScore(response),
		Summary:  response,
	}, nil
}

var scorePattern = regexp.MustCompile(`(?i)score\**\s*:\s*\**\s*(\d+(?:\.\d+)?)\s*/\s*10`)

// extractScore finds the last "Score: X/10" in text, or a JSON {"score": X}.
func extractScore(response string) float64 {
	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(response), &parsed); err == nil && parsed.Score > 0 {
		return clampScore(parsed.Score)
	}

	matches := scorePattern.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0
	}
	return clampScore(v)
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// textDocuments returns the readable artifacts, each truncated to limit
// runes and prefixed with its name.
func textDocuments(artifacts []domain.Artifact, limit int) []string {
	var out []string
	for _, a := range artifacts {
		if !isText(a) {
			continue
		}
		body := string(a.Data)
		if utf8.RuneCountInString(body) > limit {
			body = string([]rune(body)[:limit])
		}
		out = append(out, a.Name+":\n"+body)
	}
	return out
}

func isText(a domain.Artifact) bool {
	mt := strings.ToLower(a.MediaType)
	if strings.HasPrefix(mt, "text/") || strings.Contains(mt, "json") || strings.Contains(mt, "xml") || strings.Contains(mt, "csv") {
		return utf8.Valid(a.Data)
	}
	return mt == "" && len(a.Data) > 0 && utf8.Valid(a.Data)
}

func humanDomain(d string) string {
	return strings.ReplaceAll(d, "_", " ")
}
