package port

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// QualityStrategy defines a pluggable quality check (Strategy Pattern).
// Each strategy scores one aspect of an upload from 0 to 10.
type QualityStrategy interface {
	// Name returns the unique name of this strategy (e.g. "format", "expert_review").
	Name() string

	// Assess scores the request.
	Assess(ctx context.Context, req QualityRequest) (*QualityResult, error)
}

// QualityRequest contains everything a strategy needs to assess an upload.
type QualityRequest struct {
	Domain    string
	Artifacts []domain.Artifact
}

// QualityResult holds the output of one strategy.
type QualityResult struct {
	Strategy string   `json:"strategy"`
	Score    float64  `json:"score"`
	Findings []string `json:"findings,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// QualityEngine runs every registered strategy and averages their scores.
// A failing strategy is logged and left out of the average; the report is
// advisory and never blocks a submission.
type QualityEngine struct {
	strategies []QualityStrategy
	now        func() time.Time
}

// NewQualityEngine creates a new engine with the given strategies.
func NewQualityEngine(strategies ...QualityStrategy) *QualityEngine {
	sorted := append([]QualityStrategy(nil), strategies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })
	return &QualityEngine{strategies: sorted, now: time.Now}
}

// Assess implements QualityAssessor.
func (e *QualityEngine) Assess(ctx context.Context, domainName string, artifacts []domain.Artifact) (*domain.QualityReport, error) {
	req := QualityRequest{Domain: domainName, Artifacts: artifacts}
	report := &domain.QualityReport{
		Domain:     domainName,
		Strategies: make(map[string]float64, len(e.strategies)),
		AssessedAt: e.now().UTC(),
	}

	var total float64
	for _, s := range e.strategies {
		r, err := s.Assess(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("quality strategy failed", "strategy", s.Name(), "domain", domainName, "error", err)
			continue
		}
		report.Strategies[r.Strategy] = r.Score
		report.Findings = append(report.Findings, r.Findings...)
		if r.Summary != "" {
			report.Summary = r.Summary
		}
		total += r.Score
	}
	if n := len(report.Strategies); n > 0 {
		report.Score = total / float64(n)
	}
	return report, nil
}

// AvailableStrategies returns the names of all registered strategies.
func (e *QualityEngine) AvailableStrategies() []string {
	names := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		names = append(names, s.Name())
	}
	return names
}
