package quality

import (
	"context"
	"fmt"
	"regexp"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

type sensitivePattern struct {
	label string
	re    *regexp.Regexp
}

var sensitivePatterns = []sensitivePattern{
	{"private key block", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |)PRIVATE KEY-----`)},
	{"AWS access key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"password assignment", regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S{4,}`)},
	{"bearer token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`)},
	{"email address", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"US social security number", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// SensitiveDataStrategy flags credentials and personal data that should not
// enter the training corpus.
type SensitiveDataStrategy struct{}

func NewSensitiveDataStrategy() *SensitiveDataStrategy { return &SensitiveDataStrategy{} }

func (s *SensitiveDataStrategy) Name() string { return "sensitive_data" }

func (s *SensitiveDataStrategy) Assess(ctx context.Context, req port.QualityRequest) (*port.QualityResult, error) {
	score := 10.0
	var findings []string

	for _, a := range req.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isText(a) {
			continue
		}
		for _, p := range sensitivePatterns {
			if n := len(p.re.FindAllIndex(a.Data, -1)); n > 0 {
				score -= 2.5
				findings = append(findings, fmt.Sprintf("%s: %d possible %s", a.Name, n, p.label))
			}
		}
	}

	return &port.QualityResult{
		Strategy: s.Name(),
		Score:    clampScore(score),
		Findings: findings,
	}, nil
}
