package quality

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// acceptedMediaTypes lists the document kinds the ingestion pipeline reads.
var acceptedMediaTypes = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/csv":         true,
	"text/html":        true,
	"application/json": true,
	"application/pdf":  true,
	"application/xml":  true,
	"text/xml":         true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
}

// FormatStrategy checks that every artifact is non-empty, of a readable
// kind and not a byte-for-byte duplicate of another artifact.
type FormatStrategy struct{}

func NewFormatStrategy() *FormatStrategy { return &FormatStrategy{} }

func (s *FormatStrategy) Name() string { return "format" }

func (s *FormatStrategy) Assess(ctx context.Context, req port.QualityRequest) (*port.QualityResult, error) {
	score := 10.0
	var findings []string
	seen := make(map[[32]byte]string, len(req.Artifacts))

	for _, a := range req.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(a.Data) == 0 {
			score -= 3
			findings = append(findings, fmt.Sprintf("%s: empty file", a.Name))
			continue
		}
		if mt := baseMediaType(a.MediaType); !acceptedMediaTypes[mt] {
			score -= 2
			findings = append(findings, fmt.Sprintf("%s: unsupported media type %q", a.Name, a.MediaType))
		}
		sum := blake3.Sum256(a.Data)
		if prev, dup := seen[sum]; dup {
			score -= 1
			findings = append(findings, fmt.Sprintf("%s: duplicate of %s", a.Name, prev))
			continue
		}
		seen[sum] = a.Name
	}

	return &port.QualityResult{
		Strategy: s.Name(),
		Score:    clampScore(score),
		Findings: findings,
	}, nil
}

func baseMediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
