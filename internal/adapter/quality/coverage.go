package quality

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// domainVocabulary lists terms a document in each domain is expected to use.
var domainVocabulary = map[string][]string{
	domain.DomainBuildingCodes:       {"code", "section", "requirement", "compliance", "permit", "inspection", "occupancy", "fire"},
	domain.DomainSafetyProtocols:     {"safety", "hazard", "ppe", "osha", "procedure", "emergency", "training", "fall"},
	domain.DomainCostData:            {"cost", "price", "rate", "labor", "estimate", "unit", "total", "budget"},
	domain.DomainConstructionMethods: {"method", "install", "procedure", "formwork", "concrete", "sequence", "curing", "equipment"},
	domain.DomainMaterials:           {"material", "specification", "grade", "strength", "astm", "supplier", "quality", "standard"},
}

// CoverageStrategy scores how much of the domain's vocabulary the text
// artifacts touch. Binary-only uploads are not penalized.
type CoverageStrategy struct{}

func NewCoverageStrategy() *CoverageStrategy { return &CoverageStrategy{} }

func (s *CoverageStrategy) Name() string { return "domain_coverage" }

func (s *CoverageStrategy) Assess(ctx context.Context, req port.QualityRequest) (*port.QualityResult, error) {
	vocab, ok := domainVocabulary[req.Domain]
	if !ok {
		return nil, fmt.Errorf("no vocabulary for domain %q", req.Domain)
	}

	var text bytes.Buffer
	for _, a := range req.Artifacts {
		if isText(a) {
			text.Write(bytes.ToLower(a.Data))
			text.WriteByte('\n')
		}
	}
	if text.Len() == 0 {
		return &port.QualityResult{Strategy: s.Name(), Score: 10}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := text.Bytes()
	var missing []string
	for _, term := range vocab {
		if !bytes.Contains(body, []byte(term)) {
			missing = append(missing, term)
		}
	}

	res := &port.QualityResult{
		Strategy: s.Name(),
		Score:    10 * float64(len(vocab)-len(missing)) / float64(len(vocab)),
	}
	if len(missing) > 0 {
		res.Findings = []string{fmt.Sprintf("%s terms not found: %s",
			humanDomain(req.Domain), strings.Join(missing, ", "))}
	}
	return res, nil
}
