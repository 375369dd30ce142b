package domain

import "sort"

// QuorumRule is the review requirement for one knowledge domain.
//
// AutoDeploy marks domains that publish the instant quorum is met. The
// engine currently deploys synchronously on quorum for every domain; the
// flag is carried through tallies, audit records and deploy requests so a
// manual-publish gate can key off it.
type QuorumRule struct {
	Domain            string `json:"domain"`
	RequiredReviewers int    `json:"required_reviewers"`
	AutoDeploy        bool   `json:"auto_deploy"`
}

// Knowledge domain identifiers.
const (
	DomainBuildingCodes       = "building_codes"
	DomainSafetyProtocols     = "safety_protocols"
	DomainCostData            = "cost_data"
	DomainConstructionMethods = "construction_methods"
	DomainMaterials           = "materials"
)

// QuorumPolicy maps knowledge domains to their review rules.
type QuorumPolicy map[string]QuorumRule

// DefaultQuorumPolicy returns the static per-domain table.
func DefaultQuorumPolicy() QuorumPolicy {
	return QuorumPolicy{
		DomainBuildingCodes:       {Domain: DomainBuildingCodes, RequiredReviewers: 2, AutoDeploy: false},
		DomainSafetyProtocols:     {Domain: DomainSafetyProtocols, RequiredReviewers: 3, AutoDeploy: false},
		DomainCostData:            {Domain: DomainCostData, RequiredReviewers: 1, AutoDeploy: true},
		DomainConstructionMethods: {Domain: DomainConstructionMethods, RequiredReviewers: 2, AutoDeploy: true},
		DomainMaterials:           {Domain: DomainMaterials, RequiredReviewers: 1, AutoDeploy: true},
	}
}

// Rule returns the rule for a domain.
func (p QuorumPolicy) Rule(domain string) (QuorumRule, bool) {
	r, ok := p[domain]
	return r, ok
}

// Domains returns the configured domain names, sorted.
func (p QuorumPolicy) Domains() []string {
	out := make([]string, 0, len(p))
	for d := range p {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Tally builds a tally for this rule from review counts.
func (r QuorumRule) Tally(total, approved int) Tally {
	return Tally{
		Total:      total,
		Approved:   approved,
		Required:   r.RequiredReviewers,
		AutoDeploy: r.AutoDeploy,
	}
}
