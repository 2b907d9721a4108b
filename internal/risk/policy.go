package risk

import (
	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/models"
)

// Policy decides whether a report blocks a change
type Policy struct {
	// FailOn is the smallest bump that blocks
	FailOn models.SemverImpact
	// WarnOnly reports but never blocks
	WarnOnly bool
}

// PolicyFromConfig builds a policy from the risk section of the config
func PolicyFromConfig(cfg config.RiskConfig) Policy {
	p := Policy{FailOn: models.SemverImpact(cfg.FailOn), WarnOnly: cfg.WarnOnly}
	if !p.FailOn.Valid() {
		p.FailOn = models.SemverMajor
	}
	return p
}

// Blocks reports whether report violates the policy
func (p Policy) Blocks(report *Report) bool {
	if p.WarnOnly || !report.HasBreaking() {
		return false
	}
	failOn := p.FailOn
	if !failOn.Valid() {
		failOn = models.SemverMajor
	}
	return report.RequiredBump().Rank() >= failOn.Rank()
}
