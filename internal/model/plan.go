package model

import "time"

// Strategy controls how a stage fans out across its candidate sources.
type Strategy string

const (
	// StrategyFallback tries candidates in rank order, stopping at the
	// first success. Used for single-authoritative domains.
	StrategyFallback Strategy = "FALLBACK"
	// StrategyAggregate calls all candidates and merges everything.
	// Used when sources are complementary.
	StrategyAggregate Strategy = "AGGREGATE"
	// StrategyFastest races all candidates and keeps the first success.
	StrategyFastest Strategy = "FASTEST"
	// StrategyParallel runs all candidates to completion without racing.
	StrategyParallel Strategy = "PARALLEL"
)

// Stage is one unit of an execution plan targeting a single data domain.
type Stage struct {
	ID         string             `json:"id"`
	Domain     Domain             `json:"domain"`
	Candidates []SourceDescriptor `json:"candidates"` // ranked by tier, descending
	Strategy   Strategy           `json:"strategy"`
	DependsOn  []string           `json:"depends_on,omitempty"`
	Timeout    time.Duration      `json:"timeout"`
}

// ExecutionPlan is the ordered stage list built for one investigation.
// Immutable once built.
type ExecutionPlan struct {
	Stages []Stage `json:"stages"`
}

// Domains returns the distinct domains covered by the plan, in stage order.
func (p ExecutionPlan) Domains() []Domain {
	seen := make(map[Domain]bool, len(p.Stages))
	out := make([]Domain, 0, len(p.Stages))
	for _, s := range p.Stages {
		if !seen[s.Domain] {
			seen[s.Domain] = true
			out = append(out, s.Domain)
		}
	}
	return out
}
