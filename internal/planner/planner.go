// Package planner turns an intent into an ordered execution plan: which
// domains to query, which sources to ask, and how each stage fans out.
package planner

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/ferr"
	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/registry"
)

// Options tunes plan construction.
type Options struct {
	// StageTimeout is applied to every stage. Default: 30s.
	StageTimeout time.Duration
}

// Planner builds execution plans against the source registry.
type Planner struct {
	registry *registry.Registry
	opts     Options
}

// New creates a planner.
func New(reg *registry.Registry, opts Options) *Planner {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	return &Planner{registry: reg, opts: opts}
}

// domainsFor maps an intent type to the data domains it implies, in stage
// order. The filter domain, when set, is queried first.
func domainsFor(intent model.Intent) []model.Domain {
	var domains []model.Domain
	switch intent.Type {
	case model.IntentContractSearch:
		domains = []model.Domain{model.DomainContracts}
	case model.IntentAnomalyScan:
		domains = []model.Domain{model.DomainContracts, model.DomainSuppliers}
	case model.IntentSupplierProfile:
		domains = []model.Domain{model.DomainSuppliers, model.DomainSanctions, model.DomainContracts}
	case model.IntentNetworkAnalysis:
		domains = []model.Domain{model.DomainContracts, model.DomainBiddings, model.DomainSuppliers, model.DomainServants, model.DomainTransfers}
	case model.IntentSpendingTrend:
		domains = []model.Domain{model.DomainExpenses, model.DomainTransfers}
	default:
		domains = []model.Domain{model.DomainContracts}
	}

	if f := intent.Filters.Domain; f != "" {
		// Put the explicitly requested domain first, keep the rest.
		out := []model.Domain{f}
		for _, d := range domains {
			if d != f {
				out = append(out, d)
			}
		}
		return out
	}
	return domains
}

// strategyFor chooses the fan-out strategy from domain semantics.
// Single-authoritative registries use FALLBACK, latency-sensitive lookups
// race with FASTEST, complementary sources aggregate, and network analysis
// runs its independent domains in PARALLEL.
func strategyFor(domain model.Domain, intent model.Intent) model.Strategy {
	if intent.Type == model.IntentNetworkAnalysis {
		return model.StrategyParallel
	}
	switch domain {
	case model.DomainOrgRegistry, model.DomainServants:
		return model.StrategyFallback
	case model.DomainSanctions:
		return model.StrategyFastest
	default:
		return model.StrategyAggregate
	}
}

// Build constructs the plan for the intent. Fails with a PlanningError when
// a required domain has no registered capable source; that error is fatal
// to the investigation and is reported, not retried.
func (p *Planner) Build(intent model.Intent) (*model.ExecutionPlan, error) {
	domains := domainsFor(intent)

	plan := &model.ExecutionPlan{Stages: make([]model.Stage, 0, len(domains))}
	var prevID string
	for i, domain := range domains {
		candidates := p.registry.ByDomain(domain)
		if len(candidates) == 0 {
			return nil, &ferr.PlanningError{Domain: domain}
		}

		stage := model.Stage{
			ID:         fmt.Sprintf("stage-%d-%s", i+1, domain),
			Domain:     domain,
			Candidates: candidates,
			Strategy:   strategyFor(domain, intent),
			Timeout:    p.opts.StageTimeout,
		}
		// Sanctions and supplier lookups refine entities found earlier, so
		// they depend on the preceding stage.
		if prevID != "" && (domain == model.DomainSanctions || domain == model.DomainSuppliers) {
			stage.DependsOn = []string{prevID}
		}
		plan.Stages = append(plan.Stages, stage)
		prevID = stage.ID
	}

	zap.L().Debug("planner: plan built",
		zap.String("intent", string(intent.Type)),
		zap.Int("stages", len(plan.Stages)),
	)
	return plan, nil
}
