// Package fraud detects structural fraud patterns over the entity graph:
// bidding cartels, nepotism chains, and money-laundering transfer shapes.
package fraud

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/graph"
	"github.com/sells-group/fedprobe/internal/model"
)

// Config holds pattern thresholds. Zero values fall back to defaults.
type Config struct {
	// CartelMinMembers is the smallest community reported as a cartel.
	// Default 3.
	CartelMinMembers int
	// CartelSuspicion is the minimum aggregate suspicion score. Default 0.5.
	CartelSuspicion float64
	// NepotismMaxHops bounds the family/employment chain search. Default 4.
	NepotismMaxHops int
	// ReportingThreshold is the amount transfers are structured under.
	// Default 10000.
	ReportingThreshold float64
	// StructuringMargin defines "just under": amounts within this fraction
	// below the reporting threshold. Default 0.1.
	StructuringMargin float64
	// StructuringMinTransfers is how many near-threshold transfers between
	// the same pair trigger a flag. Default 3.
	StructuringMinTransfers int
	// LayeringMinHops is the shortest pass-through chain flagged. Default 3.
	LayeringMinHops int
	// LayeringHopWindow is the longest gap between consecutive hops still
	// considered rapid. Default 72h.
	LayeringHopWindow time.Duration
}

func (c *Config) defaults() {
	if c.CartelMinMembers <= 0 {
		c.CartelMinMembers = 3
	}
	if c.CartelSuspicion <= 0 {
		c.CartelSuspicion = 0.5
	}
	if c.NepotismMaxHops <= 0 {
		c.NepotismMaxHops = 4
	}
	if c.ReportingThreshold <= 0 {
		c.ReportingThreshold = 10000
	}
	if c.StructuringMargin <= 0 {
		c.StructuringMargin = 0.1
	}
	if c.StructuringMinTransfers <= 0 {
		c.StructuringMinTransfers = 3
	}
	if c.LayeringMinHops <= 0 {
		c.LayeringMinHops = 3
	}
	if c.LayeringHopWindow <= 0 {
		c.LayeringHopWindow = 72 * time.Hour
	}
}

// Engine runs all pattern detectors.
type Engine struct {
	cfg Config
}

// New creates an engine, filling config defaults.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Detect runs cartel, nepotism, and laundering detection. The graph carries
// the structure; transfer records supply amounts and timestamps for the
// laundering heuristics. Flagged member nodes get an anomaly hit recorded so
// the next risk recompute reflects the finding.
func (e *Engine) Detect(g *graph.Graph, records []model.AggregatedRecord) []model.SuspiciousNetwork {
	var networks []model.SuspiciousNetwork
	networks = append(networks, e.cartels(g)...)
	networks = append(networks, e.nepotism(g)...)
	networks = append(networks, e.laundering(g, records)...)

	sort.SliceStable(networks, func(i, j int) bool {
		if networks[i].Confidence != networks[j].Confidence {
			return networks[i].Confidence > networks[j].Confidence
		}
		return networks[i].Type < networks[j].Type
	})

	for _, n := range networks {
		for _, id := range n.MemberNodeIDs {
			g.RecordAnomalyHit(id)
		}
	}
	g.RecomputeRisk()

	zap.L().Info("fraud detection finished", zap.Int("networks", len(networks)))
	return networks
}

func severityFor(confidence float64) model.Severity {
	switch {
	case confidence >= 0.8:
		return model.SeverityHigh
	case confidence >= 0.5:
		return model.SeverityMedium
	}
	return model.SeverityLow
}
