package fraud

import (
	"math"

	"github.com/sells-group/fedprobe/internal/graph"
	"github.com/sells-group/fedprobe/internal/model"
)

// cartels runs community detection over the supplier co-bidding graph and
// scores each community's suspicion from its cohesion and the density of
// corroborating shared-attribute edges.
func (e *Engine) cartels(g *graph.Graph) []model.SuspiciousNetwork {
	comms := g.DetectCommunities(graph.CommunityOptions{MinSize: e.cfg.CartelMinMembers},
		graph.RelationCoBid)

	var networks []model.SuspiciousNetwork
	for _, c := range comms {
		score := e.suspicion(g, c)
		if score <= e.cfg.CartelSuspicion {
			continue
		}
		networks = append(networks, model.SuspiciousNetwork{
			MemberNodeIDs:   c.Members,
			Type:            model.NetworkCartel,
			Severity:        severityFor(score),
			Confidence:      score,
			DetectionMethod: "co-bidding community modularity",
		})
	}
	return networks
}

// suspicion blends three signals: how closed the community's co-bidding is
// (cohesion), how often its members actually met in biddings (mean internal
// weight), and whether members also share addresses or registrations.
func (e *Engine) suspicion(g *graph.Graph, c graph.Community) float64 {
	members := make(map[string]bool, len(c.Members))
	for _, m := range c.Members {
		members[m] = true
	}

	pairs := float64(len(c.Members)*(len(c.Members)-1)) / 2
	meetRate := 0.0
	if pairs > 0 {
		meetRate = math.Min(1, c.InternalWeight/pairs)
	}

	sharedPairs := 0.0
	for _, m := range c.Members {
		for _, edge := range g.EdgesOf(m, graph.RelationSharedAddress, graph.RelationSharedRegistration) {
			if members[edge.SourceID] && members[edge.TargetID] {
				sharedPairs += 0.5 // each pair seen from both endpoints
			}
		}
	}
	sharedRate := 0.0
	if pairs > 0 {
		sharedRate = math.Min(1, sharedPairs/pairs)
	}

	return 0.4*c.Cohesion + 0.3*meetRate + 0.3*sharedRate
}
