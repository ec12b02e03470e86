package fraud

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/fedprobe/internal/graph"
	"github.com/sells-group/fedprobe/internal/model"
)

// nepotism walks family and employment ties outward from each decision-maker
// and flags chains that reach a supplier awarded by that decision-maker's
// organization.
func (e *Engine) nepotism(g *graph.Graph) []model.SuspiciousNetwork {
	var networks []model.SuspiciousNetwork

	for _, decider := range g.Nodes() {
		if decider.Type != graph.NodePerson {
			continue
		}
		orgs := g.Neighbors(decider.ID, graph.RelationDecision)
		if len(orgs) == 0 {
			continue
		}

		// Suppliers awarded by any org this person decides for.
		awarded := make(map[string]bool)
		for _, orgID := range orgs {
			for _, supID := range g.Neighbors(orgID, graph.RelationAwardedContract) {
				if n, ok := g.Node(supID); ok && n.Type == graph.NodeSupplier {
					awarded[supID] = true
				}
			}
		}
		if len(awarded) == 0 {
			continue
		}

		for supID := range awarded {
			chain := e.tieChain(g, decider.ID, supID)
			if chain == nil {
				continue
			}
			members := append([]string(nil), chain...)
			members = appendMissing(members, supID)
			sort.Strings(members)
			// Shorter chains are stronger evidence.
			hops := len(chain) // decision-maker to the tied person/entity
			conf := math.Max(0.3, 1-0.15*float64(hops))
			networks = append(networks, model.SuspiciousNetwork{
				MemberNodeIDs:   members,
				Type:            model.NetworkNepotism,
				Severity:        severityFor(conf),
				Confidence:      conf,
				DetectionMethod: "family/employment chain to awarded supplier",
			})
		}
	}

	sort.SliceStable(networks, func(i, j int) bool {
		if networks[i].Confidence != networks[j].Confidence {
			return networks[i].Confidence > networks[j].Confidence
		}
		return strings.Join(networks[i].MemberNodeIDs, ",") < strings.Join(networks[j].MemberNodeIDs, ",")
	})
	return networks
}

// tieChain finds the shortest family/employment path from the decision-maker
// to the supplier, inclusive of the decision-maker, or nil when none exists
// within the hop bound. A person employed by an organization whose label
// matches the supplier counts as reaching the supplier.
func (e *Engine) tieChain(g *graph.Graph, deciderID, supplierID string) []string {
	supplierLabel := strings.TrimPrefix(supplierID, string(graph.NodeSupplier)+":")
	// Employment edges target organization nodes, so a path may end at the
	// supplier's organization alias instead of the supplier node itself.
	orgAlias := graph.NodeID(graph.NodeOrganization, supplierLabel)

	chain := g.ShortestPath(deciderID, supplierID, graph.RelationFamily, graph.RelationEmployment)
	if alt := g.ShortestPath(deciderID, orgAlias, graph.RelationFamily, graph.RelationEmployment); alt != nil && (chain == nil || len(alt) < len(chain)) {
		chain = alt
	}
	if chain == nil || len(chain)-1 > e.cfg.NepotismMaxHops {
		return nil
	}
	return chain
}

func appendMissing(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
