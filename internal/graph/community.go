package graph

import "sort"

// Community is a densely connected group of entities found by modularity
// optimization.
type Community struct {
	ID             int      `json:"id"`
	Members        []string `json:"members"` // node ids, sorted
	InternalWeight float64  `json:"internal_weight"`
	ExternalWeight float64  `json:"external_weight"`
	// Cohesion is internal weight over total incident weight; a community
	// that mostly talks to itself scores near 1.
	Cohesion float64 `json:"cohesion"`
}

// CommunityOptions tunes detection.
type CommunityOptions struct {
	// MinSize drops communities with fewer members. Default 2.
	MinSize int
	// Resolution scales the modularity null model; >1 favors smaller
	// communities. Default 1.
	Resolution float64
	// MaxPasses bounds the local-move sweeps. Default 10.
	MaxPasses int
}

func (o *CommunityOptions) defaults() {
	if o.MinSize <= 0 {
		o.MinSize = 2
	}
	if o.Resolution <= 0 {
		o.Resolution = 1
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = 10
	}
}

// DetectCommunities partitions the graph by greedy modularity optimization:
// repeated local-move sweeps where each node joins the neighboring community
// with the best modularity gain, until a sweep moves nothing. Edges use the
// normalized weights, over relation types given in rels (all when empty).
func (g *Graph) DetectCommunities(opts CommunityOptions, rels ...RelationType) []Community {
	opts.defaults()

	ids, wadj := g.weightedAdjacency(rels)
	n := len(ids)
	if n == 0 {
		return nil
	}

	// strength[i] = total incident weight; m2 = twice the total edge weight.
	strength := make([]float64, n)
	var m2 float64
	for i, neighbors := range wadj {
		for _, nb := range neighbors {
			strength[i] += nb.w
			m2 += nb.w
		}
	}
	if m2 == 0 {
		return nil
	}

	comm := make([]int, n)
	for i := range comm {
		comm[i] = i
	}
	commStrength := append([]float64(nil), strength...)

	for pass := 0; pass < opts.MaxPasses; pass++ {
		moved := false
		for v := 0; v < n; v++ {
			// Weight from v into each neighboring community.
			toComm := make(map[int]float64)
			for _, nb := range wadj[v] {
				toComm[comm[nb.to]] += nb.w
			}

			cur := comm[v]
			commStrength[cur] -= strength[v]

			best, bestGain := cur, 0.0
			for c, w := range toComm {
				// Modularity gain of moving v into c, constant
				// terms dropped.
				gain := w - opts.Resolution*strength[v]*commStrength[c]/m2
				if gain > bestGain || (gain == bestGain && c < best) {
					best, bestGain = c, gain
				}
			}

			comm[v] = best
			commStrength[best] += strength[v]
			if best != cur {
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Materialize communities and score cohesion.
	byComm := make(map[int][]int)
	for v, c := range comm {
		byComm[c] = append(byComm[c], v)
	}

	var out []Community
	for _, members := range byComm {
		if len(members) < opts.MinSize {
			continue
		}
		inSet := make(map[int]bool, len(members))
		for _, v := range members {
			inSet[v] = true
		}
		var internal, external float64
		names := make([]string, 0, len(members))
		for _, v := range members {
			names = append(names, ids[v])
			for _, nb := range wadj[v] {
				if inSet[nb.to] {
					internal += nb.w // both endpoints counted; halved below
				} else {
					external += nb.w
				}
			}
		}
		internal /= 2
		sort.Strings(names)
		c := Community{
			Members:        names,
			InternalWeight: internal,
			ExternalWeight: external,
		}
		if total := internal + external; total > 0 {
			c.Cohesion = internal / total
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Members) != len(out[j].Members) {
			return len(out[i].Members) > len(out[j].Members)
		}
		return out[i].Members[0] < out[j].Members[0]
	})
	for i := range out {
		out[i].ID = i
	}
	return out
}

type weightedNeighbor struct {
	to int
	w  float64
}

func (g *Graph) weightedAdjacency(rels []RelationType) (ids []string, adj [][]weightedNeighbor) {
	filter := make(map[RelationType]bool, len(rels))
	for _, r := range rels {
		filter[r] = true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ids = make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	adj = make([][]weightedNeighbor, len(ids))
	for _, e := range g.edges {
		if !e.Active || e.Weight <= 0 {
			continue
		}
		if len(filter) > 0 && !filter[e.Type] {
			continue
		}
		u, v := index[e.SourceID], index[e.TargetID]
		if u == v {
			continue
		}
		adj[u] = append(adj[u], weightedNeighbor{to: v, w: e.Weight})
		adj[v] = append(adj[v], weightedNeighbor{to: u, w: e.Weight})
	}
	for i := range adj {
		sort.Slice(adj[i], func(a, b int) bool { return adj[i][a].to < adj[i][b].to })
	}
	return ids, adj
}
