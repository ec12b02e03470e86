package graph

import "sort"

// ComputeCentrality recomputes degree and betweenness centrality for every
// node, both normalized to [0,1], and stores a combined score. Betweenness
// uses Brandes' algorithm over the active undirected edge set.
func (g *Graph) ComputeCentrality() {
	ids, adj := g.adjacency()
	n := len(ids)
	if n == 0 {
		return
	}

	degree := make([]float64, n)
	for i := range ids {
		degree[i] = float64(len(adj[i]))
	}

	betweenness := brandes(adj)

	// Normalization denominators: degree by n-1, betweenness by the pair
	// count (n-1)(n-2)/2 for undirected graphs.
	degDen := float64(n - 1)
	btwDen := float64((n-1)*(n-2)) / 2

	g.mu.Lock()
	defer g.mu.Unlock()
	for i, id := range ids {
		node := g.nodes[id]
		node.Degree = 0
		node.Betweenness = 0
		if degDen > 0 {
			node.Degree = degree[i] / degDen
		}
		if btwDen > 0 {
			node.Betweenness = betweenness[i] / btwDen
		}
		node.Centrality = 0.5*node.Degree + 0.5*node.Betweenness
	}
}

// RecomputeRisk recomputes every node's risk score from its centrality and
// the anomaly hits recorded against it. Called after detection engines have
// attributed findings to entities.
func (g *Graph) RecomputeRisk() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		hits := float64(n.AnomalyHits)
		// Saturating hit contribution: 1 hit ≈ 0.33, 3 hits ≈ 0.6.
		hitScore := hits / (hits + 2)
		n.RiskScore = 0.4*n.Centrality + 0.6*hitScore
	}
}

// RecordAnomalyHit increments a node's anomaly counter.
func (g *Graph) RecordAnomalyHit(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[nodeID]; ok {
		n.AnomalyHits++
	}
}

// TopByRisk returns up to limit nodes ordered by descending risk score,
// breaking ties by id.
func (g *Graph) TopByRisk(limit int) []*Node {
	nodes := g.Nodes()
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].RiskScore != nodes[j].RiskScore {
			return nodes[i].RiskScore > nodes[j].RiskScore
		}
		return nodes[i].ID < nodes[j].ID
	})
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes
}

// adjacency snapshots the active edge set as an index-based undirected
// adjacency list with deterministic ordering.
func (g *Graph) adjacency() (ids []string, adj [][]int) {
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

	seen := make(map[[2]int]bool)
	adj = make([][]int, len(ids))
	for _, e := range g.edges {
		if !e.Active {
			continue
		}
		u, v := index[e.SourceID], index[e.TargetID]
		if u > v {
			u, v = v, u
		}
		if u == v || seen[[2]int{u, v}] {
			continue
		}
		seen[[2]int{u, v}] = true
		adj[u] = append(adj[u], v)
		adj[v] = append(adj[v], u)
	}
	for i := range adj {
		sort.Ints(adj[i])
	}
	return ids, adj
}

// brandes computes unnormalized betweenness centrality for an unweighted
// undirected graph (Brandes 2001).
func brandes(adj [][]int) []float64 {
	n := len(adj)
	cb := make([]float64, n)

	for s := 0; s < n; s++ {
		stack := make([]int, 0, n)
		preds := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	// Each undirected pair was counted from both endpoints.
	for i := range cb {
		cb[i] /= 2
	}
	return cb
}
