// Package graph builds and analyzes the entity relationship graph derived
// from aggregated records: suppliers, organizations, and persons connected
// by awards, co-bidding, shared attributes, employment, and transfers.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// NodeType classifies an entity node.
type NodeType string

const (
	NodeSupplier     NodeType = "supplier"
	NodeOrganization NodeType = "organization"
	NodePerson       NodeType = "person"
)

// RelationType classifies an edge.
type RelationType string

const (
	RelationAwardedContract    RelationType = "awarded_contract"
	RelationCoBid              RelationType = "co_bid"
	RelationSharedAddress      RelationType = "shared_address"
	RelationSharedRegistration RelationType = "shared_registration"
	RelationSubcontract        RelationType = "subcontract"
	RelationEmployment         RelationType = "employment"
	RelationFamily             RelationType = "family"
	RelationDecision           RelationType = "decision_authority"
	RelationTransfer           RelationType = "transfer"
)

// Node is an entity in the graph. Nodes are append-only: risk and
// centrality are recomputed in place, never deleted, so provenance via edge
// evidence stays intact.
type Node struct {
	ID          string            `json:"id"`
	Type        NodeType          `json:"type"`
	Label       string            `json:"label"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Degree      float64           `json:"degree"`
	Betweenness float64           `json:"betweenness"`
	Centrality  float64           `json:"centrality"`
	RiskScore   float64           `json:"risk_score"`
	AnomalyHits int               `json:"anomaly_hits"`
}

// Edge is a relationship between two nodes. Edges are never hard-deleted;
// Deactivate flips Active off while keeping evidence auditable.
type Edge struct {
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Type     RelationType `json:"relation_type"`
	Weight   float64      `json:"weight"`
	Evidence []string     `json:"evidence,omitempty"`
	Active   bool         `json:"active"`
}

func edgeKey(src, dst string, rel RelationType) string {
	// Undirected storage except transfers, which keep direction.
	if rel != RelationTransfer && src > dst {
		src, dst = dst, src
	}
	return fmt.Sprintf("%s|%s|%s", src, dst, rel)
}

// Graph is the entity graph for one investigation.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// NodeID builds the canonical id for an entity.
func NodeID(t NodeType, normalizedLabel string) string {
	return string(t) + ":" + normalizedLabel
}

// UpsertNode adds a node or merges attributes into an existing one.
func (g *Graph) UpsertNode(id string, t NodeType, label string, attrs map[string]string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id, Type: t, Label: label, Attributes: make(map[string]string)}
		g.nodes[id] = n
	}
	for k, v := range attrs {
		if v != "" {
			n.Attributes[k] = v
		}
	}
	return n
}

// AddEdge adds or reinforces a relationship. Repeated observations increase
// weight and extend evidence; weight normalization happens in Finalize.
func (g *Graph) AddEdge(src, dst string, rel RelationType, weight float64, evidence ...string) {
	if src == dst {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey(src, dst, rel)
	e, ok := g.edges[key]
	if !ok {
		s, d := src, dst
		if rel != RelationTransfer && s > d {
			s, d = d, s
		}
		e = &Edge{SourceID: s, TargetID: d, Type: rel, Active: true}
		g.edges[key] = e
	}
	e.Weight += weight
	for _, ev := range evidence {
		e.Evidence = appendUnique(e.Evidence, ev)
	}
}

// Deactivate soft-deletes an edge, preserving it for audit.
func (g *Graph) Deactivate(src, dst string, rel RelationType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.edges[edgeKey(src, dst, rel)]; ok && e.Active {
		e.Active = false
		return true
	}
	return false
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all active edges sorted by key.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.edges))
	for k, e := range g.edges {
		if e.Active {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]*Edge, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.edges[k])
	}
	return out
}

// EdgesOf returns the active edges touching a node, optionally filtered by
// relation types.
func (g *Graph) EdgesOf(nodeID string, rels ...RelationType) []*Edge {
	filter := make(map[RelationType]bool, len(rels))
	for _, r := range rels {
		filter[r] = true
	}
	var out []*Edge
	for _, e := range g.Edges() {
		if e.SourceID != nodeID && e.TargetID != nodeID {
			continue
		}
		if len(filter) > 0 && !filter[e.Type] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Neighbors returns ids adjacent to nodeID over active edges, optionally
// filtered by relation types. Transfer edges are followed source→target only.
func (g *Graph) Neighbors(nodeID string, rels ...RelationType) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range g.EdgesOf(nodeID, rels...) {
		var other string
		switch {
		case e.SourceID == nodeID:
			other = e.TargetID
		case e.Type == RelationTransfer:
			continue // directed: do not walk upstream
		default:
			other = e.SourceID
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns node and active edge counts.
func (g *Graph) Len() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.edges {
		if e.Active {
			edges++
		}
	}
	return len(g.nodes), edges
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
