package graph

import (
	"reflect"
	"testing"

	"github.com/sells-group/fedprobe/internal/model"
)

func contractRecord(org, supplier, number string) model.AggregatedRecord {
	return model.AggregatedRecord{
		IdentityKey: "id-" + number,
		Domain:      model.DomainContracts,
		Fields: map[string]model.FieldValue{
			model.FieldOrg:            {Value: org},
			model.FieldSupplier:       {Value: supplier},
			model.FieldContractNumber: {Value: number},
		},
	}
}

func biddingRecord(bidID, supplier string) model.AggregatedRecord {
	return model.AggregatedRecord{
		Domain: model.DomainBiddings,
		Fields: map[string]model.FieldValue{
			model.FieldBiddingID: {Value: bidID},
			model.FieldSupplier:  {Value: supplier},
		},
	}
}

func TestBuild_NormalizesEntityLabels(t *testing.T) {
	g := Build([]model.AggregatedRecord{
		contractRecord("Ministério da Saúde", "ACME Ltda.", "CT-1"),
		contractRecord("ministerio da saude", "acme ltda", "CT-2"),
	})

	nodes, edges := g.Len()
	if nodes != 2 {
		t.Fatalf("nodes = %d, want 2 (label variants must merge)", nodes)
	}
	if edges != 1 {
		t.Fatalf("edges = %d, want 1", edges)
	}

	e := g.Edges()[0]
	if e.Type != RelationAwardedContract {
		t.Fatalf("relation = %s, want %s", e.Type, RelationAwardedContract)
	}
	if len(e.Evidence) != 2 {
		t.Fatalf("evidence = %v, want both contract numbers", e.Evidence)
	}
}

func TestBuild_CoBidPairs(t *testing.T) {
	g := Build([]model.AggregatedRecord{
		biddingRecord("BID-7", "alpha"),
		biddingRecord("BID-7", "beta"),
		biddingRecord("BID-7", "gamma"),
		biddingRecord("BID-8", "alpha"), // lone bidder, no pair
	})

	var coBid int
	for _, e := range g.Edges() {
		if e.Type == RelationCoBid {
			coBid++
		}
	}
	if coBid != 3 {
		t.Fatalf("co_bid edges = %d, want 3 (pairs among 3 bidders)", coBid)
	}
}

func TestDeactivate_SoftDeletesOnly(t *testing.T) {
	g := New()
	g.UpsertNode("supplier:a", NodeSupplier, "a", nil)
	g.UpsertNode("supplier:b", NodeSupplier, "b", nil)
	g.AddEdge("supplier:a", "supplier:b", RelationCoBid, 1, "bidding:1")

	if !g.Deactivate("supplier:a", "supplier:b", RelationCoBid) {
		t.Fatal("Deactivate returned false for existing edge")
	}
	if _, edges := g.Len(); edges != 0 {
		t.Fatalf("active edges = %d after deactivate, want 0", edges)
	}
	// The edge object survives with its evidence for audit.
	if e, ok := g.edges[edgeKey("supplier:a", "supplier:b", RelationCoBid)]; !ok {
		t.Fatal("edge removed entirely, want soft delete")
	} else if e.Active || len(e.Evidence) != 1 {
		t.Fatalf("edge = %+v, want inactive with evidence intact", e)
	}
}

func TestComputeCentrality_BridgeNode(t *testing.T) {
	// Path a-b-c-d-e: c carries every cross pair, so it tops betweenness.
	g := New()
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		g.UpsertNode("supplier:"+id, NodeSupplier, id, nil)
	}
	for i := 0; i+1 < len(ids); i++ {
		g.AddEdge("supplier:"+ids[i], "supplier:"+ids[i+1], RelationCoBid, 1)
	}

	g.ComputeCentrality()

	c, _ := g.Node("supplier:c")
	for _, id := range []string{"a", "b", "d", "e"} {
		n, _ := g.Node("supplier:" + id)
		if n.Betweenness >= c.Betweenness {
			t.Fatalf("betweenness(%s)=%v >= betweenness(c)=%v", id, n.Betweenness, c.Betweenness)
		}
	}
	if c.Betweenness <= 0 || c.Betweenness > 1 {
		t.Fatalf("betweenness(c) = %v, want in (0,1]", c.Betweenness)
	}
	if c.Centrality <= 0 {
		t.Fatalf("centrality(c) = %v, want > 0", c.Centrality)
	}
}

func TestRecomputeRisk_AnomalyHitsRaiseScore(t *testing.T) {
	g := New()
	g.UpsertNode("supplier:x", NodeSupplier, "x", nil)
	g.UpsertNode("supplier:y", NodeSupplier, "y", nil)
	g.AddEdge("supplier:x", "supplier:y", RelationCoBid, 1)
	g.ComputeCentrality()

	g.RecordAnomalyHit("supplier:x")
	g.RecordAnomalyHit("supplier:x")
	g.RecomputeRisk()

	x, _ := g.Node("supplier:x")
	y, _ := g.Node("supplier:y")
	if x.RiskScore <= y.RiskScore {
		t.Fatalf("risk(x)=%v <= risk(y)=%v despite anomaly hits", x.RiskScore, y.RiskScore)
	}

	top := g.TopByRisk(1)
	if len(top) != 1 || top[0].ID != "supplier:x" {
		t.Fatalf("TopByRisk = %v, want supplier:x", top)
	}
}

func TestDetectCommunities_TwoCliques(t *testing.T) {
	g := New()
	clique := func(names ...string) {
		for _, n := range names {
			g.UpsertNode("supplier:"+n, NodeSupplier, n, nil)
		}
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				g.AddEdge("supplier:"+names[i], "supplier:"+names[j], RelationCoBid, 1)
			}
		}
	}
	clique("a1", "a2", "a3", "a4")
	clique("b1", "b2", "b3", "b4")
	// One weak bridge between the cliques.
	g.AddEdge("supplier:a1", "supplier:b1", RelationCoBid, 1)

	comms := g.DetectCommunities(CommunityOptions{MinSize: 3})
	if len(comms) != 2 {
		t.Fatalf("communities = %d, want 2", len(comms))
	}
	for _, c := range comms {
		if len(c.Members) != 4 {
			t.Fatalf("community %d has %d members, want 4: %v", c.ID, len(c.Members), c.Members)
		}
		if c.Cohesion <= 0.5 {
			t.Fatalf("community %d cohesion = %v, want > 0.5", c.ID, c.Cohesion)
		}
	}
}

func TestShortestPath_RespectsTransferDirection(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c"} {
		g.UpsertNode("supplier:"+id, NodeSupplier, id, nil)
	}
	g.AddEdge("supplier:a", "supplier:b", RelationTransfer, 100)
	g.AddEdge("supplier:b", "supplier:c", RelationTransfer, 100)

	got := g.ShortestPath("supplier:a", "supplier:c", RelationTransfer)
	want := []string{"supplier:a", "supplier:b", "supplier:c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("path = %v, want %v", got, want)
	}

	if back := g.ShortestPath("supplier:c", "supplier:a", RelationTransfer); back != nil {
		t.Fatalf("reverse path = %v, want nil (transfers are directed)", back)
	}
}

func TestShortestPath_Missing(t *testing.T) {
	g := New()
	g.UpsertNode("supplier:a", NodeSupplier, "a", nil)
	if p := g.ShortestPath("supplier:a", "supplier:zz"); p != nil {
		t.Fatalf("path to unknown node = %v, want nil", p)
	}
}
