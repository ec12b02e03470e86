package graph

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/aggregate"
	"github.com/sells-group/fedprobe/internal/model"
)

// Build constructs the entity graph from aggregated records. Entity labels
// are normalized before becoming node ids so the same supplier seen under
// "ACME Ltda." and "acme ltda" lands on one node.
func Build(records []model.AggregatedRecord) *Graph {
	g := New()
	b := builder{g: g}
	for _, rec := range records {
		switch rec.Domain {
		case model.DomainContracts:
			b.contract(rec)
		case model.DomainExpenses:
			b.expense(rec)
		case model.DomainBiddings:
			b.bidding(rec)
		case model.DomainSuppliers:
			b.supplier(rec)
		case model.DomainServants:
			b.servant(rec)
		case model.DomainTransfers:
			b.transfer(rec)
		}
	}
	b.linkCoBidders()
	b.linkSharedAttributes()
	g.normalizeWeights()

	nodes, edges := g.Len()
	zap.L().Debug("entity graph built",
		zap.Int("records", len(records)),
		zap.Int("nodes", nodes),
		zap.Int("edges", edges))
	return g
}

type builder struct {
	g *Graph
	// bidders groups participating suppliers per bidding for pairwise
	// co-bid edges once all records are seen.
	bidders map[string][]string
	// byAddress / byRegistration group supplier nodes that share an
	// attribute value.
	byAddress      map[string][]string
	byRegistration map[string][]string
}

func (b *builder) entity(t NodeType, label string, attrs map[string]string) (string, bool) {
	norm := aggregate.Normalize(label)
	if norm == "" {
		return "", false
	}
	id := NodeID(t, norm)
	b.g.UpsertNode(id, t, label, attrs)
	return id, true
}

func (b *builder) contract(rec model.AggregatedRecord) {
	orgID, okOrg := b.entity(NodeOrganization, rec.StringField(model.FieldOrg), nil)
	supID, okSup := b.entity(NodeSupplier, rec.StringField(model.FieldSupplier), map[string]string{
		"tax_id": rec.StringField(model.FieldSupplierTaxID),
	})
	evidence := rec.StringField(model.FieldContractNumber)
	if evidence == "" {
		evidence = rec.IdentityKey
	}
	if okOrg && okSup {
		b.g.AddEdge(orgID, supID, RelationAwardedContract, 1, evidence)
	}
	if decID, ok := b.entity(NodePerson, rec.StringField(model.FieldDecisionMaker), nil); ok && okOrg {
		b.g.AddEdge(decID, orgID, RelationDecision, 1, evidence)
	}
	if subID, ok := b.entity(NodeSupplier, rec.StringField(model.FieldSubcontractor), nil); ok && okSup {
		b.g.AddEdge(supID, subID, RelationSubcontract, 1, evidence)
	}
}

// expense payments reinforce the org↔supplier relationship without creating
// a separate relation type.
func (b *builder) expense(rec model.AggregatedRecord) {
	orgID, okOrg := b.entity(NodeOrganization, rec.StringField(model.FieldOrg), nil)
	supID, okSup := b.entity(NodeSupplier, rec.StringField(model.FieldSupplier), nil)
	if okOrg && okSup {
		b.g.AddEdge(orgID, supID, RelationAwardedContract, 0.5, "expense:"+rec.IdentityKey)
	}
}

func (b *builder) bidding(rec model.AggregatedRecord) {
	bidID := rec.StringField(model.FieldBiddingID)
	supID, ok := b.entity(NodeSupplier, rec.StringField(model.FieldSupplier), nil)
	if bidID == "" || !ok {
		return
	}
	if b.bidders == nil {
		b.bidders = make(map[string][]string)
	}
	b.bidders[bidID] = appendUnique(b.bidders[bidID], supID)
}

func (b *builder) supplier(rec model.AggregatedRecord) {
	supID, ok := b.entity(NodeSupplier, rec.StringField(model.FieldSupplier), map[string]string{
		"tax_id":  rec.StringField(model.FieldSupplierTaxID),
		"address": rec.StringField(model.FieldAddress),
	})
	if !ok {
		return
	}
	if addr := aggregate.Normalize(rec.StringField(model.FieldAddress)); addr != "" {
		if b.byAddress == nil {
			b.byAddress = make(map[string][]string)
		}
		b.byAddress[addr] = appendUnique(b.byAddress[addr], supID)
	}
	if reg := aggregate.Normalize(rec.StringField(model.FieldRegistration)); reg != "" {
		if b.byRegistration == nil {
			b.byRegistration = make(map[string][]string)
		}
		b.byRegistration[reg] = appendUnique(b.byRegistration[reg], supID)
	}
}

func (b *builder) servant(rec model.AggregatedRecord) {
	personID, okPerson := b.entity(NodePerson, rec.StringField(model.FieldPersonName), nil)
	if !okPerson {
		return
	}
	if orgID, ok := b.entity(NodeOrganization, rec.StringField(model.FieldOrg), nil); ok {
		b.g.AddEdge(personID, orgID, RelationEmployment, 1, rec.IdentityKey)
	}
	if relID, ok := b.entity(NodePerson, rec.StringField(model.FieldFamilyOf), nil); ok {
		b.g.AddEdge(personID, relID, RelationFamily, 1, rec.IdentityKey)
	}
}

func (b *builder) transfer(rec model.AggregatedRecord) {
	fromID, okFrom := b.entity(NodeSupplier, rec.StringField(model.FieldTransferFrom), nil)
	toID, okTo := b.entity(NodeSupplier, rec.StringField(model.FieldTransferTo), nil)
	if !okFrom || !okTo {
		return
	}
	amount, _ := rec.FloatField(model.FieldValueAmount)
	evidence := rec.IdentityKey
	if at := rec.StringField(model.FieldTransferAt); at != "" {
		evidence = fmt.Sprintf("%s@%s", rec.IdentityKey, at)
	}
	b.g.AddEdge(fromID, toID, RelationTransfer, amount, evidence)
}

func (b *builder) linkCoBidders() {
	for bidID, suppliers := range b.bidders {
		for i := 0; i < len(suppliers); i++ {
			for j := i + 1; j < len(suppliers); j++ {
				b.g.AddEdge(suppliers[i], suppliers[j], RelationCoBid, 1, "bidding:"+bidID)
			}
		}
	}
}

func (b *builder) linkSharedAttributes() {
	link := func(groups map[string][]string, rel RelationType, prefix string) {
		for key, ids := range groups {
			for i := 0; i < len(ids); i++ {
				for j := i + 1; j < len(ids); j++ {
					b.g.AddEdge(ids[i], ids[j], rel, 1, prefix+key)
				}
			}
		}
	}
	link(b.byAddress, RelationSharedAddress, "address:")
	link(b.byRegistration, RelationSharedRegistration, "registration:")
}

// normalizeWeights scales each relation type's weights into (0,1] so that
// centrality and community detection are not dominated by whichever relation
// happens to be most frequent (or, for transfers, denominated in currency).
func (g *Graph) normalizeWeights() {
	g.mu.Lock()
	defer g.mu.Unlock()

	max := make(map[RelationType]float64)
	for _, e := range g.edges {
		if e.Weight > max[e.Type] {
			max[e.Type] = e.Weight
		}
	}
	for _, e := range g.edges {
		if m := max[e.Type]; m > 0 {
			e.Weight /= m
		}
	}
}
