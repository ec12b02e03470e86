package fraud

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sells-group/fedprobe/internal/aggregate"
	"github.com/sells-group/fedprobe/internal/graph"
	"github.com/sells-group/fedprobe/internal/model"
)

type transfer struct {
	from, to string // node ids
	amount   float64
	at       time.Time
	hasTime  bool
}

// laundering flags two transfer shapes: structuring (repeated amounts just
// under the reporting threshold between one pair) and layering (rapid
// pass-through chains across three or more hops).
func (e *Engine) laundering(g *graph.Graph, records []model.AggregatedRecord) []model.SuspiciousNetwork {
	transfers := e.collectTransfers(g, records)
	if len(transfers) == 0 {
		return nil
	}
	var networks []model.SuspiciousNetwork
	networks = append(networks, e.structuring(transfers)...)
	networks = append(networks, e.layering(transfers)...)
	return networks
}

// collectTransfers keeps only transfers whose endpoints exist in the graph,
// so node ids line up with the rest of the engine's output.
func (e *Engine) collectTransfers(g *graph.Graph, records []model.AggregatedRecord) []transfer {
	var out []transfer
	for _, r := range records {
		if r.Domain != model.DomainTransfers {
			continue
		}
		fromID, okFrom := supplierNode(g, r.StringField(model.FieldTransferFrom))
		toID, okTo := supplierNode(g, r.StringField(model.FieldTransferTo))
		if !okFrom || !okTo {
			continue
		}
		amount, _ := r.FloatField(model.FieldValueAmount)
		t := transfer{from: fromID, to: toID, amount: amount}
		if at, ok := r.TimeField(model.FieldTransferAt); ok {
			t.at, t.hasTime = at, true
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func supplierNode(g *graph.Graph, label string) (string, bool) {
	id := graph.NodeID(graph.NodeSupplier, aggregate.Normalize(label))
	if _, ok := g.Node(id); !ok {
		return "", false
	}
	return id, true
}

// structuring groups transfers by pair and counts amounts inside the
// just-under band [threshold*(1-margin), threshold).
func (e *Engine) structuring(transfers []transfer) []model.SuspiciousNetwork {
	low := e.cfg.ReportingThreshold * (1 - e.cfg.StructuringMargin)
	byPair := make(map[string][]transfer)
	for _, t := range transfers {
		if t.amount < low || t.amount >= e.cfg.ReportingThreshold {
			continue
		}
		key := t.from + "→" + t.to
		byPair[key] = append(byPair[key], t)
	}

	keys := make([]string, 0, len(byPair))
	for k := range byPair {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var networks []model.SuspiciousNetwork
	for _, key := range keys {
		batch := byPair[key]
		if len(batch) < e.cfg.StructuringMinTransfers {
			continue
		}
		extra := float64(len(batch) - e.cfg.StructuringMinTransfers)
		conf := math.Min(1, 0.6+0.1*extra)
		members := []string{batch[0].from, batch[0].to}
		sort.Strings(members)
		networks = append(networks, model.SuspiciousNetwork{
			MemberNodeIDs: members,
			Type:          model.NetworkMoneyLaundering,
			Severity:      severityFor(conf),
			Confidence:    conf,
			DetectionMethod: fmt.Sprintf(
				"structuring: %d transfers within %.0f%% under the %.0f reporting threshold",
				len(batch), e.cfg.StructuringMargin*100, e.cfg.ReportingThreshold),
		})
	}
	return networks
}

// layering searches for time-ordered chains a→b→c→… where each hop follows
// the previous within the hop window. Confidence grows with chain length and
// with regular hop timing.
func (e *Engine) layering(transfers []transfer) []model.SuspiciousNetwork {
	outgoing := make(map[string][]transfer)
	for _, t := range transfers {
		if !t.hasTime {
			continue
		}
		outgoing[t.from] = append(outgoing[t.from], t)
	}

	starts := make([]string, 0, len(outgoing))
	for k := range outgoing {
		starts = append(starts, k)
	}
	sort.Strings(starts)

	seenChains := make(map[string]bool)
	var networks []model.SuspiciousNetwork
	var walk func(chain []transfer)
	walk = func(chain []transfer) {
		last := chain[len(chain)-1]
		extended := false
		for _, next := range outgoing[last.to] {
			gap := next.at.Sub(last.at)
			if gap <= 0 || gap > e.cfg.LayeringHopWindow {
				continue
			}
			if inChain(chain, next.to) {
				continue // no cycles
			}
			walk(append(append([]transfer(nil), chain...), next))
			extended = true
		}
		if extended || len(chain) < e.cfg.LayeringMinHops {
			return
		}

		members := chainMembers(chain)
		key := fmt.Sprint(members)
		if seenChains[key] {
			return
		}
		seenChains[key] = true

		lengthScore := math.Min(1, float64(len(chain))/float64(e.cfg.LayeringMinHops+2))
		conf := 0.5*lengthScore + 0.5*timingRegularity(chain)
		networks = append(networks, model.SuspiciousNetwork{
			MemberNodeIDs: members,
			Type:          model.NetworkMoneyLaundering,
			Severity:      severityFor(conf),
			Confidence:    conf,
			DetectionMethod: fmt.Sprintf(
				"layering: %d-hop pass-through within %s per hop", len(chain), e.cfg.LayeringHopWindow),
		})
	}
	for _, start := range starts {
		for _, t := range outgoing[start] {
			walk([]transfer{t})
		}
	}
	return networks
}

func inChain(chain []transfer, node string) bool {
	if chain[0].from == node {
		return true
	}
	for _, t := range chain {
		if t.to == node {
			return true
		}
	}
	return false
}

func chainMembers(chain []transfer) []string {
	members := []string{chain[0].from}
	for _, t := range chain {
		members = append(members, t.to)
	}
	sort.Strings(members)
	return members
}

// timingRegularity returns 1 for perfectly even hop gaps and decays toward 0
// as the gaps grow irregular (coefficient of variation of the gap series).
func timingRegularity(chain []transfer) float64 {
	if len(chain) < 2 {
		return 0.5
	}
	gaps := make([]float64, 0, len(chain)-1)
	for i := 1; i < len(chain); i++ {
		gaps = append(gaps, chain[i].at.Sub(chain[i-1].at).Seconds())
	}
	var mu float64
	for _, gap := range gaps {
		mu += gap
	}
	mu /= float64(len(gaps))
	if mu <= 0 {
		return 0.5
	}
	var variance float64
	for _, gap := range gaps {
		d := gap - mu
		variance += d * d
	}
	variance /= float64(len(gaps))
	cv := math.Sqrt(variance) / mu
	return 1 / (1 + cv)
}
