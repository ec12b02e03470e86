package aggregate

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/ferr"
	"github.com/sells-group/fedprobe/internal/model"
)

// Aggregate merges all federated results of an investigation into
// deduplicated records. Field conflicts resolve by tier priority: a value
// from a higher-tier source overwrites a lower-tier one, and equal tiers
// keep the first-seen value. Because inputs are processed in a fixed order
// (tier descending, source id ascending, record index), re-running on the
// same result set yields byte-identical output.
func Aggregate(results []model.FederatedResult) []model.AggregatedRecord {
	ordered := make([]model.FederatedResult, 0, len(results))
	for _, r := range results {
		if r.Status == model.StatusOK && len(r.Records) > 0 {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Tier != ordered[j].Tier {
			return ordered[i].Tier > ordered[j].Tier
		}
		return ordered[i].SourceID < ordered[j].SourceID
	})

	merged := make(map[string]*model.AggregatedRecord)
	var keys []string
	var conflicts int

	for _, fr := range ordered {
		for _, rec := range fr.Records {
			key := IdentityKey(rec)
			agg, ok := merged[key]
			if !ok {
				agg = &model.AggregatedRecord{
					IdentityKey: key,
					Domain:      rec.Domain,
					Fields:      make(map[string]model.FieldValue, len(rec.Fields)),
				}
				merged[key] = agg
				keys = append(keys, key)
			}

			for name, value := range rec.Fields {
				existing, seen := agg.Fields[name]
				if !seen {
					agg.Fields[name] = model.FieldValue{Value: value, SourceID: fr.SourceID, Tier: fr.Tier}
					continue
				}
				// Higher tier overwrites; equal or lower keeps first-seen.
				if fr.Tier > existing.Tier {
					agg.Fields[name] = model.FieldValue{Value: value, SourceID: fr.SourceID, Tier: fr.Tier}
					continue
				}
				if fmt.Sprintf("%v", existing.Value) != fmt.Sprintf("%v", value) {
					conflicts++
					conflict := &ferr.IdentityConflict{
						IdentityKey: key,
						Field:       name,
						Kept:        existing.Value,
						Discarded:   value,
					}
					zap.L().Debug("aggregate: field conflict resolved by tier priority",
						zap.String("identity", key),
						zap.String("field", name),
						zap.String("kept_source", existing.SourceID),
						zap.String("discarded_source", fr.SourceID),
						zap.String("detail", conflict.Error()),
					)
				}
			}

			agg.Provenance = appendUnique(agg.Provenance, fr.SourceID)
		}
	}

	if conflicts > 0 {
		zap.L().Info("aggregate: identity conflicts resolved",
			zap.Int("conflicts", conflicts),
			zap.Int("records", len(merged)),
		)
	}

	// First-seen key order follows the deterministic input ordering, so the
	// output slice is stable across runs.
	out := make([]model.AggregatedRecord, 0, len(keys))
	for _, key := range keys {
		agg := merged[key]
		sort.Strings(agg.Provenance)
		out = append(out, *agg)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
