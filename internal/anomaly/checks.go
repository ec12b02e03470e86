package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/fedprobe/internal/aggregate"
	"github.com/sells-group/fedprobe/internal/ferr"
	"github.com/sells-group/fedprobe/internal/model"
)

// priceDeviation flags records whose monetary value sits beyond the
// configured robust z-score within their cohort. Falls back from MAD to the
// sample standard deviation when the cohort's MAD degenerates to zero.
func (e *Engine) priceDeviation(records []model.AggregatedRecord) ([]model.AnomalyFinding, error) {
	var findings []model.AnomalyFinding
	evaluated := false

	groups := cohorts(records)
	for _, key := range sortedKeys(groups) {
		cohort := groups[key]
		type valued struct {
			rec model.AggregatedRecord
			v   float64
		}
		var rows []valued
		var values []float64
		for _, r := range cohort {
			if v, ok := r.FloatField(model.FieldValueAmount); ok {
				rows = append(rows, valued{rec: r, v: v})
				values = append(values, v)
			}
		}
		if len(values) < e.cfg.DeviationMinSample {
			continue
		}
		evaluated = true

		center := median(values)
		scale := mad(values, center)
		if scale == 0 {
			center = mean(values)
			scale = stddev(values, center)
		}
		if scale == 0 {
			continue // constant cohort, nothing deviates
		}

		for _, row := range rows {
			z := math.Abs(row.v-center) / scale
			if z <= e.cfg.DeviationSigma {
				continue
			}
			// Confidence grows with distance past the threshold and
			// saturates around 2x the threshold.
			conf := math.Min(1, (z-e.cfg.DeviationSigma)/e.cfg.DeviationSigma+0.5)
			findings = append(findings, model.AnomalyFinding{
				Type:            model.FindingPriceDeviation,
				Severity:        severityFor(conf),
				Confidence:      conf,
				AffectedRecords: []string{row.rec.IdentityKey},
				Explanation: fmt.Sprintf(
					"value %.2f deviates %.1fσ from its cohort baseline %.2f (n=%d)",
					row.v, z, center, len(values)),
				SuggestedActions: []string{
					"compare against reference prices for the same item class",
					"request the contract's pricing justification",
				},
				Metadata: map[string]any{
					"cohort":  key,
					"z_score": z,
					"center":  center,
				},
			})
		}
	}

	if !evaluated && len(records) > 0 {
		return nil, &ferr.InsufficientSample{
			Check: "price_deviation",
			Have:  len(records),
			Need:  e.cfg.DeviationMinSample,
		}
	}
	return findings, nil
}

// temporalPattern buckets a cohort's values into a monthly series and looks
// for spectral energy concentrated in one periodic component, the signature
// of scheduled or scripted spending.
func (e *Engine) temporalPattern(records []model.AggregatedRecord) ([]model.AnomalyFinding, error) {
	var findings []model.AnomalyFinding
	evaluated := false

	groups := cohorts(records)
	for _, key := range sortedKeys(groups) {
		cohort := groups[key]
		buckets := make(map[string]float64)
		ids := make(map[string][]string)
		for _, r := range cohort {
			t, ok := r.TimeField(model.FieldSignedAt)
			if !ok {
				continue
			}
			v, ok := r.FloatField(model.FieldValueAmount)
			if !ok {
				continue
			}
			month := t.Format("2006-01")
			buckets[month] += v
			ids[month] = append(ids[month], r.IdentityKey)
		}
		if len(buckets) < e.cfg.TemporalMinSamples {
			continue
		}
		evaluated = true

		months := sortedKeys(buckets)
		series := make([]float64, len(months))
		for i, m := range months {
			series[i] = buckets[m]
		}

		freq, share := dominantFrequency(series)
		if share <= e.cfg.TemporalConcentration {
			continue
		}

		var affected []string
		for _, m := range months {
			affected = append(affected, ids[m]...)
		}
		sort.Strings(affected)
		period := float64(len(series)) / float64(freq)
		conf := math.Min(1, share/e.cfg.TemporalConcentration-0.3)
		findings = append(findings, model.AnomalyFinding{
			Type:            model.FindingTemporalPattern,
			Severity:        severityFor(conf),
			Confidence:      conf,
			AffectedRecords: affected,
			Explanation: fmt.Sprintf(
				"spending repeats with a ~%.1f-month period carrying %.0f%% of spectral energy",
				period, share*100),
			SuggestedActions: []string{
				"review the recurring dates against procurement calendars",
				"check whether amounts cluster just under approval limits",
			},
			Metadata: map[string]any{
				"cohort":       key,
				"period":       period,
				"energy_share": share,
			},
		})
	}

	if !evaluated && len(records) > 0 {
		return nil, &ferr.InsufficientSample{
			Check: "temporal_pattern",
			Have:  len(records),
			Need:  e.cfg.TemporalMinSamples,
		}
	}
	return findings, nil
}

// dominantFrequency runs a naive DFT over a mean-removed series and returns
// the strongest non-DC frequency index and its share of total energy.
func dominantFrequency(series []float64) (freq int, share float64) {
	n := len(series)
	mu := mean(series)
	centered := make([]float64, n)
	for i, v := range series {
		centered[i] = v - mu
	}

	var total float64
	var best float64
	for k := 1; k <= n/2; k++ {
		var re, im float64
		for t, v := range centered {
			angle := 2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += v * math.Cos(angle)
			im -= v * math.Sin(angle)
		}
		power := re*re + im*im
		total += power
		if power > best {
			best = power
			freq = k
		}
	}
	if total > 0 {
		share = best / total
	}
	return freq, share
}

// vendorConcentration flags a supplier holding more than the configured
// share of a cohort's total monetary value.
func (e *Engine) vendorConcentration(records []model.AggregatedRecord) ([]model.AnomalyFinding, error) {
	var findings []model.AnomalyFinding

	groups := cohorts(records)
	for _, key := range sortedKeys(groups) {
		cohort := groups[key]
		perSupplier := make(map[string]float64)
		idsBySupplier := make(map[string][]string)
		var total float64
		usable := 0
		for _, r := range cohort {
			v, ok := r.FloatField(model.FieldValueAmount)
			if !ok {
				continue
			}
			sup := r.StringField(model.FieldSupplier)
			if sup == "" {
				continue
			}
			perSupplier[sup] += v
			idsBySupplier[sup] = append(idsBySupplier[sup], r.IdentityKey)
			total += v
			usable++
		}
		// A lone contract is not concentration; a single supplier holding
		// a whole multi-contract cohort is the extreme of it.
		if total <= 0 || usable < 2 {
			continue
		}

		for _, sup := range sortedKeys(perSupplier) {
			localShare := perSupplier[sup] / total
			if localShare <= e.cfg.ConcentrationShare {
				continue
			}
			conf := math.Min(1, 0.5+(localShare-e.cfg.ConcentrationShare)/(1-e.cfg.ConcentrationShare))
			affected := append([]string(nil), idsBySupplier[sup]...)
			sort.Strings(affected)
			findings = append(findings, model.AnomalyFinding{
				Type:            model.FindingVendorConcentration,
				Severity:        severityFor(conf),
				Confidence:      conf,
				AffectedRecords: affected,
				Explanation: fmt.Sprintf(
					"supplier %q holds %.0f%% of the cohort's total value (%.2f of %.2f)",
					sup, localShare*100, perSupplier[sup], total),
				SuggestedActions: []string{
					"check whether competing bids were received",
					"compare the supplier's share in neighboring periods",
				},
				Metadata: map[string]any{
					"cohort":   key,
					"supplier": sup,
					"share":    localShare,
				},
			})
		}
	}
	return findings, nil
}

// benford runs a chi-square goodness-of-fit test of first-digit frequencies
// against the Benford distribution over the whole domain set.
func (e *Engine) benford(records []model.AggregatedRecord) ([]model.AnomalyFinding, error) {
	var counts [9]int
	var affected []string
	n := 0
	for _, r := range records {
		v, ok := r.FloatField(model.FieldValueAmount)
		if !ok {
			continue
		}
		d := firstDigit(v)
		if d < 1 {
			continue
		}
		counts[d-1]++
		affected = append(affected, r.IdentityKey)
		n++
	}
	if n < e.cfg.BenfordMinSample {
		if n == 0 && len(records) == 0 {
			return nil, nil
		}
		return nil, &ferr.InsufficientSample{Check: "benford_violation", Have: n, Need: e.cfg.BenfordMinSample}
	}

	var chi2 float64
	for d := 0; d < 9; d++ {
		expected := benfordExpected[d] * float64(n)
		diff := float64(counts[d]) - expected
		chi2 += diff * diff / expected
	}
	p := chiSquareP(chi2)
	if p >= e.cfg.BenfordAlpha {
		return nil, nil
	}

	sort.Strings(affected)
	conf := 1 - p
	return []model.AnomalyFinding{{
		Type:            model.FindingBenfordViolation,
		Severity:        severityFor(conf),
		Confidence:      conf,
		AffectedRecords: affected,
		Explanation: fmt.Sprintf(
			"first-digit distribution rejects Benford's law (χ²=%.1f, p=%.4f, n=%d)",
			chi2, p, n),
		SuggestedActions: []string{
			"audit a sample of the flagged amounts against invoices",
			"segment by supplier and re-test to localize the distortion",
		},
		Metadata: map[string]any{
			"chi_square": chi2,
			"p_value":    p,
			"n":          n,
		},
	}}, nil
}

// duplicates flags record pairs whose field-weighted similarity reaches the
// configured threshold. Comparison is bounded to records inside the same
// cohort so the pass stays quadratic in cohort size, not corpus size.
func (e *Engine) duplicates(records []model.AggregatedRecord) ([]model.AnomalyFinding, error) {
	var findings []model.AnomalyFinding

	groups := cohorts(records)
	for _, key := range sortedKeys(groups) {
		cohort := groups[key]
		for i := 0; i < len(cohort); i++ {
			for j := i + 1; j < len(cohort); j++ {
				a, b := cohort[i], cohort[j]
				if a.IdentityKey == b.IdentityKey {
					continue
				}
				sim := similarity(a, b)
				if sim < e.cfg.DuplicateSimilarity {
					continue
				}
				conf := sim
				pair := []string{a.IdentityKey, b.IdentityKey}
				sort.Strings(pair)
				findings = append(findings, model.AnomalyFinding{
					Type:            model.FindingDuplicateContract,
					Severity:        severityFor(conf),
					Confidence:      conf,
					AffectedRecords: pair,
					Explanation: fmt.Sprintf(
						"records %s and %s are %.0f%% similar across supplier, description, value, and date",
						pair[0], pair[1], sim*100),
					SuggestedActions: []string{
						"verify whether both contracts were actually executed",
						"check payment records for double disbursement",
					},
					Metadata: map[string]any{
						"cohort":     key,
						"similarity": sim,
					},
				})
			}
		}
	}
	return findings, nil
}

// similarity is a weighted blend: description token overlap 40%, supplier
// 25%, value closeness 20%, signing-date proximity 15%.
func similarity(a, b model.AggregatedRecord) float64 {
	var score float64

	score += 0.40 * tokenJaccard(a.StringField(model.FieldDescription), b.StringField(model.FieldDescription))

	if sa, sb := a.StringField(model.FieldSupplier), b.StringField(model.FieldSupplier); sa != "" && sa == sb {
		score += 0.25
	}

	if va, okA := a.FloatField(model.FieldValueAmount); okA {
		if vb, okB := b.FloatField(model.FieldValueAmount); okB {
			hi := math.Max(math.Abs(va), math.Abs(vb))
			if hi == 0 {
				score += 0.20
			} else {
				score += 0.20 * (1 - math.Min(1, math.Abs(va-vb)/hi))
			}
		}
	}

	if ta, okA := a.TimeField(model.FieldSignedAt); okA {
		if tb, okB := b.TimeField(model.FieldSignedAt); okB {
			gap := ta.Sub(tb)
			if gap < 0 {
				gap = -gap
			}
			const window = 30 * 24 * time.Hour
			if gap < window {
				score += 0.15 * (1 - float64(gap)/float64(window))
			}
		}
	}
	return score
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(aggregate.Normalize(s)) {
		out[t] = true
	}
	return out
}

func tokenJaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}
