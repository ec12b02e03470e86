// Package anomaly runs statistical and spectral checks over aggregated
// records and emits findings. Checks never mutate their input; a check that
// lacks sample is skipped and reported as not evaluated, never failed.
package anomaly

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/ferr"
	"github.com/sells-group/fedprobe/internal/model"
)

// Config holds detection thresholds. Zero values fall back to defaults.
type Config struct {
	// DeviationSigma is the robust z-score beyond which a value is a
	// price deviation. Default 2.5.
	DeviationSigma float64
	// DeviationMinSample is the smallest cohort eligible for the
	// deviation check. Default 8.
	DeviationMinSample int
	// ConcentrationShare flags a supplier holding more than this share
	// of a cohort's total value. Default 0.70.
	ConcentrationShare float64
	// BenfordAlpha is the chi-square significance level. Default 0.05.
	BenfordAlpha float64
	// BenfordMinSample skips the Benford check below it. Default 30.
	BenfordMinSample int
	// DuplicateSimilarity flags record pairs at or above it. Default 0.85.
	DuplicateSimilarity float64
	// TemporalMinSamples is the shortest value series the spectral check
	// accepts. Default 12 (one year of monthly buckets).
	TemporalMinSamples int
	// TemporalConcentration flags a series whose dominant non-DC
	// frequency carries more than this share of spectral energy.
	// Default 0.4.
	TemporalConcentration float64
}

func (c *Config) defaults() {
	if c.DeviationSigma <= 0 {
		c.DeviationSigma = 2.5
	}
	if c.DeviationMinSample <= 0 {
		c.DeviationMinSample = 8
	}
	if c.ConcentrationShare <= 0 {
		c.ConcentrationShare = 0.70
	}
	if c.BenfordAlpha <= 0 {
		c.BenfordAlpha = 0.05
	}
	if c.BenfordMinSample <= 0 {
		c.BenfordMinSample = 30
	}
	if c.DuplicateSimilarity <= 0 {
		c.DuplicateSimilarity = 0.85
	}
	if c.TemporalMinSamples <= 0 {
		c.TemporalMinSamples = 12
	}
	if c.TemporalConcentration <= 0 {
		c.TemporalConcentration = 0.4
	}
}

// Engine runs every check over a record set.
type Engine struct {
	cfg Config
}

// New creates an engine, filling config defaults.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Detect runs all checks per domain and returns the findings plus the names
// of checks that were skipped for insufficient sample.
func (e *Engine) Detect(records []model.AggregatedRecord) ([]model.AnomalyFinding, []string) {
	byDomain := make(map[model.Domain][]model.AggregatedRecord)
	for _, r := range records {
		byDomain[r.Domain] = append(byDomain[r.Domain], r)
	}
	domains := make([]model.Domain, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })

	var findings []model.AnomalyFinding
	var skipped []string
	for _, d := range domains {
		set := byDomain[d]
		for _, check := range []func([]model.AggregatedRecord) ([]model.AnomalyFinding, error){
			e.priceDeviation,
			e.temporalPattern,
			e.vendorConcentration,
			e.benford,
			e.duplicates,
		} {
			fs, err := check(set)
			if err != nil {
				var ins *ferr.InsufficientSample
				if errors.As(err, &ins) {
					skipped = append(skipped, fmt.Sprintf("%s/%s: not evaluated (%d of %d samples)",
						d, ins.Check, ins.Have, ins.Need))
					continue
				}
				zap.L().Warn("anomaly check failed", zap.String("domain", string(d)), zap.Error(err))
				continue
			}
			findings = append(findings, fs...)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Confidence != findings[j].Confidence {
			return findings[i].Confidence > findings[j].Confidence
		}
		return findings[i].Type < findings[j].Type
	})

	zap.L().Info("anomaly detection finished",
		zap.Int("records", len(records)),
		zap.Int("findings", len(findings)),
		zap.Int("skipped_checks", len(skipped)))
	return findings, skipped
}

func severityFor(confidence float64) model.Severity {
	switch {
	case confidence >= 0.8:
		return model.SeverityHigh
	case confidence >= 0.5:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// cohortKey groups records into a comparable baseline: same domain, org,
// and year.
func cohortKey(r model.AggregatedRecord) string {
	year := r.StringField(model.FieldYear)
	if year == "" {
		if t, ok := r.TimeField(model.FieldSignedAt); ok {
			year = fmt.Sprintf("%d", t.Year())
		}
	}
	return fmt.Sprintf("%s|%s|%s", r.Domain, r.StringField(model.FieldOrg), year)
}

func cohorts(records []model.AggregatedRecord) map[string][]model.AggregatedRecord {
	out := make(map[string][]model.AggregatedRecord)
	for _, r := range records {
		k := cohortKey(r)
		out[k] = append(out[k], r)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
