package investigation

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/fedprobe/internal/model"
)

// confidence scores how much the caller should trust the result: source
// coverage discounted by degraded stages and skipped checks. Zero records
// always means zero confidence.
func confidence(results []model.FederatedResult, records []model.AggregatedRecord, degradations []model.StageDegradation, skipped []string) float64 {
	if len(records) == 0 {
		return 0
	}

	ok := 0
	for _, res := range results {
		if res.Status == model.StatusOK {
			ok++
		}
	}
	coverage := 0.0
	if len(results) > 0 {
		coverage = float64(ok) / float64(len(results))
	}

	penalty := math.Min(0.5, 0.1*float64(len(degradations))) +
		math.Min(0.2, 0.05*float64(len(skipped)))
	return math.Max(0, math.Min(1, coverage-penalty))
}

// summarize renders the one-paragraph human summary of a completed
// investigation.
func summarize(inv *model.Investigation) string {
	if len(inv.Records) == 0 {
		return "No records were returned by any data source for this intent; " +
			"nothing could be analyzed. Verify the filters or try again once sources recover."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d aggregated records across %d plan stages.",
		len(inv.Records), len(inv.Plan.Stages))

	if n := len(inv.Findings); n > 0 {
		bySeverity := map[model.Severity]int{}
		for _, f := range inv.Findings {
			bySeverity[f.Severity]++
		}
		fmt.Fprintf(&b, " Flagged %d anomalies (%d high, %d medium, %d low).",
			n, bySeverity[model.SeverityHigh], bySeverity[model.SeverityMedium], bySeverity[model.SeverityLow])
	} else {
		b.WriteString(" No statistical anomalies were flagged.")
	}

	if n := len(inv.Networks); n > 0 {
		byType := map[model.NetworkType]int{}
		for _, nw := range inv.Networks {
			byType[nw.Type]++
		}
		var parts []string
		for _, t := range []model.NetworkType{model.NetworkCartel, model.NetworkNepotism, model.NetworkMoneyLaundering} {
			if byType[t] > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", byType[t], t))
			}
		}
		fmt.Fprintf(&b, " Detected %d suspicious networks (%s).", n, strings.Join(parts, ", "))
	}

	if n := len(inv.Degradations); n > 0 {
		fmt.Fprintf(&b, " %d stages degraded; coverage is partial.", n)
	}
	if n := len(inv.SkippedChecks); n > 0 {
		fmt.Fprintf(&b, " %d checks were not evaluated for lack of sample.", n)
	}
	return b.String()
}
