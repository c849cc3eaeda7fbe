// Package report renders a scored batch into a markdown summary for sales
// managers: bucket distribution, top risk factors from the fitted
// coefficients, and the high-risk open pipeline ranked by score. Rendering
// is purely derived from engine output; it performs no scoring of its own.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/salescope/dealrisk/internal/application/pipeline"
	"github.com/salescope/dealrisk/internal/domain/deal"
	"github.com/salescope/dealrisk/internal/domain/rescale"
)

const maxHighRiskRows = 15

// Render produces the markdown risk report for a completed run.
func Render(result *pipeline.Result) string {
	var b strings.Builder
	s := result.Summary

	fmt.Fprintf(&b, "# Deal Risk Scoring Report\n\n")
	fmt.Fprintf(&b, "Run `%s`, scored as of %s.\n\n", s.RunID, s.AsOf.Format("2006-01-02"))
	fmt.Fprintf(&b, "**Model performance**: holdout ROC-AUC = %.3f\n\n", s.HoldoutAUC)
	if s.ModelStale {
		fmt.Fprintf(&b, "> Model trained %s is past its retraining interval; scores remain valid but retraining is due.\n\n",
			s.TrainedAt.Format("2006-01-02"))
	}

	writeDistribution(&b, result)
	writeTopFactors(&b, s)
	writeHighRiskPipeline(&b, result)
	writeSegmentAverages(&b, result)
	writeQuality(&b, s)

	fmt.Fprintf(&b, "---\n\n")
	fmt.Fprintf(&b, "Percentile scores are batch-relative: a deal's score is its rank within this "+
		"scored batch, so the same deal can score differently in a batch with different composition. "+
		"This is intended behavior.\n")
	return b.String()
}

func writeDistribution(b *strings.Builder, result *pipeline.Result) {
	counts := map[rescale.Category]int{}
	values := map[rescale.Category]float64{}
	for _, sd := range result.Scored {
		counts[sd.RiskCategory]++
		values[sd.RiskCategory] += sd.Deal.Amount
	}
	total := len(result.Scored)

	fmt.Fprintf(b, "## Risk Distribution\n\n")
	fmt.Fprintf(b, "**Total deals scored**: %d\n\n", total)
	fmt.Fprintf(b, "| Risk Category | Count | Share | Total Value |\n")
	fmt.Fprintf(b, "|---------------|-------|-------|-------------|\n")
	for _, cat := range []rescale.Category{rescale.CategoryLow, rescale.CategoryMedium, rescale.CategoryHigh} {
		share := 0.0
		if total > 0 {
			share = float64(counts[cat]) / float64(total) * 100
		}
		fmt.Fprintf(b, "| %s | %d | %.1f%% | $%.0f |\n", cat, counts[cat], share, values[cat])
	}
	fmt.Fprintf(b, "\n")
}

func writeTopFactors(b *strings.Builder, s pipeline.Summary) {
	fmt.Fprintf(b, "## Top Risk Factors\n\n")
	fmt.Fprintf(b, "Fitted coefficients, strongest first. Positive coefficients increase loss "+
		"risk; negative coefficients are protective.\n\n")
	limit := 5
	if len(s.Coefficients) < limit {
		limit = len(s.Coefficients)
	}
	for i := 0; i < limit; i++ {
		c := s.Coefficients[i]
		direction := "increases risk"
		if c.Value < 0 {
			direction = "decreases risk"
		}
		fmt.Fprintf(b, "%d. **%s**: %+.3f (%s)\n", i+1, c.Name, c.Value, direction)
	}
	fmt.Fprintf(b, "\n")
}

func writeHighRiskPipeline(b *strings.Builder, result *pipeline.Result) {
	var open []pipeline.ScoredDeal
	for _, sd := range result.Scored {
		if sd.Deal.Outcome == deal.OutcomeOpen && sd.RiskCategory == rescale.CategoryHigh {
			open = append(open, sd)
		}
	}

	fmt.Fprintf(b, "## High-Risk Open Pipeline\n\n")
	if len(open) == 0 {
		fmt.Fprintf(b, "No high-risk deals currently open.\n\n")
		return
	}

	fmt.Fprintf(b, "**Open deals in the High bucket**: %d\n\n", len(open))
	fmt.Fprintf(b, "| Deal | Score | Amount | Industry | Rep | Stage | Top Factor |\n")
	fmt.Fprintf(b, "|------|-------|--------|----------|-----|-------|------------|\n")
	rows := open
	if len(rows) > maxHighRiskRows {
		rows = rows[:maxHighRiskRows]
	}
	for _, sd := range rows {
		top := ""
		if len(sd.TopFactors) > 0 {
			top = fmt.Sprintf("%s (%+.2f)", sd.TopFactors[0].Name, sd.TopFactors[0].Contribution)
		}
		fmt.Fprintf(b, "| %s | %.1f | $%.0f | %s | %s | %s | %s |\n",
			sd.Deal.ID, sd.PercentileScore, sd.Deal.Amount,
			sd.Deal.Industry, sd.Deal.RepID, sd.Deal.Stage, top)
	}
	fmt.Fprintf(b, "\n")
}

// writeSegmentAverages reports mean risk score by industry, lead source and
// rep so managers can spot systemic risk pockets rather than single deals.
func writeSegmentAverages(b *strings.Builder, result *pipeline.Result) {
	fmt.Fprintf(b, "## Average Risk by Segment\n\n")
	writeAverageTable(b, "Industry", result.Scored, func(d deal.Deal) string { return d.Industry })
	writeAverageTable(b, "Lead Source", result.Scored, func(d deal.Deal) string { return d.LeadSource })
	writeAverageTable(b, "Rep", result.Scored, func(d deal.Deal) string { return d.RepID })
}

func writeAverageTable(b *strings.Builder, label string, scored []pipeline.ScoredDeal, key func(deal.Deal) string) {
	type agg struct {
		sum   float64
		count int
	}
	groups := map[string]*agg{}
	for _, sd := range scored {
		k := key(sd.Deal)
		g := groups[k]
		if g == nil {
			g = &agg{}
			groups[k] = g
		}
		g.sum += sd.PercentileScore
		g.count++
	}

	type row struct {
		name string
		avg  float64
		n    int
	}
	rows := make([]row, 0, len(groups))
	for k, g := range groups {
		rows = append(rows, row{name: k, avg: g.sum / float64(g.count), n: g.count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].avg != rows[j].avg {
			return rows[i].avg > rows[j].avg
		}
		return rows[i].name < rows[j].name
	})
	if len(rows) > 5 {
		rows = rows[:5]
	}

	fmt.Fprintf(b, "**By %s** (top 5 by average score):\n\n", label)
	fmt.Fprintf(b, "| %s | Avg Score | Deals |\n|---|---|---|\n", label)
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | %.1f | %d |\n", r.name, r.avg, r.n)
	}
	fmt.Fprintf(b, "\n")
}

func writeQuality(b *strings.Builder, s pipeline.Summary) {
	fmt.Fprintf(b, "## Data Quality\n\n")
	fmt.Fprintf(b, "- Input records: %d, scored: %d, rejected by schema checks: %d\n",
		s.TotalInput, s.Scored, s.Rejected)
	fmt.Fprintf(b, "- Low-confidence benchmarks (below sample threshold, global fallback used): %d\n",
		s.LowConfidenceBenchmarks)
	fmt.Fprintf(b, "- Training set: %d closed deals, %s to %s\n\n",
		s.Fingerprint.Rows,
		s.Fingerprint.From.Format("2006-01-02"),
		s.Fingerprint.To.Format("2006-01-02"))
}
