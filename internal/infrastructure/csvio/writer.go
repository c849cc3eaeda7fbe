package csvio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/salescope/dealrisk/internal/application/pipeline"
	"github.com/salescope/dealrisk/internal/atomicio"
)

// WriteScores exports a scored batch as CSV, atomically. Percentile scores
// are rendered with one decimal; raw probabilities keep full precision for
// downstream reproducibility checks.
func WriteScores(path string, scored []pipeline.ScoredDeal) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"deal_id", "created_date", "closed_date", "sales_rep_id",
		"industry", "region", "product_type", "lead_source", "deal_stage",
		"deal_amount", "outcome", "raw_probability", "risk_score",
		"risk_category", "top_factors",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, s := range scored {
		d := s.Deal
		closed := ""
		if d.ClosedDate != nil {
			closed = d.ClosedDate.Format(dateLayout)
		}
		row := []string{
			d.ID,
			d.CreatedDate.Format(dateLayout),
			closed,
			d.RepID,
			d.Industry,
			d.Region,
			d.ProductType,
			d.LeadSource,
			d.Stage,
			fmt.Sprintf("%.2f", d.Amount),
			string(d.Outcome),
			fmt.Sprintf("%.6f", s.RawProbability),
			fmt.Sprintf("%.1f", s.PercentileScore),
			string(s.RiskCategory),
			formatFactors(s),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return atomicio.WriteFile(path, buf.Bytes())
}

func formatFactors(s pipeline.ScoredDeal) string {
	parts := make([]string, len(s.TopFactors))
	for i, f := range s.TopFactors {
		parts[i] = fmt.Sprintf("%s:%+.3f", f.Name, f.Contribution)
	}
	return strings.Join(parts, ";")
}
