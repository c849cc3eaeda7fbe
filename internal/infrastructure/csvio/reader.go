// Package csvio reads raw deal batches from CSV and writes scored-deal
// exports. Parsing is header-driven; unknown columns are dropped at this
// boundary rather than threaded through. Records that fail schema checks are
// surfaced to the caller, not silently coerced.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salescope/dealrisk/internal/domain/deal"
)

const dateLayout = "2006-01-02"

// Expected columns. sales_cycle_days appears in legacy exports and is
// ignored; the engine derives cycle length from the dates.
var requiredColumns = []string{
	"deal_id", "created_date", "sales_rep_id", "industry", "region",
	"product_type", "lead_source", "deal_stage", "deal_amount", "outcome",
}

// ReadDeals parses a deal batch from a CSV file.
func ReadDeals(path string) ([]deal.Deal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deals csv: %w", err)
	}
	defer f.Close()
	return ParseDeals(f)
}

// ParseDeals parses deal records from CSV content. Rows with malformed
// numerics or dates are skipped with a log line; schema-level validation of
// well-formed rows is the pipeline's job.
func ParseDeals(r io.Reader) ([]deal.Deal, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("deals csv missing required column %q", c)
		}
	}

	var deals []deal.Deal
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		d, err := parseRow(rec, cols)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping unparseable deal row")
			continue
		}
		deals = append(deals, d)
	}
	return deals, nil
}

func parseRow(rec []string, cols map[string]int) (deal.Deal, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	amount, err := strconv.ParseFloat(field("deal_amount"), 64)
	if err != nil {
		return deal.Deal{}, fmt.Errorf("deal_amount %q: %w", field("deal_amount"), err)
	}

	created, err := time.Parse(dateLayout, field("created_date"))
	if err != nil {
		return deal.Deal{}, fmt.Errorf("created_date %q: %w", field("created_date"), err)
	}

	d := deal.Deal{
		ID:          field("deal_id"),
		Amount:      amount,
		Industry:    field("industry"),
		Region:      field("region"),
		ProductType: field("product_type"),
		LeadSource:  field("lead_source"),
		RepID:       field("sales_rep_id"),
		Stage:       field("deal_stage"),
		CreatedDate: created,
		Outcome:     deal.Outcome(field("outcome")),
	}

	if raw := field("closed_date"); raw != "" {
		closed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return deal.Deal{}, fmt.Errorf("closed_date %q: %w", raw, err)
		}
		d.ClosedDate = &closed
	}
	return d, nil
}
