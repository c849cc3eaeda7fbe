// Package deal defines the validated deal record that enters the scoring
// pipeline and the schema checks applied at the ingestion boundary.
package deal

import (
	"fmt"
	"time"
)

// Outcome is the lifecycle state of a deal.
type Outcome string

const (
	OutcomeWon  Outcome = "Won"
	OutcomeLost Outcome = "Lost"
	OutcomeOpen Outcome = "Open"
)

// Stage vocabulary, ordered. The ordinal rank is used directly as the
// deal_stage_encoded feature.
var stageRanks = map[string]int{
	"Qualified":   1,
	"Demo":        2,
	"Proposal":    3,
	"Negotiation": 4,
	"Closed":      5,
}

// StageRank returns the ordinal position of a stage in the fixed vocabulary.
func StageRank(stage string) (int, bool) {
	r, ok := stageRanks[stage]
	return r, ok
}

// Deal is one sales opportunity record. Extra fields present in raw input are
// dropped at the ingestion boundary; only what the engine consumes is carried.
type Deal struct {
	ID          string     `json:"deal_id" db:"deal_id"`
	Amount      float64    `json:"amount" db:"amount"`
	Industry    string     `json:"industry" db:"industry"`
	Region      string     `json:"region" db:"region"`
	ProductType string     `json:"product_type" db:"product_type"`
	LeadSource  string     `json:"lead_source" db:"lead_source"`
	RepID       string     `json:"rep_id" db:"rep_id"`
	Stage       string     `json:"stage" db:"stage"`
	CreatedDate time.Time  `json:"created_date" db:"created_date"`
	ClosedDate  *time.Time `json:"closed_date,omitempty" db:"closed_date"`
	Outcome     Outcome    `json:"outcome" db:"outcome"`
}

// IsClosed reports whether the deal has a terminal outcome.
func (d Deal) IsClosed() bool {
	return d.Outcome == OutcomeWon || d.Outcome == OutcomeLost
}

// CycleDays returns the age of the deal in days at the as-of timestamp.
// Closed deals use their closed date; open deals age against asOf so the
// value is reproducible without wall-clock reads. A closed date at or after
// asOf is not yet known at that point in time, so such deals age against
// asOf like open ones.
func (d Deal) CycleDays(asOf time.Time) float64 {
	end := asOf
	if d.ClosedDate != nil && d.ClosedDate.Before(asOf) {
		end = *d.ClosedDate
	}
	return end.Sub(d.CreatedDate).Hours() / 24.0
}

// SchemaError describes a record that failed required-field validation.
// One bad record never aborts the batch; it is rejected and counted.
type SchemaError struct {
	DealID string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("deal %s: field %s: %s", e.DealID, e.Field, e.Reason)
}

// Validate applies the schema contract from the ingestion boundary: required
// fields present, positive amount, stage in the fixed vocabulary, and
// outcome/closed-date consistency.
func Validate(d Deal) error {
	if d.ID == "" {
		return &SchemaError{DealID: d.ID, Field: "deal_id", Reason: "missing"}
	}
	if d.Amount <= 0 {
		return &SchemaError{DealID: d.ID, Field: "amount", Reason: fmt.Sprintf("must be positive, got %v", d.Amount)}
	}
	if _, ok := StageRank(d.Stage); !ok {
		return &SchemaError{DealID: d.ID, Field: "stage", Reason: fmt.Sprintf("unknown stage %q", d.Stage)}
	}
	if d.CreatedDate.IsZero() {
		return &SchemaError{DealID: d.ID, Field: "created_date", Reason: "missing"}
	}
	switch d.Outcome {
	case OutcomeWon, OutcomeLost:
		if d.ClosedDate == nil {
			return &SchemaError{DealID: d.ID, Field: "closed_date", Reason: "closed outcome without closed_date"}
		}
		if d.ClosedDate.Before(d.CreatedDate) {
			return &SchemaError{DealID: d.ID, Field: "closed_date", Reason: "closed_date precedes created_date"}
		}
	case OutcomeOpen:
		if d.ClosedDate != nil {
			return &SchemaError{DealID: d.ID, Field: "closed_date", Reason: "open deal with closed_date set"}
		}
	default:
		return &SchemaError{DealID: d.ID, Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", d.Outcome)}
	}
	return nil
}

// ValidateBatch partitions a raw batch into valid deals and rejects.
// Duplicate IDs are rejected after the first occurrence.
func ValidateBatch(deals []Deal) (valid []Deal, rejects []*SchemaError) {
	seen := make(map[string]bool, len(deals))
	for _, d := range deals {
		if err := Validate(d); err != nil {
			rejects = append(rejects, err.(*SchemaError))
			continue
		}
		if seen[d.ID] {
			rejects = append(rejects, &SchemaError{DealID: d.ID, Field: "deal_id", Reason: "duplicate id"})
			continue
		}
		seen[d.ID] = true
		valid = append(valid, d)
	}
	return valid, rejects
}
