// Package postgres adapts the external deal store and the scored-deal sink
// to PostgreSQL. The engine itself never touches I/O; these repos run
// strictly before and after the core pipeline boundary.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/salescope/dealrisk/internal/domain/deal"
)

// DealsRepo reads deal batches from the store.
type DealsRepo interface {
	// ListAsOf returns every deal created before asOf. Open deals come back
	// without a closed date; the pipeline's as-of filtering handles the rest.
	ListAsOf(ctx context.Context, asOf time.Time) ([]deal.Deal, error)
}

type dealsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewDealsRepo creates a PostgreSQL deals repository. Reads are wrapped in a
// circuit breaker so a struggling store fails fast instead of stalling the
// scoring run.
func NewDealsRepo(db *sqlx.DB, timeout time.Duration) DealsRepo {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "deal-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("deal store circuit breaker state change")
		},
	})
	return &dealsRepo{db: db, timeout: timeout, breaker: breaker}
}

type dealRow struct {
	ID          string       `db:"deal_id"`
	Amount      float64      `db:"amount"`
	Industry    string       `db:"industry"`
	Region      string       `db:"region"`
	ProductType string       `db:"product_type"`
	LeadSource  string       `db:"lead_source"`
	RepID       string       `db:"rep_id"`
	Stage       string       `db:"stage"`
	CreatedDate time.Time    `db:"created_date"`
	ClosedDate  sql.NullTime `db:"closed_date"`
	Outcome     string       `db:"outcome"`
}

func (r *dealsRepo) ListAsOf(ctx context.Context, asOf time.Time) ([]deal.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT deal_id, amount, industry, region, product_type, lead_source,
		       rep_id, stage, created_date, closed_date, outcome
		FROM deals
		WHERE created_date < $1
		ORDER BY deal_id`

	result, err := r.breaker.Execute(func() (interface{}, error) {
		var rows []dealRow
		if err := r.db.SelectContext(ctx, &rows, query, asOf); err != nil {
			return nil, fmt.Errorf("list deals: %w", err)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	rows := result.([]dealRow)
	deals := make([]deal.Deal, len(rows))
	for i, row := range rows {
		d := deal.Deal{
			ID:          row.ID,
			Amount:      row.Amount,
			Industry:    row.Industry,
			Region:      row.Region,
			ProductType: row.ProductType,
			LeadSource:  row.LeadSource,
			RepID:       row.RepID,
			Stage:       row.Stage,
			CreatedDate: row.CreatedDate,
			Outcome:     deal.Outcome(row.Outcome),
		}
		if row.ClosedDate.Valid {
			t := row.ClosedDate.Time
			d.ClosedDate = &t
		}
		deals[i] = d
	}
	return deals, nil
}
