package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/salescope/dealrisk/internal/application/pipeline"
)

// ScoresRepo persists scored batches. Inserts are transactional: either the
// full batch lands or nothing does, matching the engine's no-partial-output
// contract.
type ScoresRepo interface {
	InsertRun(ctx context.Context, summary pipeline.Summary, scored []pipeline.ScoredDeal) error
}

type scoresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoresRepo creates a PostgreSQL scored-deal repository.
func NewScoresRepo(db *sqlx.DB, timeout time.Duration) ScoresRepo {
	return &scoresRepo{db: db, timeout: timeout}
}

func (r *scoresRepo) InsertRun(ctx context.Context, summary pipeline.Summary, scored []pipeline.ScoredDeal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scored batch tx: %w", err)
	}
	defer tx.Rollback()

	const runQuery = `
		INSERT INTO scoring_runs (run_id, as_of, scored, rejected, low_confidence_benchmarks,
		                          model_state, holdout_auc, trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := tx.ExecContext(ctx, runQuery,
		summary.RunID, summary.AsOf, summary.Scored, summary.Rejected,
		summary.LowConfidenceBenchmarks, string(summary.ModelState),
		summary.HoldoutAUC, summary.TrainedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("scoring run %s already persisted: %w", summary.RunID, err)
		}
		return fmt.Errorf("insert scoring run: %w", err)
	}

	const scoreQuery = `
		INSERT INTO scored_deals (run_id, deal_id, raw_probability, percentile_score,
		                          risk_category, top_factors)
		VALUES ($1, $2, $3, $4, $5, $6)`

	stmt, err := tx.PrepareContext(ctx, scoreQuery)
	if err != nil {
		return fmt.Errorf("prepare scored deal insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range scored {
		factors, err := json.Marshal(s.TopFactors)
		if err != nil {
			return fmt.Errorf("marshal factors for %s: %w", s.Deal.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			summary.RunID, s.Deal.ID, s.RawProbability, s.PercentileScore,
			string(s.RiskCategory), factors); err != nil {
			return fmt.Errorf("insert scored deal %s: %w", s.Deal.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scored batch: %w", err)
	}
	return nil
}
