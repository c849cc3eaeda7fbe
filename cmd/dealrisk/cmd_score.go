package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/salescope/dealrisk/internal/application/pipeline"
	"github.com/salescope/dealrisk/internal/atomicio"
	"github.com/salescope/dealrisk/internal/config"
	"github.com/salescope/dealrisk/internal/domain/deal"
	"github.com/salescope/dealrisk/internal/infrastructure/csvio"
	"github.com/salescope/dealrisk/internal/infrastructure/postgres"
	"github.com/salescope/dealrisk/internal/report"
)

var (
	scoreInput     string
	scoreAsOf      string
	scoreModelPath string
	scoreSaveModel string
	scoreOutDir    string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Run one scoring batch and write artifacts",
	Long: `Score a batch of deals: aggregate segment benchmarks, engineer features,
train (or reuse) the risk model, and write percentile risk scores with top
factors.

Deals come from --input CSV, or from the configured postgres store when
storage is enabled and --input is omitted. Outputs land in the output
directory: risk_scores.csv, risk_scoring_report.md and run_summary.json.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreInput, "input", "", "Deals CSV path (default: postgres store when enabled)")
	scoreCmd.Flags().StringVar(&scoreAsOf, "as-of", "", "Scoring timestamp, YYYY-MM-DD (default today UTC)")
	scoreCmd.Flags().StringVar(&scoreModelPath, "model", "", "Reuse a saved model artifact instead of training")
	scoreCmd.Flags().StringVar(&scoreSaveModel, "save-model", "", "Persist the trained model artifact to this path")
	scoreCmd.Flags().StringVar(&scoreOutDir, "out", "", "Override the configured output directory")
}

func runScore(cmd *cobra.Command, args []string) error {
	if scoreModelPath != "" && scoreSaveModel != "" {
		return fmt.Errorf("--save-model conflicts with --model: a run reusing an artifact trains nothing to save")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if scoreOutDir != "" {
		cfg.Output.Dir = scoreOutDir
	}

	asOf, err := parseAsOf(scoreAsOf)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	deals, err := loadDeals(ctx, cfg)
	if err != nil {
		return err
	}

	in := pipeline.Input{Deals: deals, AsOf: asOf}
	if scoreModelPath != "" {
		artifact, err := pipeline.LoadArtifact(scoreModelPath)
		if err != nil {
			return err
		}
		in.Model = artifact.Model
		in.Vocabulary = artifact.Vocabulary
	}

	runner := pipeline.NewRunner(cfg)
	result, err := runner.Run(ctx, in)
	if err != nil {
		return fmt.Errorf("scoring run failed: %w", err)
	}

	if err := writeArtifacts(cfg, result); err != nil {
		return err
	}

	if scoreSaveModel != "" {
		artifact := pipeline.ModelArtifact{Model: result.Model, Vocabulary: result.Vocabulary}
		if err := pipeline.SaveArtifact(scoreSaveModel, artifact); err != nil {
			return fmt.Errorf("save model artifact: %w", err)
		}
		log.Info().Str("path", scoreSaveModel).Msg("model artifact saved")
	}

	if cfg.Storage.Enabled {
		if err := persistScores(ctx, cfg, result); err != nil {
			return err
		}
	}

	fmt.Printf("Scored %d deals (%d rejected, %d low-confidence benchmarks), holdout AUC %.3f\n",
		result.Summary.Scored, result.Summary.Rejected,
		result.Summary.LowConfidenceBenchmarks, result.Summary.HoldoutAUC)
	if result.Summary.ModelStale {
		fmt.Println("Warning: model is past its retraining interval")
	}
	return nil
}

func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --as-of %q: %w", raw, err)
	}
	return t, nil
}

func loadDeals(ctx context.Context, cfg config.Config) ([]deal.Deal, error) {
	if scoreInput != "" {
		return csvio.ReadDeals(scoreInput)
	}
	if !cfg.Storage.Enabled {
		return nil, fmt.Errorf("no --input given and postgres storage is disabled")
	}

	db, err := sqlx.Open("postgres", cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open deal store: %w", err)
	}
	defer db.Close()

	asOf, err := parseAsOf(scoreAsOf)
	if err != nil {
		return nil, err
	}
	return postgres.NewDealsRepo(db, cfg.Storage.QueryTimeout).ListAsOf(ctx, asOf)
}

func writeArtifacts(cfg config.Config, result *pipeline.Result) error {
	scoresPath := filepath.Join(cfg.Output.Dir, "risk_scores.csv")
	if err := csvio.WriteScores(scoresPath, result.Scored); err != nil {
		return fmt.Errorf("write scores csv: %w", err)
	}

	reportPath := filepath.Join(cfg.Output.Dir, "risk_scoring_report.md")
	if err := atomicio.WriteFile(reportPath, []byte(report.Render(result))); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	summaryPath := filepath.Join(cfg.Output.Dir, "run_summary.json")
	if err := atomicio.WriteJSON(summaryPath, result.Summary); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}

	log.Info().
		Str("scores", scoresPath).
		Str("report", reportPath).
		Str("summary", summaryPath).
		Msg("run artifacts written")
	return nil
}

func persistScores(ctx context.Context, cfg config.Config, result *pipeline.Result) error {
	db, err := sqlx.Open("postgres", cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open deal store: %w", err)
	}
	defer db.Close()

	repo := postgres.NewScoresRepo(db, cfg.Storage.QueryTimeout)
	if err := repo.InsertRun(ctx, result.Summary, result.Scored); err != nil {
		return fmt.Errorf("persist scored batch: %w", err)
	}
	log.Info().Str("run_id", result.Summary.RunID).Msg("scored batch persisted")
	return nil
}
