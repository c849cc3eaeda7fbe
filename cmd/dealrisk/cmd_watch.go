package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/salescope/dealrisk/internal/application/pipeline"
	"github.com/salescope/dealrisk/internal/config"
	"github.com/salescope/dealrisk/internal/infrastructure/cache"
	"github.com/salescope/dealrisk/internal/infrastructure/postgres"
	httpiface "github.com/salescope/dealrisk/internal/interfaces/http"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-score the postgres deal store on an interval",
	Long: `Run scoring batches against the configured postgres deal store on a fixed
interval, persisting each scored batch and exposing run metrics and health
over HTTP. Each run is an independent batch: benchmarks and the model are
rebuilt from the store snapshot, so there is no online model refresh.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Hour, "Time between scoring runs")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return fmt.Errorf("watch requires postgres storage to be enabled")
	}

	db, err := sqlx.Open("postgres", cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open deal store: %w", err)
	}
	defer db.Close()

	dealsRepo := postgres.NewDealsRepo(db, cfg.Storage.QueryTimeout)
	scoresRepo := postgres.NewScoresRepo(db, cfg.Storage.QueryTimeout)

	metrics := httpiface.NewMetricsRegistry()
	opts := []pipeline.Option{pipeline.WithObserver(metrics)}

	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		defer client.Close()
		opts = append(opts, pipeline.WithSnapshotCache(cache.NewBenchmarkCache(client, cfg.Cache.TTL)))
	}

	runner := pipeline.NewRunner(cfg, opts...)

	srv := httpiface.NewServer(cfg.HTTP.Addr, metrics)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", watchInterval).Msg("watch loop started")
	runOnce(ctx, runner, dealsRepo, scoresRepo)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watch loop stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case <-ticker.C:
			runOnce(ctx, runner, dealsRepo, scoresRepo)
		}
	}
}

func runOnce(ctx context.Context, runner *pipeline.Runner, dealsRepo postgres.DealsRepo, scoresRepo postgres.ScoresRepo) {
	asOf := time.Now().UTC()

	deals, err := dealsRepo.ListAsOf(ctx, asOf)
	if err != nil {
		log.Error().Err(err).Msg("deal store read failed, skipping run")
		return
	}
	if len(deals) == 0 {
		log.Warn().Msg("deal store empty, skipping run")
		return
	}

	result, err := runner.Run(ctx, pipeline.Input{Deals: deals, AsOf: asOf})
	if err != nil {
		log.Error().Err(err).Msg("scoring run failed")
		return
	}

	if err := scoresRepo.InsertRun(ctx, result.Summary, result.Scored); err != nil {
		log.Error().Err(err).Str("run_id", result.Summary.RunID).Msg("persisting scored batch failed")
	}
}
