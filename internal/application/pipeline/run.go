// Package pipeline orchestrates one scoring run: aggregate benchmarks,
// engineer features, train or reuse the risk model, score every deal,
// rescale into percentile ranks, and attribute top factors. The run is a
// single logical pass over an immutable input batch; it either completes
// with a fully scored batch plus a reject summary or fails with an explicit
// reason.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/salescope/dealrisk/internal/config"
	"github.com/salescope/dealrisk/internal/domain/attribution"
	"github.com/salescope/dealrisk/internal/domain/benchmark"
	"github.com/salescope/dealrisk/internal/domain/deal"
	"github.com/salescope/dealrisk/internal/domain/features"
	"github.com/salescope/dealrisk/internal/domain/model"
	"github.com/salescope/dealrisk/internal/domain/rescale"
)

// ScoredDeal is one deal's scoring output. Records are created fresh for
// every batch and never mutated in place; rescoring produces new records,
// and the percentile scale is relative to the batch they were scored in.
type ScoredDeal struct {
	Deal            deal.Deal            `json:"deal"`
	RawProbability  float64              `json:"raw_probability"`
	PercentileScore float64              `json:"percentile_score"`
	RiskCategory    rescale.Category     `json:"risk_category"`
	TopFactors      []attribution.Factor `json:"top_factors"`
}

// Coefficient pairs a feature name with its fitted weight, for the run's
// top-risk-factors summary.
type Coefficient struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Summary describes a completed run: counts, rejects, model provenance and
// validation quality.
type Summary struct {
	RunID                   string              `json:"run_id"`
	AsOf                    time.Time           `json:"as_of"`
	TotalInput              int                 `json:"total_input"`
	Scored                  int                 `json:"scored"`
	Rejected                int                 `json:"rejected"`
	Rejects                 []*deal.SchemaError `json:"-"`
	ScoringFailures         []string            `json:"scoring_failures,omitempty"`
	LowConfidenceBenchmarks int                 `json:"low_confidence_benchmarks"`
	ModelState              model.State         `json:"model_state"`
	ModelStale              bool                `json:"model_stale"`
	HoldoutAUC              float64             `json:"holdout_auc"`
	TrainedAt               time.Time           `json:"trained_at"`
	Fingerprint             model.Fingerprint   `json:"fingerprint"`
	Coefficients            []Coefficient       `json:"coefficients"`
	Duration                time.Duration       `json:"duration"`
}

// Result bundles everything a run produced.
type Result struct {
	Scored     []ScoredDeal
	Summary    Summary
	Model      *model.Model
	Vocabulary *features.Vocabulary
	Benchmarks *benchmark.Set
}

// SnapshotCache is an optional benchmark snapshot cache keyed by store
// fingerprint. A nil cache disables reuse.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*benchmark.Set, bool)
	Put(ctx context.Context, key string, set *benchmark.Set) error
}

// Observer receives run summaries, typically to drive metrics.
type Observer interface {
	ObserveRun(Summary)
}

// Runner executes scoring runs under a fixed configuration. Construction
// captures all policy values; Runner itself holds no mutable state.
type Runner struct {
	cfg      config.Config
	cache    SnapshotCache
	observer Observer
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSnapshotCache attaches a benchmark snapshot cache.
func WithSnapshotCache(c SnapshotCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithObserver attaches a run observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// NewRunner builds a runner from configuration.
func NewRunner(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Input is one scoring request. AsOf is the explicit scoring timestamp; the
// engine never reads the wall clock, so identical inputs reproduce identical
// outputs. Model and Vocabulary may carry a previously trained artifact; when
// nil a model is trained from the batch's closed deals.
type Input struct {
	Deals      []deal.Deal
	AsOf       time.Time
	Model      *model.Model
	Vocabulary *features.Vocabulary
}

// Run executes one scoring pass.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	logger := log.With().Str("run_id", runID).Time("as_of", in.AsOf).Logger()
	logger.Info().Int("input_deals", len(in.Deals)).Msg("scoring run started")

	valid, rejects := deal.ValidateBatch(in.Deals)
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid deals in batch (%d rejected)", len(rejects))
	}

	benchSet, err := r.benchmarks(ctx, valid, in.AsOf)
	if err != nil {
		return nil, fmt.Errorf("aggregate benchmarks: %w", err)
	}

	m, vocab := in.Model, in.Vocabulary
	if m == nil {
		m, vocab, err = r.train(valid, benchSet, in.AsOf)
		if err != nil {
			return nil, err
		}
	} else if vocab == nil {
		return nil, fmt.Errorf("reused model requires its training vocabulary")
	}

	state := m.StateAt(in.AsOf, r.cfg.Training.RetrainInterval)
	if state == model.StateStale {
		logger.Warn().
			Time("trained_at", m.TrainedAt).
			Dur("retrain_interval", r.cfg.Training.RetrainInterval).
			Msg("scoring against a stale model")
	}

	engineer := features.NewEngineer(benchSet, vocab)
	probs, failures, err := r.scoreAll(ctx, engineer, m, valid, in.AsOf)
	if err != nil {
		return nil, err
	}

	items := make([]rescale.Item, 0, len(valid))
	byID := make(map[string]deal.Deal, len(valid))
	for i, d := range valid {
		if probs[i] < 0 {
			continue // scoring failure, reported in summary
		}
		items = append(items, rescale.Item{DealID: d.ID, RawProbability: probs[i]})
		byID[d.ID] = d
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no deals could be scored (%d scoring failures)", len(failures))
	}

	buckets := rescale.Buckets{LowMax: r.cfg.Scoring.BucketLowMax, MediumMax: r.cfg.Scoring.BucketMediumMax}
	scored, err := r.assemble(rescale.Rescale(items), byID, engineer, m, buckets, in.AsOf)
	if err != nil {
		return nil, err
	}

	summary := Summary{
		RunID:                   runID,
		AsOf:                    in.AsOf,
		TotalInput:              len(in.Deals),
		Scored:                  len(scored),
		Rejected:                len(rejects),
		Rejects:                 rejects,
		ScoringFailures:         failures,
		LowConfidenceBenchmarks: benchSet.LowConfidenceCount(),
		ModelState:              state,
		ModelStale:              state == model.StateStale,
		HoldoutAUC:              m.HoldoutAUC,
		TrainedAt:               m.TrainedAt,
		Fingerprint:             m.Fingerprint,
		Coefficients:            coefficients(m),
		Duration:                time.Since(start),
	}

	if r.observer != nil {
		r.observer.ObserveRun(summary)
	}

	logger.Info().
		Int("scored", summary.Scored).
		Int("rejected", summary.Rejected).
		Int("low_confidence_benchmarks", summary.LowConfidenceBenchmarks).
		Float64("holdout_auc", summary.HoldoutAUC).
		Str("model_state", string(state)).
		Dur("duration", summary.Duration).
		Msg("scoring run completed")

	return &Result{
		Scored:     scored,
		Summary:    summary,
		Model:      m,
		Vocabulary: vocab,
		Benchmarks: benchSet,
	}, nil
}

func (r *Runner) benchmarks(ctx context.Context, valid []deal.Deal, asOf time.Time) (*benchmark.Set, error) {
	if r.cache != nil {
		key := benchmark.FingerprintFor(valid, asOf)
		if set, ok := r.cache.Get(ctx, key); ok {
			log.Debug().Str("fingerprint", key).Msg("benchmark snapshot cache hit")
			return set, nil
		}
		set, err := benchmark.Aggregate(valid, asOf, r.cfg.Scoring.MinSampleThreshold)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Put(ctx, key, set); err != nil {
			log.Warn().Err(err).Msg("benchmark snapshot cache write failed")
		}
		return set, nil
	}
	return benchmark.Aggregate(valid, asOf, r.cfg.Scoring.MinSampleThreshold)
}

func (r *Runner) train(valid []deal.Deal, benchSet *benchmark.Set, asOf time.Time) (*model.Model, *features.Vocabulary, error) {
	// Same point-in-time filter as the benchmark aggregator: an outcome
	// recorded at or after asOf is not knowable at scoring time, so the deal
	// is not a labeled sample and scores as still open.
	training := make([]deal.Deal, 0, len(valid))
	for _, d := range valid {
		if d.IsClosed() && d.ClosedDate != nil && d.ClosedDate.Before(asOf) {
			training = append(training, d)
		}
	}
	if len(training) == 0 {
		return nil, nil, fmt.Errorf("train risk model: %w", model.ErrNoTrainableDeals)
	}

	vocab := features.FitVocabulary(training)
	engineer := features.NewEngineer(benchSet, vocab)

	samples := make([]model.Sample, len(training))
	for i, d := range training {
		samples[i] = model.Sample{
			DealID:     d.ID,
			Features:   engineer.Vector(d, asOf),
			Lost:       d.Outcome == deal.OutcomeLost,
			ClosedDate: *d.ClosedDate,
		}
	}

	m, err := model.Train(samples, model.TrainConfig{
		LearningRate: r.cfg.Training.LearningRate,
		Iterations:   r.cfg.Training.Iterations,
		L2Penalty:    r.cfg.Training.L2Penalty,
		HoldoutEvery: r.cfg.Training.HoldoutEvery,
	}, asOf)
	if err != nil {
		return nil, nil, fmt.Errorf("train risk model: %w", err)
	}
	return m, vocab, nil
}

// scoreAll computes raw probabilities for the batch. Deals are scored in
// parallel but each worker writes only to its own index, so the output is
// independent of goroutine scheduling and the rescaler's deterministic
// tie-break ordering is preserved. A probability of -1 marks a per-deal
// scoring failure.
func (r *Runner) scoreAll(ctx context.Context, engineer *features.Engineer, m *model.Model, valid []deal.Deal, asOf time.Time) ([]float64, []string, error) {
	workers := r.cfg.Scoring.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(valid) {
		workers = len(valid)
	}

	probs := make([]float64, len(valid))
	errs := make([]error, len(valid))

	var wg sync.WaitGroup
	indices := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				v := engineer.Vector(valid[i], asOf)
				p, err := m.Probability(v)
				if err != nil {
					probs[i] = -1
					errs[i] = err
					continue
				}
				probs[i] = p
			}
		}()
	}

feed:
	for i := range valid {
		select {
		case <-ctx.Done():
			break feed
		case indices <- i:
		}
	}
	close(indices)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var failures []string
	for i, err := range errs {
		if err != nil {
			log.Error().Err(err).Str("deal_id", valid[i].ID).Msg("deal scoring failed")
			failures = append(failures, err.Error())
		}
	}
	return probs, failures, nil
}

func (r *Runner) assemble(scores []rescale.Score, byID map[string]deal.Deal, engineer *features.Engineer, m *model.Model, buckets rescale.Buckets, asOf time.Time) ([]ScoredDeal, error) {
	out := make([]ScoredDeal, 0, len(scores))
	for _, s := range scores {
		// Output contract: never emit an out-of-range score.
		if s.RawProbability < 0 || s.RawProbability > 1 {
			return nil, fmt.Errorf("deal %s: raw probability %v out of [0,1]", s.DealID, s.RawProbability)
		}
		if s.PercentileScore < 0 || s.PercentileScore > 100 {
			return nil, fmt.Errorf("deal %s: percentile score %v out of [0,100]", s.DealID, s.PercentileScore)
		}

		d := byID[s.DealID]
		factors, err := attribution.TopFactors(m, engineer.Vector(d, asOf), r.cfg.Scoring.TopKFactors)
		if err != nil {
			return nil, fmt.Errorf("attribute factors for %s: %w", s.DealID, err)
		}
		out = append(out, ScoredDeal{
			Deal:            d,
			RawProbability:  s.RawProbability,
			PercentileScore: s.PercentileScore,
			RiskCategory:    buckets.Categorize(s.PercentileScore),
			TopFactors:      factors,
		})
	}

	// Highest risk first, deal id as tie-break.
	sort.Slice(out, func(i, j int) bool {
		if out[i].PercentileScore != out[j].PercentileScore {
			return out[i].PercentileScore > out[j].PercentileScore
		}
		return out[i].Deal.ID < out[j].Deal.ID
	})
	return out, nil
}

func coefficients(m *model.Model) []Coefficient {
	out := make([]Coefficient, len(m.FeatureOrder))
	for i, name := range m.FeatureOrder {
		out[i] = Coefficient{Name: name, Value: m.Coefficients[i]}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Value, out[j].Value
		if ai < 0 {
			ai = -ai
		}
		if aj < 0 {
			aj = -aj
		}
		if ai != aj {
			return ai > aj
		}
		return out[i].Name < out[j].Name
	})
	return out
}
