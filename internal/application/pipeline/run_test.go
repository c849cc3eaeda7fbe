package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salescope/dealrisk/internal/config"
	"github.com/salescope/dealrisk/internal/domain/benchmark"
	"github.com/salescope/dealrisk/internal/domain/deal"
	"github.com/salescope/dealrisk/internal/domain/model"
	"github.com/salescope/dealrisk/internal/domain/rescale"
)

var testAsOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// testBatch builds a mixed batch: 40 closed deals with a size-correlated
// outcome signal and 8 open deals awaiting scores.
func testBatch() []deal.Deal {
	industries := []string{"Tech", "Retail"}
	sources := []string{"Web", "Referral"}
	var deals []deal.Deal

	for i := 0; i < 40; i++ {
		created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		closed := created.AddDate(0, 0, 30+i%20)
		outcome := deal.OutcomeWon
		amount := 40_000.0
		if i%2 == 0 {
			outcome = deal.OutcomeLost
			amount = 160_000.0
		}
		deals = append(deals, deal.Deal{
			ID:          fmt.Sprintf("C-%03d", i),
			Amount:      amount + float64(i)*100,
			Industry:    industries[i%2],
			Region:      "NA",
			ProductType: "Basic",
			LeadSource:  sources[i%2],
			RepID:       fmt.Sprintf("R%d", i%4),
			Stage:       "Closed",
			CreatedDate: created,
			ClosedDate:  &closed,
			Outcome:     outcome,
		})
	}

	stages := []string{"Qualified", "Demo", "Proposal", "Negotiation"}
	for i := 0; i < 8; i++ {
		deals = append(deals, deal.Deal{
			ID:          fmt.Sprintf("O-%03d", i),
			Amount:      50_000 + float64(i)*25_000,
			Industry:    industries[i%2],
			Region:      "NA",
			ProductType: "Basic",
			LeadSource:  sources[i%2],
			RepID:       fmt.Sprintf("R%d", i%4),
			Stage:       stages[i%4],
			CreatedDate: testAsOf.AddDate(0, 0, -10-i*5),
			Outcome:     deal.OutcomeOpen,
		})
	}
	return deals
}

func TestRunEndToEnd(t *testing.T) {
	runner := NewRunner(config.Default())
	res, err := runner.Run(context.Background(), Input{Deals: testBatch(), AsOf: testAsOf})
	require.NoError(t, err)

	assert.Equal(t, 48, res.Summary.TotalInput)
	assert.Equal(t, 48, res.Summary.Scored)
	assert.Zero(t, res.Summary.Rejected)
	assert.Equal(t, model.StateTrained, res.Summary.ModelState)
	assert.False(t, res.Summary.ModelStale)
	assert.Greater(t, res.Summary.HoldoutAUC, 0.5)
	require.NotNil(t, res.Model)
	require.NotNil(t, res.Vocabulary)
	require.NotNil(t, res.Benchmarks)

	for _, s := range res.Scored {
		assert.GreaterOrEqual(t, s.RawProbability, 0.0)
		assert.LessOrEqual(t, s.RawProbability, 1.0)
		assert.GreaterOrEqual(t, s.PercentileScore, 0.0)
		assert.LessOrEqual(t, s.PercentileScore, 100.0)
		assert.Contains(t, []rescale.Category{rescale.CategoryLow, rescale.CategoryMedium, rescale.CategoryHigh}, s.RiskCategory)
		assert.NotEmpty(t, s.TopFactors)
		assert.LessOrEqual(t, len(s.TopFactors), config.Default().Scoring.TopKFactors)
	}

	// Highest risk first.
	for i := 1; i < len(res.Scored); i++ {
		assert.GreaterOrEqual(t, res.Scored[i-1].PercentileScore, res.Scored[i].PercentileScore)
	}
}

func TestRunDeterministic(t *testing.T) {
	runner := NewRunner(config.Default())
	in := Input{Deals: testBatch(), AsOf: testAsOf}

	r1, err := runner.Run(context.Background(), in)
	require.NoError(t, err)
	r2, err := runner.Run(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, len(r1.Scored), len(r2.Scored))
	for i := range r1.Scored {
		assert.Equal(t, r1.Scored[i].Deal.ID, r2.Scored[i].Deal.ID)
		assert.Equal(t, r1.Scored[i].RawProbability, r2.Scored[i].RawProbability)
		assert.Equal(t, r1.Scored[i].PercentileScore, r2.Scored[i].PercentileScore)
		assert.Equal(t, r1.Scored[i].TopFactors, r2.Scored[i].TopFactors)
	}
	assert.Equal(t, r1.Model.Coefficients, r2.Model.Coefficients)
	assert.Equal(t, r1.Model.Intercept, r2.Model.Intercept)
	assert.Equal(t, r1.Summary.Coefficients, r2.Summary.Coefficients)
}

func TestRunIsolatesSchemaRejects(t *testing.T) {
	deals := testBatch()
	deals = append(deals, deal.Deal{
		ID: "BAD-1", Amount: -5, Industry: "Tech", Region: "NA",
		ProductType: "Basic", LeadSource: "Web", RepID: "R1",
		Stage: "Demo", CreatedDate: testAsOf.AddDate(0, 0, -5),
		Outcome: deal.OutcomeOpen,
	})

	runner := NewRunner(config.Default())
	res, err := runner.Run(context.Background(), Input{Deals: deals, AsOf: testAsOf})
	require.NoError(t, err)

	assert.Equal(t, 49, res.Summary.TotalInput)
	assert.Equal(t, 48, res.Summary.Scored)
	assert.Equal(t, 1, res.Summary.Rejected)
	require.Len(t, res.Summary.Rejects, 1)
	assert.Equal(t, "BAD-1", res.Summary.Rejects[0].DealID)
	for _, s := range res.Scored {
		assert.NotEqual(t, "BAD-1", s.Deal.ID)
	}
}

func TestRunAllOpenBatchFails(t *testing.T) {
	var deals []deal.Deal
	for i := 0; i < 5; i++ {
		deals = append(deals, deal.Deal{
			ID: fmt.Sprintf("O-%d", i), Amount: 10_000, Industry: "Tech",
			Region: "NA", ProductType: "Basic", LeadSource: "Web",
			RepID: "R1", Stage: "Demo",
			CreatedDate: testAsOf.AddDate(0, 0, -10), Outcome: deal.OutcomeOpen,
		})
	}

	runner := NewRunner(config.Default())
	_, err := runner.Run(context.Background(), Input{Deals: deals, AsOf: testAsOf})
	assert.ErrorIs(t, err, model.ErrNoTrainableDeals)
}

func TestRunTrainingIgnoresOutcomesAfterAsOf(t *testing.T) {
	runner := NewRunner(config.Default())
	base := testBatch()
	r1, err := runner.Run(context.Background(), Input{Deals: base, AsOf: testAsOf})
	require.NoError(t, err)

	// A Lost deal whose close lands 30 days after the as-of date carries an
	// outcome that was not knowable at asOf.
	closed := testAsOf.AddDate(0, 0, 30)
	withFuture := append(append([]deal.Deal(nil), base...), deal.Deal{
		ID: "F-001", Amount: 150_000, Industry: "Tech", Region: "NA",
		ProductType: "Basic", LeadSource: "Web", RepID: "R1",
		Stage: "Closed", CreatedDate: testAsOf.AddDate(0, 0, -60),
		ClosedDate: &closed, Outcome: deal.OutcomeLost,
	})
	r2, err := runner.Run(context.Background(), Input{Deals: withFuture, AsOf: testAsOf})
	require.NoError(t, err)

	// The fit must not move, and the training window must end before asOf.
	assert.Equal(t, r1.Model.Coefficients, r2.Model.Coefficients)
	assert.Equal(t, r1.Model.Intercept, r2.Model.Intercept)
	assert.Equal(t, r1.Model.Fingerprint, r2.Model.Fingerprint)
	assert.False(t, r2.Model.Fingerprint.To.After(testAsOf))
	assert.Equal(t, r1.Benchmarks.Fingerprint(), r2.Benchmarks.Fingerprint())

	// The deal itself is still scored, as an open deal at asOf.
	assert.Equal(t, r1.Summary.Scored+1, r2.Summary.Scored)
}

func TestRunEmptyBatchFails(t *testing.T) {
	runner := NewRunner(config.Default())
	_, err := runner.Run(context.Background(), Input{AsOf: testAsOf})
	assert.Error(t, err)
}

func TestRunReusedModel(t *testing.T) {
	runner := NewRunner(config.Default())
	first, err := runner.Run(context.Background(), Input{Deals: testBatch(), AsOf: testAsOf})
	require.NoError(t, err)

	reuse, err := runner.Run(context.Background(), Input{
		Deals:      testBatch(),
		AsOf:       testAsOf,
		Model:      first.Model,
		Vocabulary: first.Vocabulary,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Model.TrainedAt, reuse.Summary.TrainedAt)
	assert.Equal(t, model.StateTrained, reuse.Summary.ModelState)

	// Same model, same batch: identical scores whether trained or reused.
	require.Equal(t, len(first.Scored), len(reuse.Scored))
	for i := range first.Scored {
		assert.Equal(t, first.Scored[i].RawProbability, reuse.Scored[i].RawProbability)
	}
}

func TestRunStaleModelFlagged(t *testing.T) {
	runner := NewRunner(config.Default())
	first, err := runner.Run(context.Background(), Input{Deals: testBatch(), AsOf: testAsOf})
	require.NoError(t, err)

	future := testAsOf.AddDate(0, 0, 45) // beyond the 30-day retrain interval
	res, err := runner.Run(context.Background(), Input{
		Deals:      testBatch(),
		AsOf:       future,
		Model:      first.Model,
		Vocabulary: first.Vocabulary,
	})
	require.NoError(t, err)
	assert.True(t, res.Summary.ModelStale)
	assert.Equal(t, model.StateStale, res.Summary.ModelState)
	assert.NotEmpty(t, res.Scored) // stale still scores
}

func TestRunReusedModelRequiresVocabulary(t *testing.T) {
	runner := NewRunner(config.Default())
	first, err := runner.Run(context.Background(), Input{Deals: testBatch(), AsOf: testAsOf})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), Input{
		Deals: testBatch(),
		AsOf:  testAsOf,
		Model: first.Model,
	})
	assert.ErrorContains(t, err, "vocabulary")
}

type memoryCache struct {
	sets map[string]*benchmark.Set
	gets int
	hits int
	puts int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{sets: make(map[string]*benchmark.Set)}
}

func (c *memoryCache) Get(_ context.Context, key string) (*benchmark.Set, bool) {
	c.gets++
	set, ok := c.sets[key]
	if ok {
		c.hits++
	}
	return set, ok
}

func (c *memoryCache) Put(_ context.Context, key string, set *benchmark.Set) error {
	c.puts++
	c.sets[key] = set
	return nil
}

func TestRunSnapshotCacheReuse(t *testing.T) {
	cache := newMemoryCache()
	runner := NewRunner(config.Default(), WithSnapshotCache(cache))
	in := Input{Deals: testBatch(), AsOf: testAsOf}

	r1, err := runner.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.puts)
	assert.Zero(t, cache.hits)

	r2, err := runner.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.puts) // no second write

	assert.Equal(t, r1.Benchmarks.Fingerprint(), r2.Benchmarks.Fingerprint())
}

type recordingObserver struct {
	summaries []Summary
}

func (o *recordingObserver) ObserveRun(s Summary) { o.summaries = append(o.summaries, s) }

func TestRunNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	runner := NewRunner(config.Default(), WithObserver(obs))

	res, err := runner.Run(context.Background(), Input{Deals: testBatch(), AsOf: testAsOf})
	require.NoError(t, err)
	require.Len(t, obs.summaries, 1)
	assert.Equal(t, res.Summary.RunID, obs.summaries[0].RunID)
	assert.Equal(t, res.Summary.Scored, obs.summaries[0].Scored)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(config.Default())
	_, err := runner.Run(ctx, Input{Deals: testBatch(), AsOf: testAsOf})
	assert.ErrorIs(t, err, context.Canceled)
}
