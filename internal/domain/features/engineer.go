// Package features derives the engineered feature vector for a deal from its
// raw attributes plus the benchmark snapshot valid for the scoring run.
// Every feature is always defined: unseen categorical values map to a
// reserved unknown bucket with population-average benchmark values, and
// undefined ratios resolve to neutral constants, never to missing values.
package features

import (
	"math"
	"time"

	"github.com/salescope/dealrisk/internal/domain/benchmark"
	"github.com/salescope/dealrisk/internal/domain/deal"
)

// Feature names. Order here is the canonical engineering order; a trained
// model records its own copy and inference follows the model's order.
const (
	DealAmountLog     = "deal_amount_log"
	DealSizeVsSegment = "deal_size_vs_segment"
	RepWinRate        = "rep_win_rate"
	ProductWinRate    = "product_win_rate"
	IndustryWinRate   = "industry_win_rate"
	LeadSourceWinRate = "lead_source_win_rate"
	DealStageEncoded  = "deal_stage_encoded"
	DealVelocityScore = "deal_velocity_score"
)

// Names lists every engineered feature in canonical order.
var Names = []string{
	DealAmountLog,
	DealSizeVsSegment,
	RepWinRate,
	ProductWinRate,
	IndustryWinRate,
	LeadSourceWinRate,
	DealStageEncoded,
	DealVelocityScore,
}

// Vector is one deal's engineered features.
type Vector struct {
	DealID string
	Values map[string]float64
}

// Get returns a feature value and whether it is present.
func (v Vector) Get(name string) (float64, bool) {
	val, ok := v.Values[name]
	return val, ok
}

// Engineer turns deals into feature vectors against a fixed benchmark
// snapshot and categorical vocabulary. It is a pure per-deal function of
// read-only shared state, safe for concurrent use.
type Engineer struct {
	benchmarks *benchmark.Set
	vocab      *Vocabulary
}

// NewEngineer builds an engineer bound to a benchmark snapshot and the
// vocabulary fitted at training time.
func NewEngineer(benchmarks *benchmark.Set, vocab *Vocabulary) *Engineer {
	return &Engineer{benchmarks: benchmarks, vocab: vocab}
}

// Vector derives the feature vector for one deal. asOf supplies the live
// endpoint for open-deal ages; closed deals use their closed date.
func (e *Engineer) Vector(d deal.Deal, asOf time.Time) Vector {
	values := make(map[string]float64, len(Names))

	values[DealAmountLog] = math.Log1p(d.Amount)

	cellMedian, _ := e.benchmarks.MedianAmount(e.vocab.Resolve(benchmark.DimIndustry, d.Industry), e.vocab.Resolve(benchmark.DimProductType, d.ProductType))
	if cellMedian > 0 {
		values[DealSizeVsSegment] = d.Amount / cellMedian
	} else {
		values[DealSizeVsSegment] = 1.0 // neutral when no closed history exists
	}

	values[RepWinRate] = e.winRate(benchmark.DimRep, d.RepID)
	values[ProductWinRate] = e.winRate(benchmark.DimProductType, d.ProductType)
	values[IndustryWinRate] = e.winRate(benchmark.DimIndustry, d.Industry)
	values[LeadSourceWinRate] = e.winRate(benchmark.DimLeadSource, d.LeadSource)

	rank, _ := deal.StageRank(d.Stage)
	values[DealStageEncoded] = float64(rank)

	values[DealVelocityScore] = e.velocityScore(d, asOf)

	return Vector{DealID: d.ID, Values: values}
}

func (e *Engineer) winRate(dim benchmark.Dimension, raw string) float64 {
	return e.benchmarks.Lookup(dim, e.vocab.Resolve(dim, raw)).WinRate
}

// velocityScore measures deal pace against the industry's expected cycle:
//
//	(expected_days - actual_days) / expected_days
//
// Positive means faster than segment expectation, negative means slower. The
// score is neutral (0) when the industry benchmark is low-confidence or the
// expected cycle is zero. Open deals age against asOf, so the score decays
// monotonically as an open deal sits in the pipeline.
func (e *Engineer) velocityScore(d deal.Deal, asOf time.Time) float64 {
	b := e.benchmarks.Lookup(benchmark.DimIndustry, e.vocab.Resolve(benchmark.DimIndustry, d.Industry))
	if b.LowConfidence || b.AvgCycleDays <= 0 {
		return 0
	}
	actual := d.CycleDays(asOf)
	return (b.AvgCycleDays - actual) / b.AvgCycleDays
}
