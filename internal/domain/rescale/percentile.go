// Package rescale maps raw model probabilities onto interpretable 0-100
// percentile scores within a single scoring batch.
//
// Rescaling is batch-relative: a weak-signal linear model clusters
// raw probabilities narrowly, so scores are rank positions within the batch
// rather than absolute calibrations. Rescoring the same deal in a batch with
// different composition can change its percentile score even though its raw
// probability is unchanged. That is intended behavior, not a bug.
package rescale

import "sort"

// Category buckets a percentile score for reporting.
type Category string

const (
	CategoryLow    Category = "Low"
	CategoryMedium Category = "Medium"
	CategoryHigh   Category = "High"
)

// Buckets holds the inclusive upper boundaries of the Low and Medium bands:
// Low = [0, LowMax], Medium = (LowMax, MediumMax], High = (MediumMax, 100].
type Buckets struct {
	LowMax    float64
	MediumMax float64
}

// DefaultBuckets matches the documented report bands.
var DefaultBuckets = Buckets{LowMax: 33, MediumMax: 66}

// Categorize buckets a percentile score. Boundary values land on the
// documented side exactly: 33 is Low, 66 is Medium, 67 is High.
func (b Buckets) Categorize(score float64) Category {
	switch {
	case score <= b.LowMax:
		return CategoryLow
	case score <= b.MediumMax:
		return CategoryMedium
	default:
		return CategoryHigh
	}
}

// Item is one deal entering percentile rescaling.
type Item struct {
	DealID         string
	RawProbability float64
}

// Score is an item's batch-relative percentile rank.
type Score struct {
	DealID          string
	RawProbability  float64
	PercentileScore float64
}

// Rescale assigns each item its percentile rank among the batch's raw
// probabilities: 100*(rank-1)/(N-1) under a stable ascending sort with deal
// id as the deterministic tie-break. Given distinct probabilities the scores
// form the exact set {100*k/(N-1) : k=0..N-1}. A single-item batch has no
// defined ranking and scores a neutral 50.
func Rescale(items []Item) []Score {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return []Score{{
			DealID:          items[0].DealID,
			RawProbability:  items[0].RawProbability,
			PercentileScore: 50,
		}}
	}

	ordered := append([]Item(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RawProbability != ordered[j].RawProbability {
			return ordered[i].RawProbability < ordered[j].RawProbability
		}
		return ordered[i].DealID < ordered[j].DealID
	})

	n := len(ordered)
	scores := make([]Score, n)
	for rank, it := range ordered {
		scores[rank] = Score{
			DealID:          it.DealID,
			RawProbability:  it.RawProbability,
			PercentileScore: 100 * float64(rank) / float64(n-1),
		}
	}
	return scores
}
