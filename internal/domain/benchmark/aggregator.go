// Package benchmark computes point-in-time historical segment statistics from
// closed deals. A benchmark set is an immutable snapshot: it is recomputed
// from scratch for every scoring run and never patched incrementally, so the
// same deal-store snapshot always reproduces the same benchmarks.
package benchmark

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salescope/dealrisk/internal/domain/deal"
)

// Dimension identifies a segment grouping for benchmark statistics.
type Dimension string

const (
	DimRep         Dimension = "rep"
	DimIndustry    Dimension = "industry"
	DimProductType Dimension = "product_type"
	DimLeadSource  Dimension = "lead_source"
)

// Dimensions lists all benchmark dimensions in a fixed order.
var Dimensions = []Dimension{DimRep, DimIndustry, DimProductType, DimLeadSource}

// Benchmark is one segment statistic. LowConfidence marks groups below the
// minimum sample threshold whose statistics fell back to the global average;
// downstream factor attribution uses the flag to mark unreliable inputs.
type Benchmark struct {
	Dimension     Dimension `json:"dimension"`
	Value         string    `json:"value"`
	WinRate       float64   `json:"win_rate"`
	AvgCycleDays  float64   `json:"avg_cycle_days"`
	SampleCount   int       `json:"sample_count"`
	LowConfidence bool      `json:"low_confidence"`
}

type benchKey struct {
	dim   Dimension
	value string
}

type cellKey struct {
	industry    string
	productType string
}

// Set is an immutable benchmark snapshot as of a fixed timestamp. Every
// statistic is derived exclusively from deals closed strictly before AsOf,
// which rules out label leakage and lookahead bias by construction.
type Set struct {
	AsOf               time.Time
	GlobalWinRate      float64
	GlobalAvgCycleDays float64
	GlobalMedianAmount float64
	ClosedCount        int

	byKey       map[benchKey]Benchmark
	cellMedians map[cellKey]cellMedian
	minSamples  int
	fingerprint string
}

type cellMedian struct {
	median float64
	count  int
}

// Aggregate builds a benchmark set from the supplied deals. Open deals and
// deals closed at or after asOf are ignored entirely.
func Aggregate(deals []deal.Deal, asOf time.Time, minSamples int) (*Set, error) {
	if minSamples < 1 {
		return nil, fmt.Errorf("min sample threshold must be >= 1, got %d", minSamples)
	}

	closed := make([]deal.Deal, 0, len(deals))
	for _, d := range deals {
		if d.IsClosed() && d.ClosedDate != nil && d.ClosedDate.Before(asOf) {
			closed = append(closed, d)
		}
	}

	s := &Set{
		AsOf:        asOf,
		ClosedCount: len(closed),
		byKey:       make(map[benchKey]Benchmark),
		cellMedians: make(map[cellKey]cellMedian),
		minSamples:  minSamples,
	}

	if len(closed) == 0 {
		// Degenerate snapshot: every lookup falls back to neutral values.
		s.GlobalWinRate = 0.5
		s.fingerprint = fingerprint(asOf, nil)
		return s, nil
	}

	var wins int
	var cycleSum float64
	amounts := make([]float64, 0, len(closed))
	for _, d := range closed {
		if d.Outcome == deal.OutcomeWon {
			wins++
		}
		cycleSum += d.ClosedDate.Sub(d.CreatedDate).Hours() / 24.0
		amounts = append(amounts, d.Amount)
	}
	s.GlobalWinRate = float64(wins) / float64(len(closed))
	s.GlobalAvgCycleDays = cycleSum / float64(len(closed))
	s.GlobalMedianAmount = median(amounts)

	for _, dim := range Dimensions {
		aggregateDimension(s, closed, dim)
	}
	aggregateCellMedians(s, closed)

	s.fingerprint = fingerprint(asOf, closed)

	log.Debug().
		Time("as_of", asOf).
		Int("closed_deals", len(closed)).
		Int("benchmarks", len(s.byKey)).
		Float64("global_win_rate", s.GlobalWinRate).
		Msg("benchmark set aggregated")

	return s, nil
}

func dimensionValue(d deal.Deal, dim Dimension) string {
	switch dim {
	case DimRep:
		return d.RepID
	case DimIndustry:
		return d.Industry
	case DimProductType:
		return d.ProductType
	case DimLeadSource:
		return d.LeadSource
	}
	return ""
}

func aggregateDimension(s *Set, closed []deal.Deal, dim Dimension) {
	type acc struct {
		wins, total int
		cycleSum    float64
	}
	groups := make(map[string]*acc)
	for _, d := range closed {
		v := dimensionValue(d, dim)
		g := groups[v]
		if g == nil {
			g = &acc{}
			groups[v] = g
		}
		g.total++
		if d.Outcome == deal.OutcomeWon {
			g.wins++
		}
		g.cycleSum += d.ClosedDate.Sub(d.CreatedDate).Hours() / 24.0
	}

	for v, g := range groups {
		b := Benchmark{
			Dimension:   dim,
			Value:       v,
			SampleCount: g.total,
		}
		if g.total < s.minSamples {
			b.LowConfidence = true
			b.WinRate = s.GlobalWinRate
			b.AvgCycleDays = s.GlobalAvgCycleDays
		} else {
			b.WinRate = float64(g.wins) / float64(g.total)
			b.AvgCycleDays = g.cycleSum / float64(g.total)
		}
		s.byKey[benchKey{dim, v}] = b
	}
}

func aggregateCellMedians(s *Set, closed []deal.Deal) {
	groups := make(map[cellKey][]float64)
	for _, d := range closed {
		k := cellKey{d.Industry, d.ProductType}
		groups[k] = append(groups[k], d.Amount)
	}
	for k, vals := range groups {
		s.cellMedians[k] = cellMedian{median: median(vals), count: len(vals)}
	}
}

// Lookup returns the benchmark for a dimension value. Values never seen in
// the closed history resolve to the global averages with SampleCount 0 and
// LowConfidence set, so a benchmark feature is always defined.
func (s *Set) Lookup(dim Dimension, value string) Benchmark {
	if b, ok := s.byKey[benchKey{dim, value}]; ok {
		return b
	}
	return Benchmark{
		Dimension:     dim,
		Value:         value,
		WinRate:       s.GlobalWinRate,
		AvgCycleDays:  s.GlobalAvgCycleDays,
		SampleCount:   0,
		LowConfidence: true,
	}
}

// MedianAmount returns the median closed-deal amount for an
// industry+product_type cell. Cells below the minimum sample threshold fall
// back to the overall median; the second return reports whether the fallback
// was taken.
func (s *Set) MedianAmount(industry, productType string) (float64, bool) {
	if c, ok := s.cellMedians[cellKey{industry, productType}]; ok && c.count >= s.minSamples {
		return c.median, false
	}
	return s.GlobalMedianAmount, true
}

// LowConfidenceCount reports how many benchmarks in the set fell back to
// global statistics.
func (s *Set) LowConfidenceCount() int {
	n := 0
	for _, b := range s.byKey {
		if b.LowConfidence {
			n++
		}
	}
	return n
}

// All returns every benchmark in the set, ordered by dimension then value so
// output is stable across runs.
func (s *Set) All() []Benchmark {
	out := make([]Benchmark, 0, len(s.byKey))
	for _, b := range s.byKey {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Fingerprint identifies the closed-deal snapshot this set was derived from.
// Used as the cache key for snapshot reuse.
func (s *Set) Fingerprint() string {
	return s.fingerprint
}

// FingerprintFor computes the snapshot fingerprint for a deal batch without
// running the full aggregation, so callers can probe the snapshot cache
// first.
func FingerprintFor(deals []deal.Deal, asOf time.Time) string {
	closed := make([]deal.Deal, 0, len(deals))
	for _, d := range deals {
		if d.IsClosed() && d.ClosedDate != nil && d.ClosedDate.Before(asOf) {
			closed = append(closed, d)
		}
	}
	return fingerprint(asOf, closed)
}

func fingerprint(asOf time.Time, closed []deal.Deal) string {
	if len(closed) == 0 {
		return fmt.Sprintf("%s:0", asOf.UTC().Format(time.RFC3339))
	}
	minT, maxT := *closed[0].ClosedDate, *closed[0].ClosedDate
	for _, d := range closed[1:] {
		if d.ClosedDate.Before(minT) {
			minT = *d.ClosedDate
		}
		if d.ClosedDate.After(maxT) {
			maxT = *d.ClosedDate
		}
	}
	return fmt.Sprintf("%s:%d:%s:%s",
		asOf.UTC().Format(time.RFC3339), len(closed),
		minT.UTC().Format(time.RFC3339), maxT.UTC().Format(time.RFC3339))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
