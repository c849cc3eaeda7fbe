package benchmark

import (
	"encoding/json"
	"sort"
	"time"
)

// snapshot is the wire form of a Set, used by the redis snapshot cache.
type snapshot struct {
	AsOf               time.Time    `json:"as_of"`
	GlobalWinRate      float64      `json:"global_win_rate"`
	GlobalAvgCycleDays float64      `json:"global_avg_cycle_days"`
	GlobalMedianAmount float64      `json:"global_median_amount"`
	ClosedCount        int          `json:"closed_count"`
	MinSamples         int          `json:"min_samples"`
	Fingerprint        string       `json:"fingerprint"`
	Benchmarks         []Benchmark  `json:"benchmarks"`
	CellMedians        []cellRecord `json:"cell_medians"`
}

type cellRecord struct {
	Industry    string  `json:"industry"`
	ProductType string  `json:"product_type"`
	Median      float64 `json:"median"`
	Count       int     `json:"count"`
}

// MarshalJSON serializes the set in a stable, cacheable form.
func (s *Set) MarshalJSON() ([]byte, error) {
	snap := snapshot{
		AsOf:               s.AsOf,
		GlobalWinRate:      s.GlobalWinRate,
		GlobalAvgCycleDays: s.GlobalAvgCycleDays,
		GlobalMedianAmount: s.GlobalMedianAmount,
		ClosedCount:        s.ClosedCount,
		MinSamples:         s.minSamples,
		Fingerprint:        s.fingerprint,
		Benchmarks:         s.All(),
	}
	for k, c := range s.cellMedians {
		snap.CellMedians = append(snap.CellMedians, cellRecord{
			Industry:    k.industry,
			ProductType: k.productType,
			Median:      c.median,
			Count:       c.count,
		})
	}
	sort.Slice(snap.CellMedians, func(i, j int) bool {
		a, b := snap.CellMedians[i], snap.CellMedians[j]
		if a.Industry != b.Industry {
			return a.Industry < b.Industry
		}
		return a.ProductType < b.ProductType
	})
	return json.Marshal(snap)
}

// UnmarshalJSON restores a set serialized by MarshalJSON.
func (s *Set) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.AsOf = snap.AsOf
	s.GlobalWinRate = snap.GlobalWinRate
	s.GlobalAvgCycleDays = snap.GlobalAvgCycleDays
	s.GlobalMedianAmount = snap.GlobalMedianAmount
	s.ClosedCount = snap.ClosedCount
	s.minSamples = snap.MinSamples
	s.fingerprint = snap.Fingerprint
	s.byKey = make(map[benchKey]Benchmark, len(snap.Benchmarks))
	for _, b := range snap.Benchmarks {
		s.byKey[benchKey{b.Dimension, b.Value}] = b
	}
	s.cellMedians = make(map[cellKey]cellMedian, len(snap.CellMedians))
	for _, c := range snap.CellMedians {
		s.cellMedians[cellKey{c.Industry, c.ProductType}] = cellMedian{median: c.Median, count: c.Count}
	}
	return nil
}
