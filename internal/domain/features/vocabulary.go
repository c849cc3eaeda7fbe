package features

import (
	"encoding/json"
	"sort"

	"github.com/salescope/dealrisk/internal/domain/benchmark"
	"github.com/salescope/dealrisk/internal/domain/deal"
)

// Unknown is the reserved bucket for categorical values absent from the
// training vocabulary. Benchmark lookups on it resolve to global averages,
// so scoring an unseen category degrades to neutral instead of failing.
const Unknown = "unknown"

// Vocabulary is the fixed set of categorical values seen at training time.
// It is fitted once per retraining cycle and versioned alongside the model;
// scoring-time values outside it map to the Unknown bucket.
type Vocabulary struct {
	byDim map[benchmark.Dimension]map[string]bool
}

// FitVocabulary records every categorical value present in the training
// deals.
func FitVocabulary(deals []deal.Deal) *Vocabulary {
	v := &Vocabulary{byDim: make(map[benchmark.Dimension]map[string]bool, len(benchmark.Dimensions))}
	for _, dim := range benchmark.Dimensions {
		v.byDim[dim] = make(map[string]bool)
	}
	for _, d := range deals {
		v.byDim[benchmark.DimRep][d.RepID] = true
		v.byDim[benchmark.DimIndustry][d.Industry] = true
		v.byDim[benchmark.DimProductType][d.ProductType] = true
		v.byDim[benchmark.DimLeadSource][d.LeadSource] = true
	}
	return v
}

// Resolve maps a raw categorical value onto the vocabulary, substituting the
// Unknown bucket for unseen values.
func (v *Vocabulary) Resolve(dim benchmark.Dimension, value string) string {
	if v == nil {
		return value
	}
	if vals, ok := v.byDim[dim]; ok && vals[value] {
		return value
	}
	return Unknown
}

// Size returns the number of known values for a dimension.
func (v *Vocabulary) Size(dim benchmark.Dimension) int {
	return len(v.byDim[dim])
}

// MarshalJSON serializes the vocabulary with sorted value lists so the wire
// form is stable. The vocabulary is versioned alongside the model artifact.
func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	out := make(map[benchmark.Dimension][]string, len(v.byDim))
	for dim, vals := range v.byDim {
		list := make([]string, 0, len(vals))
		for val := range vals {
			list = append(list, val)
		}
		sort.Strings(list)
		out[dim] = list
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a vocabulary serialized by MarshalJSON.
func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var in map[benchmark.Dimension][]string
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v.byDim = make(map[benchmark.Dimension]map[string]bool, len(in))
	for dim, list := range in {
		v.byDim[dim] = make(map[string]bool, len(list))
		for _, val := range list {
			v.byDim[dim][val] = true
		}
	}
	return nil
}
