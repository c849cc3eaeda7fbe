// Package attribution ranks engineered features by their signed contribution
// to a deal's risk score. For a linear model the contribution of feature i is
// coefficient_i times the feature's standardized deviation from its training
// mean; no additional training is involved.
package attribution

import (
	"sort"

	"github.com/salescope/dealrisk/internal/domain/features"
	"github.com/salescope/dealrisk/internal/domain/model"
)

// Factor is one feature's signed contribution to a deal's score. Positive
// contributions push the deal toward loss, negative ones are protective.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// TopFactors returns the k features with the largest absolute contribution
// to the deal's raw score, descending. Features with a zero coefficient are
// excluded. Ordering is stable under feature reordering: ties in magnitude
// break by feature name.
func TopFactors(m *model.Model, v features.Vector, k int) ([]Factor, error) {
	all := make([]Factor, 0, len(m.FeatureOrder))
	for i, name := range m.FeatureOrder {
		if m.Coefficients[i] == 0 {
			continue
		}
		raw, ok := v.Get(name)
		if !ok {
			return nil, &model.InputMismatchError{DealID: v.DealID, Feature: name}
		}
		z := (raw - m.Means[i]) / m.Scales[i]
		all = append(all, Factor{Name: name, Contribution: m.Coefficients[i] * z})
	}

	sort.Slice(all, func(i, j int) bool {
		ai, aj := abs(all[i].Contribution), abs(all[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return all[i].Name < all[j].Name
	})

	if k > 0 && len(all) > k {
		all = all[:k]
	}
	return all, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
