package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salescope/dealrisk/internal/domain/features"
	"github.com/salescope/dealrisk/internal/domain/model"
)

func fittedModel(order []string, coefs []float64) *model.Model {
	means := make([]float64, len(order))
	scales := make([]float64, len(order))
	for i := range scales {
		scales[i] = 1
	}
	return &model.Model{
		FeatureOrder: order,
		Coefficients: coefs,
		Means:        means,
		Scales:       scales,
	}
}

func TestTopFactorsOrdering(t *testing.T) {
	m := fittedModel(
		[]string{"rep_win_rate", "deal_amount_log", "deal_velocity_score"},
		[]float64{-0.5, 2.0, 1.0},
	)
	v := features.Vector{DealID: "D-1", Values: map[string]float64{
		"rep_win_rate":        1.0, // contribution -0.5
		"deal_amount_log":     1.0, // contribution +2.0
		"deal_velocity_score": 1.0, // contribution +1.0
	}}

	factors, err := TopFactors(m, v, 3)
	require.NoError(t, err)
	require.Len(t, factors, 3)

	assert.Equal(t, "deal_amount_log", factors[0].Name)
	assert.InDelta(t, 2.0, factors[0].Contribution, 1e-12)
	assert.Equal(t, "deal_velocity_score", factors[1].Name)
	assert.Equal(t, "rep_win_rate", factors[2].Name)
	assert.InDelta(t, -0.5, factors[2].Contribution, 1e-12)
}

func TestTopFactorsTruncates(t *testing.T) {
	m := fittedModel(
		[]string{"a", "b", "c", "d"},
		[]float64{4, 3, 2, 1},
	)
	v := features.Vector{DealID: "D-1", Values: map[string]float64{
		"a": 1, "b": 1, "c": 1, "d": 1,
	}}

	factors, err := TopFactors(m, v, 2)
	require.NoError(t, err)
	require.Len(t, factors, 2)
	assert.Equal(t, "a", factors[0].Name)
	assert.Equal(t, "b", factors[1].Name)
}

func TestTopFactorsExcludesZeroCoefficients(t *testing.T) {
	m := fittedModel([]string{"a", "b"}, []float64{0, 1})
	v := features.Vector{DealID: "D-1", Values: map[string]float64{
		"a": 99, "b": 1,
	}}

	factors, err := TopFactors(m, v, 5)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.Equal(t, "b", factors[0].Name)
}

func TestTopFactorsStableUnderReorder(t *testing.T) {
	v := features.Vector{DealID: "D-1", Values: map[string]float64{
		"a": 1, "b": 1, "c": 1,
	}}

	m1 := fittedModel([]string{"a", "b", "c"}, []float64{1, -1, 2})
	m2 := fittedModel([]string{"c", "a", "b"}, []float64{2, 1, -1})

	f1, err := TopFactors(m1, v, 3)
	require.NoError(t, err)
	f2, err := TopFactors(m2, v, 3)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)

	// Equal magnitudes break by name.
	assert.Equal(t, "c", f1[0].Name)
	assert.Equal(t, "a", f1[1].Name)
	assert.Equal(t, "b", f1[2].Name)
}

func TestTopFactorsStandardizes(t *testing.T) {
	m := fittedModel([]string{"a"}, []float64{2})
	m.Means[0] = 10
	m.Scales[0] = 4

	v := features.Vector{DealID: "D-1", Values: map[string]float64{"a": 18}}
	factors, err := TopFactors(m, v, 1)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.InDelta(t, 4.0, factors[0].Contribution, 1e-12) // 2 * (18-10)/4
}

func TestTopFactorsMismatch(t *testing.T) {
	m := fittedModel([]string{"a", "b"}, []float64{1, 1})
	v := features.Vector{DealID: "D-1", Values: map[string]float64{"a": 1}}

	_, err := TopFactors(m, v, 2)
	var mismatch *model.InputMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "b", mismatch.Feature)
}
