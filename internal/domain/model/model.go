// Package model implements the binary loss-risk classifier: a logistic
// regression trained on closed deals' engineered features. A fitted model is
// immutable; it records the exact feature ordering and scaling parameters it
// was trained with, and inference reapplies them identically. The numeric
// routines are implemented directly here, like the rest of the codebase's
// statistics.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/salescope/dealrisk/internal/domain/features"
)

// State is the lifecycle of a risk model relative to the retraining policy.
type State string

const (
	StateUntrained State = "untrained"
	StateTrained   State = "trained"
	StateStale     State = "stale"
)

// Fingerprint identifies the training set a model was fitted on.
type Fingerprint struct {
	Rows int       `json:"rows"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Model is a fitted logistic regression over standardized features.
// Coefficients are in standardized space and ordered by FeatureOrder.
type Model struct {
	FeatureOrder []string    `json:"feature_order"`
	Coefficients []float64   `json:"coefficients"`
	Intercept    float64     `json:"intercept"`
	Means        []float64   `json:"means"`
	Scales       []float64   `json:"scales"`
	TrainedAt    time.Time   `json:"trained_at"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	HoldoutAUC   float64     `json:"holdout_auc"`
}

// InputMismatchError reports a feature vector missing a feature the model
// expects. Scoring must fail loudly here rather than silently impute.
type InputMismatchError struct {
	DealID  string
	Feature string
}

func (e *InputMismatchError) Error() string {
	return fmt.Sprintf("deal %s: feature vector missing %q expected by model", e.DealID, e.Feature)
}

// Probability returns the model's loss probability for a feature vector,
// applying the trained feature order and scaling. Identical vectors always
// yield identical probabilities.
func (m *Model) Probability(v features.Vector) (float64, error) {
	z := m.Intercept
	for i, name := range m.FeatureOrder {
		raw, ok := v.Get(name)
		if !ok {
			return 0, &InputMismatchError{DealID: v.DealID, Feature: name}
		}
		z += m.Coefficients[i] * (raw - m.Means[i]) / m.Scales[i]
	}
	return sigmoid(z), nil
}

// StateAt reports the model's lifecycle state relative to a benchmark as-of
// date and the retraining-interval policy. Scoring against a stale model
// still succeeds; callers surface the flag in run output.
func (m *Model) StateAt(asOf time.Time, retrainInterval time.Duration) State {
	if m == nil {
		return StateUntrained
	}
	if asOf.Sub(m.TrainedAt) > retrainInterval {
		return StateStale
	}
	return StateTrained
}

// CoefficientByName returns the fitted coefficient for a feature, or false
// if the model was not trained on it.
func (m *Model) CoefficientByName(name string) (float64, bool) {
	for i, n := range m.FeatureOrder {
		if n == name {
			return m.Coefficients[i], true
		}
	}
	return 0, false
}

func sigmoid(z float64) float64 {
	// Guard the exponent so extreme inputs saturate instead of overflowing.
	if z > 40 {
		return 1
	}
	if z < -40 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
