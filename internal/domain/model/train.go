package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salescope/dealrisk/internal/domain/features"
)

// ErrNoTrainableDeals is returned when training receives no labeled samples,
// or samples of only one class. Fatal for the run: the alternative would be
// a model that emits meaningless scores.
var ErrNoTrainableDeals = errors.New("training requires labeled deals of both outcomes")

// TrainConfig controls the gradient-descent fit. Zero values take defaults.
type TrainConfig struct {
	LearningRate float64 // default 0.1
	Iterations   int     // default 500
	L2Penalty    float64 // default 0.01, not applied to the intercept
	HoldoutEvery int     // every Nth sample (by sorted deal id) held out; default 5 => 20%
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.Iterations <= 0 {
		c.Iterations = 500
	}
	if c.L2Penalty < 0 {
		c.L2Penalty = 0
	} else if c.L2Penalty == 0 {
		c.L2Penalty = 0.01
	}
	if c.HoldoutEvery <= 1 {
		c.HoldoutEvery = 5
	}
	return c
}

// Sample is one closed deal prepared for training. Lost is the positive
// class: the model predicts risk of loss.
type Sample struct {
	DealID     string
	Features   features.Vector
	Lost       bool
	ClosedDate time.Time
}

// Train fits a logistic regression with balanced class weights on the given
// samples. The fit is fully deterministic: samples are ordered by deal id,
// features by the canonical engineering order, and the optimizer is
// full-batch gradient descent with no random initialization. trainedAt
// becomes the model version timestamp.
func Train(samples []Sample, cfg TrainConfig, trainedAt time.Time) (*Model, error) {
	cfg = cfg.withDefaults()

	ordered := append([]Sample(nil), samples...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].DealID < ordered[j].DealID })

	var train, holdout []Sample
	for i, s := range ordered {
		if (i+1)%cfg.HoldoutEvery == 0 {
			holdout = append(holdout, s)
		} else {
			train = append(train, s)
		}
	}

	if err := checkClasses(train); err != nil {
		return nil, err
	}

	featureOrder := append([]string(nil), features.Names...)
	x, err := designMatrix(train, featureOrder)
	if err != nil {
		return nil, err
	}

	means, scales := fitScaler(x)
	standardize(x, means, scales)

	y := make([]float64, len(train))
	var lost int
	for i, s := range train {
		if s.Lost {
			y[i] = 1
			lost++
		}
	}

	// Balanced class weights: n / (2 * class count), mirroring the usual
	// treatment of loss-rate imbalance in the training history.
	n := float64(len(train))
	wLost := n / (2 * float64(lost))
	wWon := n / (2 * float64(len(train)-lost))

	coefs, intercept := fitGradientDescent(x, y, wLost, wWon, cfg)

	m := &Model{
		FeatureOrder: featureOrder,
		Coefficients: coefs,
		Intercept:    intercept,
		Means:        means,
		Scales:       scales,
		TrainedAt:    trainedAt,
		Fingerprint:  fingerprintOf(ordered),
	}

	m.HoldoutAUC = holdoutAUC(m, holdout, ordered)

	log.Info().
		Int("train_samples", len(train)).
		Int("holdout_samples", len(holdout)).
		Int("lost", lost).
		Float64("holdout_auc", m.HoldoutAUC).
		Time("trained_at", trainedAt).
		Msg("risk model trained")

	return m, nil
}

func checkClasses(train []Sample) error {
	var lost, won int
	for _, s := range train {
		if s.Lost {
			lost++
		} else {
			won++
		}
	}
	if lost == 0 || won == 0 {
		return fmt.Errorf("%w: %d lost, %d won in training split", ErrNoTrainableDeals, lost, won)
	}
	return nil
}

func designMatrix(samples []Sample, featureOrder []string) ([][]float64, error) {
	x := make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, len(featureOrder))
		for j, name := range featureOrder {
			v, ok := s.Features.Get(name)
			if !ok {
				return nil, &InputMismatchError{DealID: s.DealID, Feature: name}
			}
			row[j] = v
		}
		x[i] = row
	}
	return x, nil
}

func fitScaler(x [][]float64) (means, scales []float64) {
	cols := len(x[0])
	means = make([]float64, cols)
	scales = make([]float64, cols)
	n := float64(len(x))
	for j := 0; j < cols; j++ {
		var sum float64
		for i := range x {
			sum += x[i][j]
		}
		means[j] = sum / n
		var sq float64
		for i := range x {
			d := x[i][j] - means[j]
			sq += d * d
		}
		scales[j] = math.Sqrt(sq / n)
		if scales[j] == 0 {
			scales[j] = 1 // constant feature: leave centered, coefficient will stay near zero
		}
	}
	return means, scales
}

func standardize(x [][]float64, means, scales []float64) {
	for i := range x {
		for j := range x[i] {
			x[i][j] = (x[i][j] - means[j]) / scales[j]
		}
	}
}

func fitGradientDescent(x [][]float64, y []float64, wLost, wWon float64, cfg TrainConfig) ([]float64, float64) {
	cols := len(x[0])
	coefs := make([]float64, cols)
	intercept := 0.0
	n := float64(len(x))

	for iter := 0; iter < cfg.Iterations; iter++ {
		grad := make([]float64, cols)
		gradIntercept := 0.0

		for i := range x {
			z := intercept
			for j := 0; j < cols; j++ {
				z += coefs[j] * x[i][j]
			}
			w := wWon
			if y[i] == 1 {
				w = wLost
			}
			err := w * (sigmoid(z) - y[i])
			gradIntercept += err
			for j := 0; j < cols; j++ {
				grad[j] += err * x[i][j]
			}
		}

		for j := 0; j < cols; j++ {
			coefs[j] -= cfg.LearningRate * (grad[j]/n + cfg.L2Penalty*coefs[j])
		}
		intercept -= cfg.LearningRate * gradIntercept / n
	}

	return coefs, intercept
}

// holdoutAUC scores the held-out split. If the holdout is single-class the
// metric is undefined there, so it falls back to the full labeled set.
func holdoutAUC(m *Model, holdout, all []Sample) float64 {
	if auc, ok := sampleAUC(m, holdout); ok {
		return auc
	}
	auc, _ := sampleAUC(m, all)
	return auc
}

func sampleAUC(m *Model, samples []Sample) (float64, bool) {
	scores := make([]float64, 0, len(samples))
	labels := make([]bool, 0, len(samples))
	for _, s := range samples {
		p, err := m.Probability(s.Features)
		if err != nil {
			continue
		}
		scores = append(scores, p)
		labels = append(labels, s.Lost)
	}
	return AUC(scores, labels)
}

func fingerprintOf(samples []Sample) Fingerprint {
	fp := Fingerprint{Rows: len(samples)}
	for i, s := range samples {
		if i == 0 || s.ClosedDate.Before(fp.From) {
			fp.From = s.ClosedDate
		}
		if i == 0 || s.ClosedDate.After(fp.To) {
			fp.To = s.ClosedDate
		}
	}
	return fp
}
