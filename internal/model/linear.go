package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/mbd888/fraudscope/internal/traces"
)

// Linear is a logistic regression: sigmoid(intercept + w·x).
type Linear struct {
	intercept float64
	weights   []float64 // aligned with the bundle feature names
}

type linearFile struct {
	Intercept float64            `json:"intercept"`
	Weights   map[string]float64 `json:"weights"`
}

// NewLinear aligns named weights to featureNames. Features without a weight
// contribute nothing; weights for unknown features are an error.
func NewLinear(intercept float64, weights map[string]float64, featureNames []string) (*Linear, error) {
	pos := make(map[string]int, len(featureNames))
	for i, n := range featureNames {
		pos[n] = i
	}
	w := make([]float64, len(featureNames))
	for name, v := range weights {
		i, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("weight for unknown feature %q", name)
		}
		w[i] = v
	}
	return &Linear{intercept: intercept, weights: w}, nil
}

// LoadLinear reads {"intercept": b, "weights": {"feature": w}}.
func LoadLinear(path string, featureNames []string) (*Linear, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the bundle manifest
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	var f linearFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", path, err)
	}
	return NewLinear(f.Intercept, f.Weights, featureNames)
}

func (l *Linear) PredictProba(ctx context.Context, x []float32) (float64, error) {
	_, span := traces.StartSpan(ctx, "model.PredictProba", traces.FeatureCount(len(x)))
	defer span.End()

	if len(x) != len(l.weights) {
		err := fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(x), len(l.weights))
		traces.Fail(span, err)
		return 0, err
	}
	z := l.intercept
	for i, v := range x {
		z += l.weights[i] * float64(v)
	}
	return sigmoid(z), nil
}

func (l *Linear) Close() error { return nil }

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
