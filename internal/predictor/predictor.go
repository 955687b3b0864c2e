// Package predictor scores transactions: feature engineering, encoding,
// alignment, classification and thresholding.
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/mbd888/fraudscope/internal/encoder"
	"github.com/mbd888/fraudscope/internal/features"
	"github.com/mbd888/fraudscope/internal/metrics"
	"github.com/mbd888/fraudscope/internal/model"
	"github.com/mbd888/fraudscope/internal/traces"
	"github.com/mbd888/fraudscope/internal/transactions"
)

// retireDelay keeps a replaced bundle alive for requests that picked it up
// just before a reload.
const retireDelay = 30 * time.Second

// Result is the scoring outcome for one transaction.
type Result struct {
	TransactionID    string  `json:"transaction_id,omitempty"`
	FraudProbability float64 `json:"fraud_probability"`
	FraudFlag        int     `json:"fraud_flag"`
	Threshold        float64 `json:"threshold"`
	Decision         string  `json:"decision"`
}

// Predictor holds the active bundle. Bundles are swapped atomically.
type Predictor struct {
	bundle   atomic.Pointer[model.Bundle]
	override *float64
	logger   *slog.Logger
}

// New creates a predictor. A non-nil thresholdOverride replaces the bundle
// threshold, including for bundles loaded later.
func New(b *model.Bundle, thresholdOverride *float64, logger *slog.Logger) *Predictor {
	p := &Predictor{override: thresholdOverride, logger: logger}
	if b != nil {
		p.bundle.Store(p.withOverride(b))
	}
	return p
}

func (p *Predictor) withOverride(b *model.Bundle) *model.Bundle {
	if p.override == nil {
		return b
	}
	return b.WithThreshold(*p.override)
}

// Swap installs b and retires the previous bundle.
func (p *Predictor) Swap(b *model.Bundle) {
	old := p.bundle.Swap(p.withOverride(b))
	p.logger.Info("model bundle active", "name", b.Name, "version", b.Version, "threshold", p.Bundle().Threshold)
	if old != nil {
		time.AfterFunc(retireDelay, func() {
			if err := old.Close(); err != nil {
				p.logger.Warn("close retired bundle", "version", old.Version, "error", err)
			}
		})
	}
}

// Bundle returns the active bundle, or nil.
func (p *Predictor) Bundle() *model.Bundle {
	return p.bundle.Load()
}

// Info describes the active bundle.
func (p *Predictor) Info() (model.Info, error) {
	b := p.Bundle()
	if b == nil {
		return model.Info{}, model.ErrModelNotLoaded
	}
	return b.Info(), nil
}

// Ready reports whether a bundle is loaded.
func (p *Predictor) Ready(context.Context) error {
	if p.Bundle() == nil {
		return model.ErrModelNotLoaded
	}
	return nil
}

// Close releases the active bundle.
func (p *Predictor) Close() error {
	if b := p.bundle.Swap(nil); b != nil {
		return b.Close()
	}
	return nil
}

// Predict scores a validated transaction. Validation problems surface as
// *features.ValidationError.
func (p *Predictor) Predict(ctx context.Context, tx *features.Transaction) (*Result, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "predictor.Predict", traces.TransactionType(tx.TransactionType))
	defer span.End()

	b := p.Bundle()
	if b == nil {
		metrics.PredictionErrorsTotal.WithLabelValues("model").Inc()
		return nil, model.ErrModelNotLoaded
	}
	span.SetAttributes(traces.ModelVersion(b.Version))

	row, err := features.Build(ctx, tx)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	values := b.Encoder.Transform(ctx, row)
	x := encoder.Align(values, b.FeatureNames)

	prob, err := b.Classifier.PredictProba(ctx, x)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("model").Inc()
		traces.Fail(span, err)
		return nil, fmt.Errorf("predict: %w", err)
	}
	if math.IsNaN(prob) || math.IsInf(prob, 0) {
		metrics.PredictionErrorsTotal.WithLabelValues("model").Inc()
		err := fmt.Errorf("predict: %w: %v", ErrNonFiniteScore, prob)
		traces.Fail(span, err)
		return nil, err
	}

	flag := 0
	if prob >= b.Threshold {
		flag = 1
	}
	res := &Result{
		FraudProbability: round(prob, 4),
		FraudFlag:        flag,
		Threshold:        b.Threshold,
		Decision:         transactions.DecisionFor(flag),
	}

	span.SetAttributes(traces.Probability(res.FraudProbability), traces.Decision(res.Decision))
	metrics.ObservePrediction(res.Decision, prob, time.Since(start))
	return res, nil
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
