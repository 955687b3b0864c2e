package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/fraudscope/internal/features"
	"github.com/mbd888/fraudscope/internal/idgen"
	"github.com/mbd888/fraudscope/internal/logging"
	"github.com/mbd888/fraudscope/internal/metrics"
	"github.com/mbd888/fraudscope/internal/realtime"
	"github.com/mbd888/fraudscope/internal/transactions"
)

// MaxBatchSize bounds POST /predict/batch.
const MaxBatchSize = 100

var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d transactions", MaxBatchSize)

// ErrNonFiniteScore means the classifier produced NaN or ±Inf.
var ErrNonFiniteScore = errors.New("model returned a non-finite probability")

// CacheInvalidator drops cached dashboard aggregates.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// Broadcaster publishes scored transactions to live clients.
type Broadcaster interface {
	BroadcastPrediction(p realtime.Prediction)
}

// Service scores requests and records the outcome.
type Service struct {
	predictor *Predictor
	store     transactions.Store
	cache     CacheInvalidator
	hub       Broadcaster
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a scoring service. store may be nil to skip persistence.
func NewService(p *Predictor, store transactions.Store, logger *slog.Logger) *Service {
	return &Service{
		predictor: p,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// WithCache invalidates c after every stored prediction.
func (s *Service) WithCache(c CacheInvalidator) *Service {
	s.cache = c
	return s
}

// WithBroadcaster publishes every prediction to b.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.hub = b
	return s
}

// Predictor returns the underlying predictor.
func (s *Service) Predictor() *Predictor { return s.predictor }

// Score parses, scores and records one raw transaction. A storage failure
// is logged and counted; the score is still returned.
func (s *Service) Score(ctx context.Context, raw map[string]any) (*Result, error) {
	tx, err := features.ParseTransaction(raw)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	res, err := s.predictor.Predict(ctx, tx)
	if err != nil {
		return nil, err
	}
	res.TransactionID = idgen.WithPrefix("txn_")

	logging.L(ctx).Info("transaction scored",
		"transaction_id", res.TransactionID,
		"fraud_probability", res.FraudProbability,
		"fraud_flag", res.FraudFlag,
		"threshold", res.Threshold,
		"decision", res.Decision,
	)

	s.record(ctx, tx, res)
	return res, nil
}

func (s *Service) record(ctx context.Context, tx *features.Transaction, res *Result) {
	if s.store != nil {
		rec := transactions.NewRecord(res.TransactionID, tx, res.FraudProbability, res.FraudFlag, res.Decision, s.now())
		if err := s.store.Append(ctx, rec); err != nil {
			metrics.PersistFailuresTotal.Inc()
			logging.L(ctx).Error("failed to persist scored transaction",
				"transaction_id", res.TransactionID, "error", err)
		} else if s.cache != nil {
			s.cache.Invalidate(ctx)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastPrediction(realtime.Prediction{
			TransactionID:    res.TransactionID,
			TransactionType:  tx.TransactionType,
			Amount:           tx.Amount,
			NetworkType:      tx.NetworkType,
			FraudProbability: res.FraudProbability,
			FraudFlag:        res.FraudFlag,
			Decision:         res.Decision,
		})
	}
}

// BatchItem is one entry of a batch response: either a result or an error.
type BatchItem struct {
	Index  int                   `json:"index"`
	Result *Result               `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
	Fields []features.FieldError `json:"fields,omitempty"`
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Items   []BatchItem `json:"results"`
	Count   int         `json:"count"`
	Scored  int         `json:"scored"`
	Flagged int         `json:"flagged"`
}

// ScoreBatch scores up to MaxBatchSize transactions. Per-item failures are
// reported in the result; a non-nil error means the batch itself was rejected.
func (s *Service) ScoreBatch(ctx context.Context, raws []map[string]any) (*BatchResult, error) {
	if len(raws) == 0 {
		return nil, features.ErrNoInput
	}
	if len(raws) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	out := &BatchResult{Items: make([]BatchItem, len(raws)), Count: len(raws)}
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := BatchItem{Index: i}
		res, err := s.Score(ctx, raw)
		switch {
		case err == nil:
			item.Result = res
			out.Scored++
			out.Flagged += res.FraudFlag
		case IsInputError(err):
			item.Error = err.Error()
			var verr *features.ValidationError
			if errors.As(err, &verr) {
				item.Fields = verr.Fields
			}
		default:
			s.logger.Error("batch item failed", "index", i, "error", err)
			item.Error = "Internal server error"
		}
		out.Items[i] = item
	}
	return out, nil
}

// IsInputError reports whether err is the caller's fault.
func IsInputError(err error) bool {
	var verr *features.ValidationError
	return errors.As(err, &verr) || errors.Is(err, features.ErrNoInput) || errors.Is(err, ErrBatchTooLarge)
}
