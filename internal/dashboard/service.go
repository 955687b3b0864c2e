package dashboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mbd888/fraudscope/internal/traces"
	"github.com/mbd888/fraudscope/internal/transactions"
)

// Service computes dashboard aggregates over the historical dataset and the
// scored-transaction store.
type Service struct {
	historical transactions.HistoricalSource
	store      transactions.Store
	cache      Cache
}

// NewService creates a dashboard service. Either source may be nil.
func NewService(historical transactions.HistoricalSource, store transactions.Store) *Service {
	return &Service{historical: historical, store: store}
}

// WithCache enables aggregate caching.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// Cache returns the configured cache, or nil.
func (s *Service) Cache() Cache { return s.cache }

// SummaryJSON returns the serialized Summary for freq, from cache when
// possible.
func (s *Service) SummaryJSON(ctx context.Context, freq string) ([]byte, error) {
	f, err := ParseFreq(freq)
	if err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "dashboard.Summary")
	defer span.End()

	return cached(ctx, s.cache, "summary:"+f, func() ([]byte, error) {
		rows, err := transactions.Combined(ctx, s.historical, s.store)
		if err != nil {
			traces.Fail(span, err)
			return nil, fmt.Errorf("load transactions: %w", err)
		}
		sum, err := Summarize(rows, f)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sum)
	})
}

// Summary returns every dashboard section.
func (s *Service) Summary(ctx context.Context, freq string) (*Summary, error) {
	data, err := s.SummaryJSON(ctx, freq)
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}

// Transactions lists rows matching f, newest first.
func (s *Service) Transactions(ctx context.Context, f transactions.Filter) (transactions.Page, error) {
	rows, err := transactions.Combined(ctx, s.historical, s.store)
	if err != nil {
		return transactions.Page{}, err
	}
	return f.Apply(rows)
}
