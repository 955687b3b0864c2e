// Package transactions stores scored transactions and reads the historical
// labelled dataset the dashboard aggregates over.
package transactions

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/mbd888/fraudscope/internal/features"
	"github.com/mbd888/fraudscope/internal/pagination"
)

// Decisions.
const (
	DecisionFlagged = "FLAGGED"
	DecisionSafe    = "SAFE"
)

// Source tells historical rows from rows scored by this service.
type Source string

const (
	SourceHistorical Source = "historical"
	SourcePredicted  Source = "predicted"
)

var ErrNilRecord = errors.New("record is nil")

// Record is one transaction as stored or loaded for the dashboard.
type Record struct {
	TransactionID string `json:"transaction_id,omitempty"`
	features.Transaction

	FraudProbability *float64 `json:"fraud_probability"` // nil for historical rows
	FraudFlag        int      `json:"fraud_flag"`
	Decision         string   `json:"decision"`

	// Timestamp is the value as written; Time is its parsed form and is zero
	// when the value could not be parsed.
	Timestamp string    `json:"timestamp"`
	Time      time.Time `json:"-"`
	Source    Source    `json:"source"`
}

// Store persists scored transactions.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context) ([]*Record, error)
}

// HistoricalSource lists labelled rows. Implementations return no rows when
// there is no dataset.
type HistoricalSource interface {
	List(ctx context.Context) ([]*Record, error)
}

// NewRecord builds a predicted record stamped at now.
func NewRecord(id string, tx *features.Transaction, probability float64, flag int, decision string, now time.Time) *Record {
	now = now.UTC()
	p := probability
	return &Record{
		TransactionID:    id,
		Transaction:      *tx,
		FraudProbability: &p,
		FraudFlag:        flag,
		Decision:         decision,
		Timestamp:        now.Format(TimestampLayout),
		Time:             now,
		Source:           SourcePredicted,
	}
}

// finiteProbability returns a copy of p, or nil when p is nil or not a finite
// number.
func finiteProbability(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	v := *p
	return &v
}

// DecisionFor maps a fraud flag onto a decision label.
func DecisionFor(flag int) string {
	if flag == 1 {
		return DecisionFlagged
	}
	return DecisionSafe
}

// Combined returns historical rows followed by predicted rows. A nil
// historical source contributes nothing.
func Combined(ctx context.Context, historical HistoricalSource, store Store) ([]*Record, error) {
	var out []*Record
	if historical != nil {
		rows, err := historical.List(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	if store != nil {
		rows, err := store.List(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ErrStaleCursor means the rows a cursor pointed into have changed, for
// example after the historical dataset was replaced.
var ErrStaleCursor = errors.New("cursor no longer matches the transaction list")

// Filter narrows records for the listing API.
type Filter struct {
	Source   Source
	Decision string
	Limit    int                // 0 means no limit
	After    *pagination.Cursor // continue below the last row of a previous page
}

// Page is one page of a listing. NextCursor is empty on the last page.
type Page struct {
	Records    []*Record
	NextCursor string
	HasMore    bool
}

type positioned struct {
	pos int
	rec *Record
}

// Apply returns the most recent matching records, newest first. Positions
// index the combined list, which only grows at the end, so a cursor stays
// valid while new predictions arrive.
func (f Filter) Apply(records []*Record) (Page, error) {
	start := len(records) - 1
	if f.After != nil {
		if f.After.Pos >= len(records) || records[f.After.Pos].TransactionID != f.After.ID {
			return Page{}, ErrStaleCursor
		}
		start = f.After.Pos - 1
	}

	var out []positioned
	for i := start; i >= 0; i-- {
		r := records[i]
		if f.Source != "" && r.Source != f.Source {
			continue
		}
		if f.Decision != "" && !strings.EqualFold(r.Decision, f.Decision) {
			continue
		}
		out = append(out, positioned{pos: i, rec: r})
		if f.Limit > 0 && len(out) > f.Limit {
			break
		}
	}

	out, next, more := pagination.ComputePage(out, f.Limit, func(p positioned) (int, string) {
		return p.pos, p.rec.TransactionID
	})
	page := Page{Records: make([]*Record, len(out)), NextCursor: next, HasMore: more}
	for i, p := range out {
		page.Records[i] = p.rec
	}
	return page, nil
}
