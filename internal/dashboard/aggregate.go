// Package dashboard aggregates historical and scored transactions into the
// figures shown on the fraud dashboard.
package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/fraudscope/internal/transactions"
	"github.com/shopspring/decimal"
)

// Bucket frequencies for TransactionsOverTime.
const (
	FreqDaily  = "D"
	FreqHourly = "H"
)

// BucketLayout formats time-series keys.
const BucketLayout = "2006-01-02 15:04:05"

// MaxBuckets bounds the zero-filled time series.
const MaxBuckets = 50000

var (
	ErrInvalidFreq   = errors.New("freq must be D or H")
	ErrRangeTooWide  = fmt.Errorf("time range exceeds %d buckets", MaxBuckets)
	errNotOrderedMap = errors.New("expected a JSON object")
)

// KPIs are the headline numbers.
type KPIs struct {
	TotalTransactions int             `json:"total_transactions"`
	FraudTransactions int             `json:"fraud_transactions"`
	FraudRate         float64         `json:"fraud_rate"` // percent, 2 dp
	TotalAmount       decimal.Decimal `json:"total_amount"`
	FlaggedAmount     decimal.Decimal `json:"flagged_amount"`
}

// FraudSplit feeds the fraud/non-fraud doughnut.
type FraudSplit struct {
	Fraud    int `json:"fraud"`
	NonFraud int `json:"non_fraud"`
}

// Count is one category of a Breakdown.
type Count struct {
	Key   string
	Count int
}

// Breakdown is an ordered category count. It serializes as a JSON object
// whose keys keep their order.
type Breakdown []Count

func (b Breakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", c.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *Breakdown) UnmarshalJSON(data []byte) error {
	out := Breakdown{}
	err := decodeOrdered(data, func(key string, n int) error {
		out = append(out, Count{Key: key, Count: n})
		return nil
	})
	if err != nil {
		return err
	}
	*b = out
	return nil
}

// Point is one bucket of a Series.
type Point struct {
	Bucket time.Time
	Count  int
}

// Series is a time-ordered count. It serializes as an ordered JSON object
// keyed by BucketLayout.
type Series []Point

func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%d", p.Bucket.UTC().Format(BucketLayout), p.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Series) UnmarshalJSON(data []byte) error {
	out := Series{}
	err := decodeOrdered(data, func(key string, n int) error {
		t, err := time.ParseInLocation(BucketLayout, key, time.UTC)
		if err != nil {
			return err
		}
		out = append(out, Point{Bucket: t, Count: n})
		return nil
	})
	if err != nil {
		return err
	}
	*s = out
	return nil
}

func decodeOrdered(data []byte, add func(key string, n int) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errNotOrderedMap
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var n int
		if err := dec.Decode(&n); err != nil {
			return err
		}
		if err := add(key, n); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// Summary is every dashboard section at once.
type Summary struct {
	KPIs                   KPIs       `json:"kpis"`
	FraudVsNonFraud        FraudSplit `json:"fraud_vs_non_fraud"`
	FraudByNetwork         Breakdown  `json:"fraud_by_network"`
	FraudByTransactionType Breakdown  `json:"fraud_by_transaction_type"`
	TransactionsOverTime   Series     `json:"transactions_over_time"`

	// SeriesError is set when the series could not be built; the other
	// sections are still valid.
	SeriesError string `json:"transactions_over_time_error,omitempty"`
}

// ComputeKPIs totals the rows.
func ComputeKPIs(rows []*transactions.Record) KPIs {
	k := KPIs{TotalAmount: decimal.Zero, FlaggedAmount: decimal.Zero}
	for _, r := range rows {
		k.TotalTransactions++
		amount := decimal.NewFromFloat(r.Amount)
		k.TotalAmount = k.TotalAmount.Add(amount)
		if r.FraudFlag == 1 {
			k.FraudTransactions++
			k.FlaggedAmount = k.FlaggedAmount.Add(amount)
		}
	}
	if k.TotalTransactions > 0 {
		k.FraudRate = round2(float64(k.FraudTransactions) / float64(k.TotalTransactions) * 100)
	}
	k.TotalAmount = k.TotalAmount.Round(2)
	k.FlaggedAmount = k.FlaggedAmount.Round(2)
	return k
}

// ComputeFraudSplit counts flagged and unflagged rows.
func ComputeFraudSplit(rows []*transactions.Record) FraudSplit {
	var s FraudSplit
	for _, r := range rows {
		if r.FraudFlag == 1 {
			s.Fraud++
		}
	}
	s.NonFraud = len(rows) - s.Fraud
	return s
}

// FraudBy counts flagged rows per category, largest first. Rows with an
// empty category are skipped.
func FraudBy(rows []*transactions.Record, category func(*transactions.Record) string) Breakdown {
	counts := make(map[string]int)
	for _, r := range rows {
		if r.FraudFlag != 1 {
			continue
		}
		key := strings.TrimSpace(category(r))
		if key == "" {
			continue
		}
		counts[key]++
	}

	out := make(Breakdown, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Network and TransactionType select breakdown categories.
func Network(r *transactions.Record) string         { return r.NetworkType }
func TransactionType(r *transactions.Record) string { return r.TransactionType }

// ParseFreq normalizes a frequency parameter. Empty means daily.
func ParseFreq(s string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", FreqDaily:
		return FreqDaily, nil
	case FreqHourly:
		return FreqHourly, nil
	default:
		return "", ErrInvalidFreq
	}
}

// TransactionsOverTime counts rows per day or hour between the earliest and
// latest parseable timestamp, with empty buckets filled with zero.
func TransactionsOverTime(rows []*transactions.Record, freq string) (Series, error) {
	step, err := stepFor(freq)
	if err != nil {
		return nil, err
	}

	counts := make(map[time.Time]int)
	var first, last time.Time
	for _, r := range rows {
		t := r.Time
		if t.IsZero() {
			var ok bool
			if t, ok = transactions.ParseTimestamp(r.Timestamp); !ok {
				continue
			}
		}
		b := t.UTC().Truncate(step)
		if len(counts) == 0 || b.Before(first) {
			first = b
		}
		if len(counts) == 0 || b.After(last) {
			last = b
		}
		counts[b]++
	}
	if len(counts) == 0 {
		return Series{}, nil
	}

	n := int(last.Sub(first)/step) + 1
	if n > MaxBuckets {
		return nil, ErrRangeTooWide
	}
	out := make(Series, 0, n)
	for b := first; !b.After(last); b = b.Add(step) {
		out = append(out, Point{Bucket: b, Count: counts[b]})
	}
	return out, nil
}

func stepFor(freq string) (time.Duration, error) {
	f, err := ParseFreq(freq)
	if err != nil {
		return 0, err
	}
	if f == FreqHourly {
		return time.Hour, nil
	}
	return 24 * time.Hour, nil
}

// Summarize computes every section with the given frequency. A time range
// too wide to bucket leaves the series empty and sets SeriesError.
func Summarize(rows []*transactions.Record, freq string) (*Summary, error) {
	sum := &Summary{
		KPIs:                   ComputeKPIs(rows),
		FraudVsNonFraud:        ComputeFraudSplit(rows),
		FraudByNetwork:         FraudBy(rows, Network),
		FraudByTransactionType: FraudBy(rows, TransactionType),
	}
	series, err := TransactionsOverTime(rows, freq)
	switch {
	case errors.Is(err, ErrRangeTooWide):
		sum.TransactionsOverTime = Series{}
		sum.SeriesError = err.Error()
	case err != nil:
		return nil, err
	default:
		sum.TransactionsOverTime = series
	}
	return sum, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
