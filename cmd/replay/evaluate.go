package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/mbd888/fraudscope/internal/predictor"
	"github.com/mbd888/fraudscope/internal/transactions"
	"golang.org/x/sync/errgroup"
)

// Confusion counts predicted flags against labels.
type Confusion struct {
	TP int `json:"true_positives"`
	FP int `json:"false_positives"`
	TN int `json:"true_negatives"`
	FN int `json:"false_negatives"`
}

// Add records one labelled prediction.
func (c *Confusion) Add(label, predicted int) {
	switch {
	case label == 1 && predicted == 1:
		c.TP++
	case label == 0 && predicted == 1:
		c.FP++
	case label == 1:
		c.FN++
	default:
		c.TN++
	}
}

// Total is the number of recorded predictions.
func (c Confusion) Total() int { return c.TP + c.FP + c.TN + c.FN }

// Precision is 0 when nothing was flagged.
func (c Confusion) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// Recall is 0 when there were no fraud labels.
func (c Confusion) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

func (c Confusion) Accuracy() float64 { return ratio(c.TP+c.TN, c.Total()) }

func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Report is the outcome of a replay.
type Report struct {
	Rows      int           `json:"rows"`
	Scored    int           `json:"scored"`
	Skipped   int           `json:"skipped"`
	Threshold float64       `json:"threshold"`
	Confusion Confusion     `json:"confusion"`
	Precision float64       `json:"precision"`
	Recall    float64       `json:"recall"`
	F1        float64       `json:"f1"`
	Accuracy  float64       `json:"accuracy"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// skipped marks rows that could not be scored because the row itself is bad.
const skipped = -1

// Replay scores every row with at most workers concurrent predictions and
// compares the flags with the row labels. Rows failing validation are
// counted as skipped; any other error aborts the replay.
func Replay(ctx context.Context, p *predictor.Predictor, rows []*transactions.Record, workers int) (*Report, error) {
	if workers < 1 {
		workers = 1
	}
	start := time.Now()
	flags := make([]int, len(rows))
	var threshold atomic.Value

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rec := range rows {
		g.Go(func() error {
			tx := rec.Transaction
			if err := tx.Validate(); err != nil {
				flags[i] = skipped
				return nil
			}
			res, err := p.Predict(gctx, &tx)
			if err != nil {
				if predictor.IsInputError(err) {
					flags[i] = skipped
					return nil
				}
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			threshold.Store(res.Threshold)
			flags[i] = res.FraudFlag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Report{Rows: len(rows), Elapsed: time.Since(start)}
	if t, ok := threshold.Load().(float64); ok {
		r.Threshold = t
	}
	for i, f := range flags {
		if f == skipped {
			r.Skipped++
			continue
		}
		r.Confusion.Add(rows[i].FraudFlag, f)
	}
	r.Scored = r.Confusion.Total()
	r.Precision = r.Confusion.Precision()
	r.Recall = r.Confusion.Recall()
	r.F1 = r.Confusion.F1()
	r.Accuracy = r.Confusion.Accuracy()
	return r, nil
}

// WriteText prints the report as a small table.
func (r *Report) WriteText(w io.Writer) {
	c := r.Confusion
	fmt.Fprintf(w, "Rows: %d  scored: %d  skipped: %d  threshold: %g  (%s)\n\n",
		r.Rows, r.Scored, r.Skipped, r.Threshold, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "%-14s %10s %10s\n", "", "pred FRAUD", "pred SAFE")
	fmt.Fprintf(w, "%-14s %10d %10d\n", "actual FRAUD", c.TP, c.FN)
	fmt.Fprintf(w, "%-14s %10d %10d\n\n", "actual SAFE", c.FP, c.TN)
	fmt.Fprintf(w, "Precision: %.4f\n", r.Precision)
	fmt.Fprintf(w, "Recall:    %.4f\n", r.Recall)
	fmt.Fprintf(w, "F1:        %.4f\n", r.F1)
	fmt.Fprintf(w, "Accuracy:  %.4f\n", r.Accuracy)
}
