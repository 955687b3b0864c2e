// Package encoder expands categorical columns into one-hot indicators and
// aligns the result with the model's training feature order.
package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mbd888/fraudscope/internal/features"
	"github.com/mbd888/fraudscope/internal/traces"
)

// ErrNoColumns is returned for an encoder without any columns.
var ErrNoColumns = errors.New("encoder has no columns")

// Column is one categorical input and the categories seen during training.
type Column struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// OneHot encodes categorical columns. Unknown categories produce an
// all-zero block rather than an error.
type OneHot struct {
	columns []Column
	index   map[string]map[string]string // column -> category -> feature name
}

// NewOneHot builds an encoder from columns in output order.
func NewOneHot(columns []Column) (*OneHot, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}
	e := &OneHot{
		columns: make([]Column, len(columns)),
		index:   make(map[string]map[string]string, len(columns)),
	}
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := e.index[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", col.Name)
		}
		cats := make(map[string]string, len(col.Categories))
		for _, c := range col.Categories {
			cats[c] = featureName(col.Name, c)
		}
		e.index[col.Name] = cats
		e.columns[i] = Column{Name: col.Name, Categories: append([]string(nil), col.Categories...)}
	}
	return e, nil
}

// LoadOneHot reads an encoder file: {"columns":[{"name":..,"categories":[..]}]}.
func LoadOneHot(path string) (*OneHot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the bundle manifest
	if err != nil {
		return nil, fmt.Errorf("read encoder: %w", err)
	}
	var doc struct {
		Columns []Column `json:"columns"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse encoder %s: %w", path, err)
	}
	return NewOneHot(doc.Columns)
}

// Columns returns the encoded column names in order.
func (e *OneHot) Columns() []string {
	names := make([]string, len(e.columns))
	for i, c := range e.columns {
		names[i] = c.Name
	}
	return names
}

// FeatureNames lists output features as "<column>_<category>".
func (e *OneHot) FeatureNames() []string {
	var out []string
	for _, col := range e.columns {
		for _, c := range col.Categories {
			out = append(out, featureName(col.Name, c))
		}
	}
	return out
}

// Transform merges the numeric columns of row with the one-hot indicators of
// its categorical columns. Categorical columns not known to the encoder are
// dropped.
func (e *OneHot) Transform(ctx context.Context, row *features.Row) map[string]float64 {
	_, span := traces.StartSpan(ctx, "encoder.Transform")
	defer span.End()

	out := make(map[string]float64, len(row.Numeric)+len(e.columns))
	for k, v := range row.Numeric {
		out[k] = v
	}
	for _, col := range e.columns {
		for _, c := range col.Categories {
			out[featureName(col.Name, c)] = 0
		}
		value, ok := row.Categorical[col.Name]
		if !ok {
			continue
		}
		if name, known := e.index[col.Name][value]; known {
			out[name] = 1
		}
	}
	return out
}

func featureName(column, category string) string {
	return column + "_" + category
}
