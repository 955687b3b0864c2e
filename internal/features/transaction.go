// Package features turns a raw transaction into the engineered feature row
// the fraud model was trained on.
//
// The row mixes numeric columns (ratios, flags, ordinal ages, frequency codes)
// with categorical columns that the encoder one-hot expands. Column names match
// the training pipeline exactly, including the "transaction type" column that
// keeps its space.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Transaction is a validated scoring request.
type Transaction struct {
	TransactionType   string  `json:"transaction type"`
	TransactionStatus string  `json:"transaction_status"`
	MerchantCategory  string  `json:"merchant_category"`
	Amount            float64 `json:"amount"`
	// Exact ages are preferred; age groups are accepted for historical rows
	// that only carry the bucket.
	SenderAge        *int   `json:"sender_age,omitempty"`
	ReceiverAge      *int   `json:"receiver_age,omitempty"`
	SenderAgeGroup   string `json:"sender_age_group,omitempty"`
	ReceiverAgeGroup string `json:"receiver_age_group,omitempty"`
	SenderState      string `json:"sender_state"`
	SenderBank       string `json:"sender_bank"`
	ReceiverBank     string `json:"receiver_bank"`
	DeviceType       string `json:"device_type"`
	NetworkType      string `json:"network_type"`
	HourOfDay        int    `json:"hour_of_day"`
	DayOfWeek        string `json:"day_of_week"`
	IsWeekend        int    `json:"is_weekend"`
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field problem found in a request.
type ValidationError struct {
	Fields []FieldError

	summary string // replaces the first field in Error when set
	cause   error
}

func (e *ValidationError) Error() string {
	if e.summary != "" {
		return e.summary
	}
	if len(e.Fields) == 0 {
		return "invalid transaction"
	}
	return e.Fields[0].Field + ": " + e.Fields[0].Message
}

func (e *ValidationError) Unwrap() error { return e.cause }

func (e *ValidationError) has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// keyAliases maps accepted input keys to the canonical column name.
var keyAliases = map[string]string{
	"transaction type": "transaction type",
	"transaction_type": "transaction type",
}

// ParseTransaction validates a decoded JSON object and builds a Transaction.
// Numbers may arrive as JSON numbers or numeric strings.
func ParseTransaction(raw map[string]any) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{summary: MsgNoInput, cause: ErrNoInput}
	}

	in := make(map[string]any, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if canon, ok := keyAliases[key]; ok {
			key = canon
		}
		in[key] = v
	}

	verr := &ValidationError{}
	p := fieldParser{in: in, err: verr}

	tx := &Transaction{
		TransactionType:   p.text("transaction type", true),
		TransactionStatus: p.text("transaction_status", true),
		MerchantCategory:  p.text("merchant_category", true),
		Amount:            p.real("amount"),
		SenderState:       p.text("sender_state", true),
		SenderBank:        p.text("sender_bank", true),
		ReceiverBank:      p.text("receiver_bank", true),
		DeviceType:        p.text("device_type", true),
		NetworkType:       p.text("network_type", true),
		HourOfDay:         p.whole("hour_of_day"),
		DayOfWeek:         p.text("day_of_week", true),
		IsWeekend:         p.whole("is_weekend"),
	}

	tx.SenderAge, tx.SenderAgeGroup = p.age("sender_age", "sender_age_group")
	tx.ReceiverAge, tx.ReceiverAgeGroup = p.age("receiver_age", "receiver_age_group")

	// Range checks skip fields that already failed to parse.
	tx.check(verr)
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Validate checks value ranges. ParseTransaction calls it; callers building a
// Transaction directly should too.
func (t *Transaction) Validate() error {
	verr := &ValidationError{}
	t.check(verr)
	return verr.orNil()
}

func (t *Transaction) check(verr *ValidationError) {
	add := func(field, msg string) {
		if !verr.has(field) {
			verr.add(field, msg)
		}
	}
	switch {
	case t.Amount < 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0):
		add("amount", "must be a non-negative number")
	case t.Amount > math.MaxFloat32:
		// The model input is float32.
		add("amount", "is too large")
	}
	if t.HourOfDay < 0 || t.HourOfDay > 23 {
		add("hour_of_day", "must be between 0 and 23")
	}
	if t.IsWeekend != 0 && t.IsWeekend != 1 {
		add("is_weekend", "must be 0 or 1")
	}
	if t.SenderAge == nil && t.SenderAgeGroup == "" {
		add("sender_age", "is required")
	}
	if t.ReceiverAge == nil && t.ReceiverAgeGroup == "" {
		add("receiver_age", "is required")
	}
}

func ageError(field string, err error) *ValidationError {
	verr := &ValidationError{cause: err}
	if errors.Is(err, ErrUnderage) {
		verr.summary = MsgUnderage
		verr.add(field, "must be >= 18")
	} else {
		verr.add(field, err.Error())
	}
	return verr
}

type fieldParser struct {
	in  map[string]any
	err *ValidationError
}

func (p fieldParser) text(key string, required bool) string {
	v, ok := p.in[key]
	if !ok || v == nil {
		if required {
			p.err.add(key, "is required")
		}
		return ""
	}
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		if s == "" && required {
			p.err.add(key, "is required")
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		p.err.add(key, "must be a string")
		return ""
	}
}

func (p fieldParser) number(key string) (float64, bool) {
	v, ok := p.in[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			p.err.add(key, "must be a number")
			return 0, true
		}
		return f, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			p.err.add(key, "must be a number")
			return 0, true
		}
		return f, true
	default:
		p.err.add(key, "must be a number")
		return 0, true
	}
}

func (p fieldParser) real(key string) float64 {
	f, ok := p.number(key)
	if !ok {
		p.err.add(key, "is required")
	}
	return f
}

func (p fieldParser) whole(key string) int {
	f, ok := p.number(key)
	if !ok {
		p.err.add(key, "is required")
		return 0
	}
	if f != math.Trunc(f) {
		p.err.add(key, "must be a whole number")
	}
	return int(f)
}

// age reads the exact age when present, otherwise the age group.
func (p fieldParser) age(ageKey, groupKey string) (*int, string) {
	if f, ok := p.number(ageKey); ok {
		if f != math.Trunc(f) {
			p.err.add(ageKey, "must be a whole number")
			return nil, ""
		}
		a := int(f)
		return &a, ""
	}
	group := p.text(groupKey, false)
	if group == "" {
		return nil, ""
	}
	if _, ok := ageOrdinal[group]; !ok {
		p.err.add(groupKey, fmt.Sprintf("unknown age group %q", group))
		return nil, ""
	}
	return nil, group
}
