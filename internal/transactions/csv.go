package transactions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// csvHeader is the column order of a newly created scored-transaction log.
var csvHeader = []string{
	"transaction_id",
	"transaction type",
	"transaction_status",
	"merchant_category",
	"amount",
	"sender_age",
	"receiver_age",
	"sender_age_group",
	"receiver_age_group",
	"sender_state",
	"sender_bank",
	"receiver_bank",
	"device_type",
	"network_type",
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"fraud_probability",
	"fraud_flag",
	"decision",
	"timestamp",
}

// NormalizeColumn trims a CSV header, replaces spaces with underscores,
// drops parentheses and lowercases it: "Amount (INR)" becomes "amount_inr".
func NormalizeColumn(name string) string {
	name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.NewReplacer("(", "", ")", "").Replace(name)
	return strings.ToLower(name)
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = NormalizeColumn(h)
	}
	return out
}

// fieldValue renders one column of rec. Unknown columns are empty.
func fieldValue(rec *Record, column string) string {
	tx := &rec.Transaction
	switch column {
	case "transaction_id":
		return rec.TransactionID
	case "transaction_type":
		return tx.TransactionType
	case "transaction_status":
		return tx.TransactionStatus
	case "merchant_category":
		return tx.MerchantCategory
	case "amount", "amount_inr":
		return strconv.FormatFloat(tx.Amount, 'f', -1, 64)
	case "sender_age":
		return optInt(tx.SenderAge)
	case "receiver_age":
		return optInt(tx.ReceiverAge)
	case "sender_age_group":
		return tx.SenderAgeGroup
	case "receiver_age_group":
		return tx.ReceiverAgeGroup
	case "sender_state":
		return tx.SenderState
	case "sender_bank":
		return tx.SenderBank
	case "receiver_bank":
		return tx.ReceiverBank
	case "device_type":
		return tx.DeviceType
	case "network_type":
		return tx.NetworkType
	case "hour_of_day":
		return strconv.Itoa(tx.HourOfDay)
	case "day_of_week":
		return tx.DayOfWeek
	case "is_weekend":
		return strconv.Itoa(tx.IsWeekend)
	case "fraud_probability":
		p := finiteProbability(rec.FraudProbability)
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	case "fraud_flag":
		return strconv.Itoa(rec.FraudFlag)
	case "decision":
		return rec.Decision
	case "timestamp":
		return rec.Timestamp
	}
	return ""
}

// setField assigns one normalized column. Malformed numbers leave the zero
// value in place.
func setField(rec *Record, column, value string) {
	tx := &rec.Transaction
	value = strings.TrimSpace(value)
	switch column {
	case "transaction_id":
		rec.TransactionID = value
	case "transaction_type":
		tx.TransactionType = value
	case "transaction_status":
		tx.TransactionStatus = value
	case "merchant_category":
		tx.MerchantCategory = value
	case "amount", "amount_inr":
		tx.Amount, _ = parseFinite(value)
	case "sender_age":
		tx.SenderAge = parseOptInt(value)
	case "receiver_age":
		tx.ReceiverAge = parseOptInt(value)
	case "sender_age_group":
		tx.SenderAgeGroup = value
	case "receiver_age_group":
		tx.ReceiverAgeGroup = value
	case "sender_state":
		tx.SenderState = value
	case "sender_bank":
		tx.SenderBank = value
	case "receiver_bank":
		tx.ReceiverBank = value
	case "device_type":
		tx.DeviceType = value
	case "network_type":
		tx.NetworkType = value
	case "hour_of_day":
		tx.HourOfDay = parseInt(value)
	case "day_of_week":
		tx.DayOfWeek = value
	case "is_weekend":
		tx.IsWeekend = parseInt(value)
	case "fraud_probability":
		if p, ok := parseFinite(value); ok {
			rec.FraudProbability = &p
		}
	case "fraud_flag":
		rec.FraudFlag = parseInt(value)
	case "decision":
		rec.Decision = value
	case "timestamp":
		rec.Timestamp = value
		rec.Time, _ = ParseTimestamp(value)
	}
}

// readCSV decodes every row of path. A missing file yields no rows.
func readCSV(path string, source Source) ([]*Record, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-configured data path
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return decodeCSV(f, source)
}

func decodeCSV(r io.Reader, source Source) ([]*Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := normalizeHeader(header)

	var out []*Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out)+2, err)
		}
		rec := &Record{Source: source}
		for i, v := range row {
			if i < len(columns) {
				setField(rec, columns[i], v)
			}
		}
		if rec.Decision == "" || source == SourceHistorical {
			rec.Decision = DecisionFor(rec.FraudFlag)
		}
		if source == SourceHistorical {
			rec.FraudProbability = nil
		}
		out = append(out, rec)
	}
	return out, nil
}

// readHeader returns the normalized header of an existing CSV file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-configured data path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return normalizeHeader(header), nil
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseOptInt(s string) *int {
	if s == "" {
		return nil
	}
	n := parseInt(s)
	return &n
}

// parseInt accepts "3" and "3.0"; pandas writes integer columns with
// missing values as floats.
func parseInt(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, ok := parseFinite(s); ok {
		return int(f)
	}
	return 0
}

// parseFinite rejects NaN and ±Inf, which strconv accepts but JSON cannot
// carry.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
