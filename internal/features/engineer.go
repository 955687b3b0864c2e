package features

import (
	"context"
	"errors"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/mbd888/fraudscope/internal/traces"
)

// Messages sent to API clients. They keep the wording the web form expects.
const (
	MsgUnderage = "Age must be >= 18"
	MsgNoInput  = "No input data provided"
)

var (
	// ErrUnderage is returned for parties younger than 18.
	ErrUnderage = errors.New("age must be >= 18")
	// ErrNoInput is returned for an empty request.
	ErrNoInput = errors.New("no input data provided")
)

// Row is one engineered transaction before encoding.
type Row struct {
	Numeric     map[string]float64
	Categorical map[string]string
}

// Column names shared with the encoder and the training pipeline.
const (
	ColTransactionType   = "transaction type"
	ColTransactionStatus = "transaction_status"
	ColDeviceType        = "device_type"
	ColNetworkType       = "network_type"
	ColDayOfWeek         = "day_of_week"
	ColDeviceRisk        = "device_risk"
	ColNetworkRisk       = "network_risk"
	ColDeviceNetworkRisk = "device_network_risk"
)

// OneHotColumns are the categorical columns, in encoder order.
var OneHotColumns = []string{
	ColTransactionType,
	ColTransactionStatus,
	ColDeviceType,
	ColNetworkType,
	ColDayOfWeek,
	ColDeviceRisk,
	ColNetworkRisk,
	ColDeviceNetworkRisk,
}

// NumericColumns are the numeric columns Build always emits.
var NumericColumns = []string{
	"merchant_category",
	"amount",
	"sender_state",
	"sender_bank",
	"receiver_bank",
	"hour_of_day",
	"is_weekend",
	"log_amount",
	"is_high_amount",
	"is_night",
	"is_office_hours",
	"same_bank",
	"sender_age_ord",
	"receiver_age_ord",
	"age_gap",
}

const highAmountThreshold = 10000

var ageOrdinal = map[string]int{
	"18-25": 1,
	"26-35": 2,
	"36-45": 3,
	"46-55": 4,
	"56+":   5,
}

var deviceRisk = map[string]string{
	"Web":     "High",
	"Android": "Medium",
	"iOS":     "Low",
}

var networkRisk = map[string]string{
	"WiFi": "High",
	"3G":   "Medium",
	"4G":   "Low",
	"5G":   "Low",
}

// AgeToGroup buckets an exact age into the training age groups.
func AgeToGroup(age int) (string, error) {
	switch {
	case age < 18:
		return "", ErrUnderage
	case age <= 25:
		return "18-25", nil
	case age <= 35:
		return "26-35", nil
	case age <= 45:
		return "36-45", nil
	case age <= 55:
		return "46-55", nil
	default:
		return "56+", nil
	}
}

// Build converts a validated transaction into an engineered row.
func Build(ctx context.Context, tx *Transaction) (*Row, error) {
	_, span := traces.StartSpan(ctx, "features.Build", traces.TransactionType(tx.TransactionType))
	defer span.End()

	senderGroup, err := resolveAgeGroup(tx.SenderAge, tx.SenderAgeGroup)
	if err != nil {
		return nil, ageError("sender_age", err)
	}
	receiverGroup, err := resolveAgeGroup(tx.ReceiverAge, tx.ReceiverAgeGroup)
	if err != nil {
		return nil, ageError("receiver_age", err)
	}

	senderOrd := ageOrdinal[senderGroup]
	receiverOrd := ageOrdinal[receiverGroup]

	num := map[string]float64{
		"merchant_category": FrequencyCode(tx.MerchantCategory),
		"amount":            tx.Amount,
		"sender_state":      FrequencyCode(tx.SenderState),
		"sender_bank":       FrequencyCode(tx.SenderBank),
		"receiver_bank":     FrequencyCode(tx.ReceiverBank),
		"hour_of_day":       float64(tx.HourOfDay),
		"is_weekend":        float64(tx.IsWeekend),
		"log_amount":        math.Log1p(tx.Amount),
		"is_high_amount":    boolFloat(tx.Amount >= highAmountThreshold),
		"is_night":          boolFloat(tx.HourOfDay >= 0 && tx.HourOfDay <= 5),
		"is_office_hours":   boolFloat(tx.HourOfDay >= 9 && tx.HourOfDay <= 18),
		"same_bank":         boolFloat(tx.SenderBank == tx.ReceiverBank),
		"sender_age_ord":    float64(senderOrd),
		"receiver_age_ord":  float64(receiverOrd),
		"age_gap":           math.Abs(float64(senderOrd - receiverOrd)),
	}

	devRisk := deviceRisk[tx.DeviceType]
	netRisk := networkRisk[tx.NetworkType]
	combined := ""
	if devRisk != "" && netRisk != "" {
		combined = devRisk + "_" + netRisk
	}

	cat := map[string]string{
		ColTransactionType:   tx.TransactionType,
		ColTransactionStatus: tx.TransactionStatus,
		ColDeviceType:        tx.DeviceType,
		ColNetworkType:       tx.NetworkType,
		ColDayOfWeek:         tx.DayOfWeek,
		ColDeviceRisk:        devRisk,
		ColNetworkRisk:       netRisk,
		ColDeviceNetworkRisk: combined,
	}

	return &Row{Numeric: num, Categorical: cat}, nil
}

// FrequencyCode maps a high-cardinality category onto [0, 1) so unseen
// values still encode. The hash is stable across processes.
func FrequencyCode(value string) float64 {
	return float64(xxhash.Sum64String(value)%1000) / 1000
}

func resolveAgeGroup(age *int, group string) (string, error) {
	if age != nil {
		return AgeToGroup(*age)
	}
	if _, ok := ageOrdinal[group]; !ok {
		return "", errors.New("unknown age group " + group)
	}
	return group, nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
