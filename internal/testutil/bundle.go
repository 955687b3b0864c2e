package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// EncoderColumns is the category vocabulary of the test bundle.
var EncoderColumns = map[string][]string{
	"transaction type":    {"Bill Payment", "P2M", "P2P", "Recharge"},
	"transaction_status":  {"FAILED", "SUCCESS"},
	"device_type":         {"Android", "Web", "iOS"},
	"network_type":        {"3G", "4G", "5G", "WiFi"},
	"day_of_week":         {"Friday", "Monday", "Saturday", "Sunday", "Thursday", "Tuesday", "Wednesday"},
	"device_risk":         {"High", "Low", "Medium"},
	"network_risk":        {"High", "Low", "Medium"},
	"device_network_risk": {"High_High", "High_Low", "Low_Low", "Medium_High", "Medium_Low"},
}

var encoderOrder = []string{
	"transaction type", "transaction_status", "device_type", "network_type",
	"day_of_week", "device_risk", "network_risk", "device_network_risk",
}

var numericOrder = []string{
	"merchant_category", "amount", "sender_state", "sender_bank", "receiver_bank",
	"hour_of_day", "is_weekend", "log_amount", "is_high_amount", "is_night",
	"is_office_hours", "same_bank", "sender_age_ord", "receiver_age_ord", "age_gap",
}

// LinearBundle describes a logistic test bundle.
type LinearBundle struct {
	Version   string
	Threshold float64
	Intercept float64
	Weights   map[string]float64
}

// DefaultBundle flags high amounts at night: the sigmoid crosses 0.5 only
// when is_high_amount and is_night are both set.
func DefaultBundle() LinearBundle {
	return LinearBundle{
		Version:   "test-1",
		Threshold: 0.5,
		Intercept: -4,
		Weights: map[string]float64{
			"is_high_amount": 2.5,
			"is_night":       2.5,
		},
	}
}

// WriteBundle writes a complete linear bundle into dir.
func WriteBundle(t testing.TB, dir string, b LinearBundle) {
	t.Helper()

	featureNames := append([]string(nil), numericOrder...)
	columns := make([]map[string]any, 0, len(encoderOrder))
	for _, col := range encoderOrder {
		cats := EncoderColumns[col]
		columns = append(columns, map[string]any{"name": col, "categories": cats})
		for _, c := range cats {
			featureNames = append(featureNames, col+"_"+c)
		}
	}

	writeJSON(t, filepath.Join(dir, "feature_names.json"), featureNames)
	writeJSON(t, filepath.Join(dir, "encoder.json"), map[string]any{"columns": columns})
	writeJSON(t, filepath.Join(dir, "weights.json"), map[string]any{
		"intercept": b.Intercept,
		"weights":   b.Weights,
	})

	manifest := fmt.Sprintf(`name: test-bundle
version: %q
threshold: %v
feature_names: feature_names.json
encoder: encoder.json
model:
  kind: linear
  path: weights.json
`, b.Version, b.Threshold)
	if err := os.WriteFile(filepath.Join(dir, "bundle.yaml"), []byte(manifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

// BundleDir writes the default bundle into a fresh temp dir.
func BundleDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	WriteBundle(t, dir, DefaultBundle())
	return dir
}

// Transaction returns a valid raw transaction as decoded from JSON.
func Transaction() map[string]any {
	return map[string]any{
		"transaction type":   "P2P",
		"transaction_status": "SUCCESS",
		"merchant_category":  "Grocery",
		"amount":             3000.0,
		"sender_age":         25.0,
		"receiver_age":       41.0,
		"sender_state":       "Delhi",
		"sender_bank":        "HDFC",
		"receiver_bank":      "SBI",
		"device_type":        "Android",
		"network_type":       "4G",
		"hour_of_day":        14.0,
		"day_of_week":        "Monday",
		"is_weekend":         0.0,
	}
}

// RiskyTransaction is flagged by DefaultBundle.
func RiskyTransaction() map[string]any {
	tx := Transaction()
	tx["amount"] = 25000.0
	tx["hour_of_day"] = 2.0
	tx["device_type"] = "Web"
	tx["network_type"] = "WiFi"
	return tx
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
