package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mbd888/fraudscope/internal/model"
	"github.com/mbd888/fraudscope/internal/predictor"
	"github.com/mbd888/fraudscope/internal/testutil"
	"github.com/mbd888/fraudscope/internal/transactions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One row per confusion cell plus one with an unknown age group.
const labelledCSV = `transaction type,transaction_status,merchant_category,amount (INR),sender_age_group,receiver_age_group,sender_state,sender_bank,receiver_bank,device_type,network_type,hour_of_day,day_of_week,is_weekend,fraud_flag
P2P,SUCCESS,Grocery,25000,26-35,18-25,Delhi,HDFC,SBI,Web,WiFi,2,Monday,0,1
P2P,SUCCESS,Grocery,3000,26-35,18-25,Delhi,HDFC,SBI,Android,4G,14,Monday,0,0
P2M,SUCCESS,Food,30000,26-35,36-45,Goa,ICICI,SBI,iOS,5G,3,Sunday,1,0
Bill Payment,SUCCESS,Utilities,500,36-45,26-35,Goa,SBI,SBI,Android,4G,11,Tuesday,0,1
P2P,SUCCESS,Grocery,100,unknown,18-25,Delhi,HDFC,SBI,Android,4G,11,Tuesday,0,0
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labelled.csv")
	require.NoError(t, os.WriteFile(path, []byte(labelledCSV), 0o600))
	return path
}

func TestConfusion(t *testing.T) {
	var c Confusion
	assert.Zero(t, c.Precision())
	assert.Zero(t, c.Recall())
	assert.Zero(t, c.F1())

	c.Add(1, 1)
	c.Add(1, 1)
	c.Add(0, 1)
	c.Add(1, 0)
	c.Add(0, 0)

	assert.Equal(t, Confusion{TP: 2, FP: 1, TN: 1, FN: 1}, c)
	assert.InDelta(t, 2.0/3, c.Precision(), 1e-12)
	assert.InDelta(t, 2.0/3, c.Recall(), 1e-12)
	assert.InDelta(t, 2.0/3, c.F1(), 1e-12)
	assert.InDelta(t, 0.6, c.Accuracy(), 1e-12)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	b, err := model.LoadBundle(testutil.BundleDir(t))
	require.NoError(t, err)
	p := predictor.New(b, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rows, err := transactions.NewHistoricalTable(writeCSV(t)).List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	for _, w := range []int{1, 3} {
		r, err := Replay(ctx, p, rows, w)
		require.NoError(t, err)

		assert.Equal(t, 5, r.Rows)
		assert.Equal(t, 4, r.Scored)
		assert.Equal(t, 1, r.Skipped)
		assert.Equal(t, 0.5, r.Threshold)
		assert.Equal(t, Confusion{TP: 1, FP: 1, TN: 1, FN: 1}, r.Confusion)
		assert.InDelta(t, 0.5, r.F1, 1e-12)
	}
}

func TestReplayThresholdOverride(t *testing.T) {
	ctx := context.Background()
	b, err := model.LoadBundle(testutil.BundleDir(t))
	require.NoError(t, err)
	low := 0.0
	p := predictor.New(b, &low, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rows, err := transactions.NewHistoricalTable(writeCSV(t)).List(ctx)
	require.NoError(t, err)

	r, err := Replay(ctx, p, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, Confusion{TP: 2, FP: 2}, r.Confusion, "everything is flagged at threshold 0")
	assert.Equal(t, 1.0, r.Recall)
}

func TestReplayCommand(t *testing.T) {
	dir := testutil.BundleDir(t)
	csvPath := writeCSV(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"replay", csvPath, "--model-dir", dir, "--json", "--workers", "2"})
	t.Cleanup(func() { asJSON = false })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	var r Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, 4, r.Scored)
	assert.Equal(t, 1, r.Confusion.TP)
}

func TestInspectCommand(t *testing.T) {
	dir := testutil.BundleDir(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"inspect", "--model-dir", dir, "--json=false"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "Name:      test-bundle")
	assert.Contains(t, out.String(), "Version:   test-1")
	assert.Contains(t, out.String(), "Kind:      linear")
}

func TestWriteText(t *testing.T) {
	r := &Report{Rows: 2, Scored: 2, Threshold: 0.5, Confusion: Confusion{TP: 1, TN: 1}, Precision: 1, Recall: 1, F1: 1, Accuracy: 1}
	var buf bytes.Buffer
	r.WriteText(&buf)
	assert.Contains(t, buf.String(), "actual FRAUD")
	assert.Contains(t, buf.String(), "F1:        1.0000")
}
