package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/fraudscope/internal/dashboard"
	"github.com/mbd888/fraudscope/internal/model"
	"github.com/mbd888/fraudscope/internal/predictor"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FraudscopeClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FraudscopeClient) *Handlers {
	return &Handlers{client: client}
}

// HandleScoreTransaction scores one transaction.
func (h *Handlers) HandleScoreTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, ok := req.GetArguments()["transaction"].(map[string]any)
	if !ok || len(tx) == 0 {
		return mcp.NewToolResultError("transaction is required"), nil
	}

	raw, err := h.client.Predict(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score transaction: %v", err)), nil
	}

	text, err := formatResult(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetFraudSummary returns the headline fraud numbers.
func (h *Handlers) HandleGetFraudSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Summary(ctx, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get summary: %v", err)), nil
	}

	text, err := formatSummary(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse summary: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetFraudBreakdown returns flagged counts per category.
func (h *Handlers) HandleGetFraudBreakdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	by := req.GetString("by", "")
	if by == "" {
		return mcp.NewToolResultError("by is required"), nil
	}

	raw, err := h.client.FraudBy(ctx, by)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get breakdown: %v", err)), nil
	}

	text, err := formatBreakdown(by, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse breakdown: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetTransactionsOverTime returns the bucketed transaction counts.
func (h *Handlers) HandleGetTransactionsOverTime(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	freq := strings.ToUpper(req.GetString("freq", dashboard.FreqDaily))

	raw, err := h.client.TransactionsOverTime(ctx, freq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transactions over time: %v", err)), nil
	}

	text, err := formatSeries(freq, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse series: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetModelInfo describes the active model bundle.
func (h *Handlers) HandleGetModelInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ModelInfo(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get model info: %v", err)), nil
	}

	var resp struct {
		Model *model.Info `json:"model"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Model == nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	m := resp.Model
	var sb strings.Builder
	sb.WriteString("Active model:\n")
	fmt.Fprintf(&sb, "  Name: %s\n", m.Name)
	fmt.Fprintf(&sb, "  Version: %s\n", m.Version)
	fmt.Fprintf(&sb, "  Kind: %s\n", m.Kind)
	fmt.Fprintf(&sb, "  Threshold: %g\n", m.Threshold)
	fmt.Fprintf(&sb, "  Features: %d\n", m.FeatureCount)
	if !m.LoadedAt.IsZero() {
		fmt.Fprintf(&sb, "  Loaded: %s\n", m.LoadedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- formatting ---

func formatResult(raw json.RawMessage) (string, error) {
	var res predictor.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", err
	}
	if res.Decision == "" {
		return "", fmt.Errorf("unexpected prediction response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision: %s\n", res.Decision)
	fmt.Fprintf(&sb, "Fraud probability: %.4f\n", res.FraudProbability)
	fmt.Fprintf(&sb, "Threshold: %g\n", res.Threshold)
	if res.TransactionID != "" {
		fmt.Fprintf(&sb, "Transaction ID: %s\n", res.TransactionID)
	}
	return sb.String(), nil
}

func formatSummary(raw json.RawMessage) (string, error) {
	var sum dashboard.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return "", err
	}

	k := sum.KPIs
	var sb strings.Builder
	sb.WriteString("Fraud summary:\n")
	fmt.Fprintf(&sb, "  Transactions: %d\n", k.TotalTransactions)
	fmt.Fprintf(&sb, "  Flagged: %d\n", k.FraudTransactions)
	fmt.Fprintf(&sb, "  Fraud rate: %.2f%%\n", k.FraudRate)
	fmt.Fprintf(&sb, "  Total amount: %s INR\n", k.TotalAmount.StringFixed(2))
	fmt.Fprintf(&sb, "  Flagged amount: %s INR\n", k.FlaggedAmount.StringFixed(2))
	if len(sum.FraudByNetwork) > 0 {
		top := sum.FraudByNetwork[0]
		fmt.Fprintf(&sb, "  Most flagged network: %s (%d)\n", top.Key, top.Count)
	}
	if len(sum.FraudByTransactionType) > 0 {
		top := sum.FraudByTransactionType[0]
		fmt.Fprintf(&sb, "  Most flagged type: %s (%d)\n", top.Key, top.Count)
	}
	return sb.String(), nil
}

func formatBreakdown(by string, raw json.RawMessage) (string, error) {
	var b dashboard.Breakdown
	if err := json.Unmarshal(raw, &b); err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "No flagged transactions.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Flagged transactions by %s:\n", strings.ReplaceAll(by, "_", " "))
	for i, c := range b {
		fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, c.Key, c.Count)
	}
	return sb.String(), nil
}

func formatSeries(freq string, raw json.RawMessage) (string, error) {
	var s dashboard.Series
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if len(s) == 0 {
		return "No transactions with a usable timestamp.", nil
	}

	layout := "2006-01-02"
	unit := "day"
	if freq == dashboard.FreqHourly {
		layout = "2006-01-02 15:00"
		unit = "hour"
	}

	total := 0
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transactions per %s (%d buckets):\n", unit, len(s))
	for _, p := range s {
		total += p.Count
		fmt.Fprintf(&sb, "  %s  %d\n", p.Bucket.Format(layout), p.Count)
	}
	fmt.Fprintf(&sb, "Total: %d\n", total)
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
