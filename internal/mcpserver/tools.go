package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the fraudscope MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScoreTransaction = mcp.NewTool("score_transaction",
	mcp.WithDescription(
		"Score a UPI transaction for fraud. Returns the fraud probability, the decision "+
			"(FLAGGED or SAFE) and the threshold used. The scored transaction is recorded "+
			"and shows up in the dashboard."),
	mcp.WithObject("transaction",
		mcp.Required(),
		mcp.Description("Transaction fields: \"transaction type\" (P2P, P2M, Bill Payment, Recharge), "+
			"transaction_status, amount, merchant_category, sender_age, receiver_age, sender_state, "+
			"sender_bank, receiver_bank, device_type, network_type, hour_of_day (0-23), day_of_week, is_weekend (0/1)")),
)

var ToolGetFraudSummary = mcp.NewTool("get_fraud_summary",
	mcp.WithDescription(
		"Get the fraud KPIs across historical and scored transactions: total count, "+
			"fraud count, fraud rate in percent, and the total and flagged amounts in INR."),
)

var ToolGetFraudBreakdown = mcp.NewTool("get_fraud_breakdown",
	mcp.WithDescription(
		"Count flagged transactions per category, most frequent first."),
	mcp.WithString("by",
		mcp.Required(),
		mcp.Description("Dimension to group by"),
		mcp.Enum("network", "transaction_type")),
)

var ToolGetTransactionsOverTime = mcp.NewTool("get_transactions_over_time",
	mcp.WithDescription(
		"Get the number of transactions per day or per hour, with empty periods shown as zero."),
	mcp.WithString("freq",
		mcp.Description("Bucket size: 'D' (daily, default) or 'H' (hourly)"),
		mcp.Enum("D", "H")),
)

var ToolGetModelInfo = mcp.NewTool("get_model_info",
	mcp.WithDescription(
		"Show the active fraud model: name, version, kind, decision threshold and feature count."),
)
