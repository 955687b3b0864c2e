package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all fraudscope tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("fraudscope", version)
	client := NewFraudscopeClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolScoreTransaction, h.HandleScoreTransaction)
	s.AddTool(ToolGetFraudSummary, h.HandleGetFraudSummary)
	s.AddTool(ToolGetFraudBreakdown, h.HandleGetFraudBreakdown)
	s.AddTool(ToolGetTransactionsOverTime, h.HandleGetTransactionsOverTime)
	s.AddTool(ToolGetModelInfo, h.HandleGetModelInfo)

	return s
}
