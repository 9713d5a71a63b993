// Package mcp provides the Model Context Protocol (MCP) server implementation.
package mcp

import (
	"context"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer initializes and configures the defect risk MCP server without starting it.
// This is exposed for unit testing.
func NewMCPServer(baseCfg *contract.Config, ec *contract.ExecContext) *server.MCPServer {
	s := server.NewMCPServer(
		"Defect Risk Server",
		"1.0.0",
		server.WithLogging(),
	)

	h := &toolHandler{
		baseCfg: baseCfg,
		ec:      ec,
	}

	// --- 1. Tool: score_repository ---
	s.AddTool(mcp.NewTool("score_repository",
		mcp.WithDescription("Score every recently changed file at a Git reference with the trained defect model and return them ranked by defect probability."),
		mcp.WithString("repo_path", mcp.Description("Path to the Git repository (defaults to the configured repository).")),
		mcp.WithString("ref", mcp.Description("Git reference to score (defaults to HEAD).")),
		mcp.WithNumber("limit", mcp.Description("Limit the number of files returned.")),
	), h.handleScoreRepository)

	// --- 2. Tool: list_training_runs ---
	s.AddTool(mcp.NewTool("list_training_runs",
		mcp.WithDescription("List recorded training and scoring runs, most recent first."),
		mcp.WithString("kind", mcp.Description("Only return runs of this kind."), mcp.Enum("train", "score")),
		mcp.WithNumber("limit", mcp.Description("Limit the number of runs returned.")),
	), h.handleListTrainingRuns)

	// --- 3. Tool: get_run_status ---
	s.AddTool(mcp.NewTool("get_run_status",
		mcp.WithDescription("Summarize the run store backend and its contents."),
	), h.handleGetRunStatus)

	return s
}

// StartMCPServer starts the defect risk MCP server over stdio.
func StartMCPServer(_ context.Context, baseCfg *contract.Config, ec *contract.ExecContext) error {
	s := NewMCPServer(baseCfg, ec)
	return server.ServeStdio(s)
}
