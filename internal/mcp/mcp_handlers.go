package mcp

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/huangsam/defectrisk/core"
	"github.com/huangsam/defectrisk/core/risk"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	baseCfg *contract.Config
	ec      *contract.ExecContext
}

// scoreResponse is the JSON payload of score_repository.
type scoreResponse struct {
	SnapshotCommitID string              `json:"snapshot_commit_id"`
	ModelID          string              `json:"model_id"`
	TotalUnits       int                 `json:"total_units"`
	Scores           []scoredUnit        `json:"scores"`
	Folders          []schema.FolderRisk `json:"folders"`
}

type scoredUnit struct {
	schema.RiskScore
	Label string `json:"label"`
}

func (h *toolHandler) handleScoreRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := h.baseCfg.Clone()
	if p := request.GetString("repo_path", ""); p != "" {
		root, err := h.ec.Client.GetRepoRoot(ctx, p)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid repo_path: %v", err)), nil
		}
		if root != cfg.RepoPath {
			cfg.RepoPath = root
			cfg.PathFilter = ""
			cfg.ModelDir = contract.GetModelDir(root)
		}
	}
	if r := request.GetString("ref", ""); r != "" {
		cfg.Ref = r
	}
	if l := request.GetInt("limit", 0); l > 0 {
		cfg.ResultLimit = min(l, contract.MaxResultLimit)
	}

	report, err := core.ScoreRepository(ctx, h.ec, cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scoring failed: %v", err)), nil
	}

	top := report.Top(cfg.ResultLimit)
	resp := scoreResponse{
		SnapshotCommitID: report.SnapshotCommitID,
		ModelID:          report.ModelID,
		TotalUnits:       len(report.Scores),
		Scores:           make([]scoredUnit, 0, len(top)),
		Folders:          risk.RankFolders(report.Folders, cfg.ResultLimit),
	}
	for _, s := range top {
		resp.Scores = append(resp.Scores, scoredUnit{RiskScore: s, Label: contract.GetPlainLabel(s.Probability)})
	}
	jsonData, _ := json.MarshalIndent(resp, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleListTrainingRuns(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := h.ec.RunStore()
	if store == nil {
		return mcp.NewToolResultError("run tracking is disabled (runs backend is none)"), nil
	}
	runs, err := store.GetAllRuns()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	if kind := request.GetString("kind", ""); kind != "" {
		runs = slices.DeleteFunc(runs, func(r schema.RunRecord) bool { return r.Kind != kind })
	}
	slices.SortStableFunc(runs, func(a, b schema.RunRecord) int {
		return cmp.Compare(b.StartTime.UnixNano(), a.StartTime.UnixNano())
	})
	if l := request.GetInt("limit", 0); l > 0 && l < len(runs) {
		runs = runs[:l]
	}

	jsonData, _ := json.MarshalIndent(runs, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleGetRunStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := h.ec.RunStore()
	if store == nil {
		return mcp.NewToolResultError("run tracking is disabled (runs backend is none)"), nil
	}
	status, err := store.GetStatus()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read run status: %v", err)), nil
	}
	jsonData, _ := json.MarshalIndent(status, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}
