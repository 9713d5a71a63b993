package cmd

import (
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command.
var mcpCmd = &cobra.Command{
	Use:   "mcp [repo-path]",
	Short: "Start the defect risk MCP server",
	Long:  `Launch an MCP server over stdio that lets AI agents score repositories and inspect recorded runs.`,
	Args:  cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := sharedSetup(rootCtx, cmd, args); err != nil {
			return err
		}
		// Keep stderr quiet while an agent owns the session.
		execCtx.Logger = contract.NewNopLogger()
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return mcp.StartMCPServer(rootCtx, cfg, execCtx)
	},
}
