package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfreview/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents submit Terraform for review and query review
history natively. Configure in your agent with:

  {
    "mcpServers": {
      "tfreview": { "command": "tfreview", "args": ["mcp"] }
    }
  }

Available tools: tfr_submit_review, tfr_get_review, tfr_review_history,
tfr_stack_history, tfr_issue_frequency, tfr_stuck_reviews`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		o, err := getOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return mcp.NewServer(s, o, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
