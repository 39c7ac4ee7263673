package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"taskrun/internal/statusserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve TaskRun status tools to an MCP client over stdio",
	Long: `Starts an MCP server on stdin/stdout with read-only tools:

  taskrun_status   phase, outcome, conditions and events of one TaskRun
  taskrun_list     TaskRuns filtered by service and phase

Point an MCP client at 'taskrun mcp -n <namespace>'. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newTaskRunClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return statusserver.New(c, targetNamespace(), GetVersion()).Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
