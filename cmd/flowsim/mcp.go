package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve flowsim tools over MCP on stdio",
		Long: `Serve simulate, status, define, list and diagram as MCP tools on
stdin/stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				srv := mcp.NewFlowsimServer(mcp.FlowsimServerDeps{
					Runner:    a.runner,
					Store:     a.store,
					Validator: a.validator,
					Hub:       a.hub,
					Logger:    a.logger,
				})
				return srv.Serve(ctx)
			})
		},
	}
}
