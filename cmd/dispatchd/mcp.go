package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve dispatch tools over MCP stdio",
		Long: `Serve dispatch_decide, dispatch_record_outcome, dispatch_agent_metrics
and dispatch_list_agents over the MCP stdio transport. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(opts.configPath)
			if err != nil {
				return err
			}
			return runMCP(cmd.Context(), cfg)
		},
	}
}

func runMCP(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close(context.Background())
	}()

	server, err := mcp.NewServer(&mcp.Config{
		Name:    "dispatchd",
		Version: version,
		Logger:  a.logger.Underlying().Named("mcp"),
	}, a.engine)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
