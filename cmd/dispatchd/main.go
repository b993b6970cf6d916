// Dispatchd routes tasks to AI agents under budget, time and quality
// policies and learns from reported outcomes.
//
// Usage:
//
//	# Start the HTTP API
//	dispatchd serve
//
//	# Serve MCP tools over stdio
//	dispatchd mcp
//
//	# Ask a running server for a decision
//	dispatchd decide --capability summarize --budget 1000
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "dispatchd",
		Short: "Agent dispatch decision engine",
		Long: `dispatchd picks which registered AI agent should run a task, checks the
choice against budget, time and quality policies, decides how much human
oversight the run needs, and learns from reported outcomes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/dispatchd/config.yaml)")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:9400", "dispatchd server URL for client commands")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newDecideCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dispatchd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
