package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/dispatchd/internal/http"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

type decideOptions struct {
	execCtx orchestrator.ExecutionContext
	asJSON  bool
}

func newDecideCmd(root *rootOptions) *cobra.Command {
	opts := &decideOptions{}

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Ask a running server which agent should run a task",
		Long: `Ask a running dispatchd server for a decision.

Examples:
  # Pick an agent for summarization with a $10 budget
  dispatchd decide --capability summarize --budget 1000

  # Print the full decision as JSON
  dispatchd decide --capability refactor --quality 80 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(cmd.Context(), cmd.OutOrStdout(), root.serverURL, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.execCtx.Capability, "capability", "", "capability needed (required)")
	f.Int64Var(&opts.execCtx.Budget, "budget", 1000, "budget in cents")
	f.Int64Var(&opts.execCtx.TimeLimit, "time-limit", 30000, "time limit in milliseconds")
	f.IntVar(&opts.execCtx.RequiredQuality, "quality", 70, "required quality 0-100")
	f.StringVar(&opts.execCtx.UserID, "user", "", "requesting user id")
	f.StringVar(&opts.execCtx.TaskID, "task", "", "task id")
	f.BoolVar(&opts.asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("capability")
	return cmd
}

func runDecide(ctx context.Context, out io.Writer, serverURL string, opts *decideOptions) error {
	body, err := json.Marshal(opts.execCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(serverURL, "/") + "/api/v1/decisions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr httpserver.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	if opts.asJSON {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		_, err := fmt.Fprintln(out, pretty.String())
		return err
	}

	var decision orchestrator.Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintf(out, "Decision:  %s\n", decision.DecisionID)
	fmt.Fprintf(out, "Agent:     %s\n", decision.SelectedAgent.AgentID)
	fmt.Fprintf(out, "Autonomy:  %s\n", decision.AutonomyLevel)
	fmt.Fprintf(out, "Proceed:   %t\n", decision.ShouldProceed)
	fmt.Fprintf(out, "\n%s\n", decision.Reasoning)
	return nil
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check dispatchd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), cmd.OutOrStdout(), root.serverURL)
		},
	}
}

func runHealth(ctx context.Context, out io.Writer, serverURL string) error {
	url := strings.TrimRight(serverURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var health httpserver.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	fmt.Fprintf(out, "Server URL:    %s\n", serverURL)
	fmt.Fprintf(out, "Agents:        %d\n", health.Agents)
	return nil
}
