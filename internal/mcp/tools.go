package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

const (
	toolDecide        = "dispatch_decide"
	toolRecordOutcome = "dispatch_record_outcome"
	toolAgentMetrics  = "dispatch_agent_metrics"
	toolListAgents    = "dispatch_list_agents"
)

type decideInput struct {
	UserID          string            `json:"user_id,omitempty" jsonschema:"Requesting user identifier"`
	TaskID          string            `json:"task_id,omitempty" jsonschema:"Task identifier echoed into the decision"`
	Capability      string            `json:"capability" jsonschema:"required,Capability needed, e.g. summarize"`
	Budget          int64             `json:"budget" jsonschema:"Budget in cents"`
	TimeLimit       int64             `json:"time_limit" jsonschema:"Time limit in milliseconds"`
	RequiredQuality int               `json:"required_quality" jsonschema:"Minimum quality 0-100"`
	Constraints     map[string]string `json:"constraints,omitempty" jsonschema:"Extra constraints; custom keys use the x- prefix"`
}

type violationOutput struct {
	PolicyID string `json:"policy_id" jsonschema:"Policy that flagged the decision"`
	Severity string `json:"severity" jsonschema:"info, warning, error or critical"`
	Message  string `json:"message" jsonschema:"Human readable finding"`
}

type decideOutput struct {
	DecisionID      string            `json:"decision_id" jsonschema:"Decision identifier"`
	AgentID         string            `json:"agent_id" jsonschema:"Selected agent"`
	EstimatedCost   int64             `json:"estimated_cost" jsonschema:"Cost of the selected agent in cents"`
	ExpectedQuality int               `json:"expected_quality" jsonschema:"Historical mean quality of the selected agent"`
	Score           float64           `json:"score" jsonschema:"Optimizer score"`
	ShouldProceed   bool              `json:"should_proceed" jsonschema:"False when a critical policy violation was found"`
	AutonomyLevel   string            `json:"autonomy_level" jsonschema:"full, supervised or approval_required"`
	Reasoning       string            `json:"reasoning" jsonschema:"Explanation of the decision"`
	Violations      []violationOutput `json:"violations" jsonschema:"Policy findings"`
}

type recordOutcomeInput struct {
	AgentID string  `json:"agent_id" jsonschema:"required,Agent that executed the task"`
	Success bool    `json:"success" jsonschema:"Whether the execution succeeded"`
	Quality float64 `json:"quality" jsonschema:"required,Observed quality 0-100"`
}

type recordOutcomeOutput struct {
	AgentID  string `json:"agent_id" jsonschema:"Agent the outcome was recorded for"`
	Recorded bool   `json:"recorded" jsonschema:"True once the outcome is in the learning history"`
}

type agentMetricsInput struct {
	AgentID string `json:"agent_id" jsonschema:"required,Registered agent identifier"`
}

type agentMetricsOutput struct {
	AgentID        string `json:"agent_id" jsonschema:"Agent identifier"`
	Category       string `json:"category" jsonschema:"Agent category"`
	AvgQuality     int    `json:"avg_quality" jsonschema:"Rounded mean of the learning history"`
	ExecutionCount int    `json:"execution_count" jsonschema:"Entries in the learning history, including the seed"`
	Trend          string `json:"trend" jsonschema:"improving, stable or declining"`
}

type listAgentsInput struct {
	Category string `json:"category,omitempty" jsonschema:"Only list agents in this category"`
}

type listAgentsOutput struct {
	Agents []orchestrator.AgentCapability `json:"agents" jsonschema:"Registered agents in registration order"`
	Count  int                            `json:"count" jsonschema:"Number of agents returned"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolDecide,
		Description: "Choose the best registered agent for a task within budget, time and quality limits",
	}, s.handleDecide)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolRecordOutcome,
		Description: "Record the observed quality of an agent execution so future decisions learn from it",
	}, s.handleRecordOutcome)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolAgentMetrics,
		Description: "Show learned performance for a registered agent",
	}, s.handleAgentMetrics)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolListAgents,
		Description: "List registered agents, optionally filtered by category",
	}, s.handleListAgents)
}

// instrument wraps a tool invocation with metrics.
func (s *Server) instrument(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func (s *Server) handleDecide(ctx context.Context, req *mcp.CallToolRequest, args decideInput) (_ *mcp.CallToolResult, _ decideOutput, toolErr error) {
	done := s.instrument(ctx, toolDecide)
	defer func() { done(toolErr) }()

	execCtx := orchestrator.ExecutionContext{
		UserID:          args.UserID,
		TaskID:          args.TaskID,
		Capability:      args.Capability,
		Budget:          args.Budget,
		TimeLimit:       args.TimeLimit,
		RequiredQuality: args.RequiredQuality,
	}
	if len(args.Constraints) > 0 {
		execCtx.Constraints = make(orchestrator.Constraints, len(args.Constraints))
		for k, v := range args.Constraints {
			execCtx.Constraints[orchestrator.ConstraintKey(k)] = v
		}
	}

	ctx = logging.WithTask(ctx, args.TaskID, args.UserID)
	decision, err := s.engine.MakeDecision(ctx, execCtx)
	if err != nil {
		return nil, decideOutput{}, fmt.Errorf("decision failed: %w", err)
	}

	out := decideOutput{
		DecisionID:      decision.DecisionID,
		AgentID:         decision.SelectedAgent.AgentID,
		EstimatedCost:   decision.SelectedAgent.EstimatedCost,
		ExpectedQuality: decision.SelectedAgent.ExpectedQuality,
		Score:           decision.SelectedAgent.Score,
		ShouldProceed:   decision.ShouldProceed,
		AutonomyLevel:   string(decision.AutonomyLevel),
		Reasoning:       decision.Reasoning,
		Violations:      make([]violationOutput, 0, len(decision.Policies)),
	}
	for _, v := range decision.Policies {
		out.Violations = append(out.Violations, violationOutput{
			PolicyID: v.PolicyID,
			Severity: string(v.Severity),
			Message:  v.Message,
		})
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: decision.Reasoning}},
	}, out, nil
}

func (s *Server) handleRecordOutcome(ctx context.Context, req *mcp.CallToolRequest, args recordOutcomeInput) (_ *mcp.CallToolResult, _ recordOutcomeOutput, toolErr error) {
	done := s.instrument(ctx, toolRecordOutcome)
	defer func() { done(toolErr) }()

	if args.AgentID == "" {
		return nil, recordOutcomeOutput{}, fmt.Errorf("agent_id is required")
	}
	if err := s.engine.RecordOutcome(ctx, args.AgentID, args.Success, args.Quality); err != nil {
		return nil, recordOutcomeOutput{}, fmt.Errorf("record outcome failed: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Outcome recorded for %s: quality %.0f", args.AgentID, args.Quality)},
		},
	}, recordOutcomeOutput{AgentID: args.AgentID, Recorded: true}, nil
}

func (s *Server) handleAgentMetrics(ctx context.Context, req *mcp.CallToolRequest, args agentMetricsInput) (_ *mcp.CallToolResult, _ agentMetricsOutput, toolErr error) {
	done := s.instrument(ctx, toolAgentMetrics)
	defer func() { done(toolErr) }()

	m, err := s.engine.AgentMetrics(ctx, args.AgentID)
	if err != nil {
		return nil, agentMetricsOutput{}, err
	}

	out := agentMetricsOutput{
		AgentID:        m.Agent.ID,
		Category:       string(m.Agent.Category),
		AvgQuality:     m.AvgQuality,
		ExecutionCount: m.ExecutionCount,
		Trend:          string(m.Trend),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s: avg quality %d over %d executions, %s",
				out.AgentID, out.AvgQuality, out.ExecutionCount, out.Trend)},
		},
	}, out, nil
}

func (s *Server) handleListAgents(ctx context.Context, req *mcp.CallToolRequest, args listAgentsInput) (_ *mcp.CallToolResult, _ listAgentsOutput, toolErr error) {
	done := s.instrument(ctx, toolListAgents)
	defer func() { done(toolErr) }()

	var agents []orchestrator.AgentCapability
	if args.Category != "" {
		category := orchestrator.Category(args.Category)
		if !category.Valid() {
			return nil, listAgentsOutput{}, fmt.Errorf("invalid category: %s", args.Category)
		}
		agents = s.engine.ListAgentsByCategory(category)
	} else {
		agents = s.engine.ListAgents()
	}
	if agents == nil {
		agents = []orchestrator.AgentCapability{}
	}
	for i := range agents {
		if agents[i].Specializations == nil {
			agents[i].Specializations = []string{}
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d agents", len(agents))}},
	}, listAgentsOutput{Agents: agents, Count: len(agents)}, nil
}
