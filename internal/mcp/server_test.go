package mcp

import (
	"context"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
	"github.com/fyrsmithlabs/dispatchd/internal/telemetry"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Engine, *telemetry.TestTelemetry) {
	t.Helper()
	ctx := context.Background()

	engine := orchestrator.NewEngine()
	require.NoError(t, engine.RegisterAgent(ctx, orchestrator.AgentCapability{
		ID: "writer-1", Category: orchestrator.CategoryContent, CostPerCall: 50,
		TrustScore: 90, SuccessRate: 85, Specializations: []string{"summarize"},
	}))
	require.NoError(t, engine.RegisterAgent(ctx, orchestrator.AgentCapability{
		ID: "coder-1", Category: orchestrator.CategoryCode, CostPerCall: 200,
		TrustScore: 80, SuccessRate: 75,
	}))

	s, err := NewServer(nil, engine)
	require.NoError(t, err)

	tel := telemetry.NewTestTelemetry()
	s.metrics = newMetrics(tel.Meter(instrumentationName), zap.NewNop())
	return s, engine, tel
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is required")
}

func TestHandleDecide(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, out, err := s.handleDecide(context.Background(), nil, decideInput{
		UserID: "u1", TaskID: "t1", Capability: "summarize",
		Budget: 1000, TimeLimit: 3000, RequiredQuality: 70,
		Constraints: map[string]string{"x-region": "eu"},
	})
	require.NoError(t, err)

	assert.Equal(t, "writer-1", out.AgentID)
	assert.Equal(t, int64(50), out.EstimatedCost)
	assert.Equal(t, 85, out.ExpectedQuality)
	assert.True(t, out.ShouldProceed)
	assert.Equal(t, string(orchestrator.AutonomySupervised), out.AutonomyLevel)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, orchestrator.PolicyTime, out.Violations[0].PolicyID)
	assert.Equal(t, "warning", out.Violations[0].Severity)

	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, out.Reasoning, text.Text)
}

func TestHandleDecide_NoSuitableAgent(t *testing.T) {
	s, _, tel := newTestServer(t)

	_, _, err := s.handleDecide(context.Background(), nil, decideInput{
		Capability: "translate", Budget: 1000, TimeLimit: 30000, RequiredQuality: 50,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrNoSuitableAgent)

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)
	errs, ok := telemetry.FindMetric(rm, "dispatchd.mcp.tool.errors_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), telemetry.SumInt64(errs,
		attribute.String("tool", toolDecide),
		attribute.String("reason", "no_suitable_agent")))
}

func TestHandleRecordOutcome(t *testing.T) {
	s, engine, _ := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.handleRecordOutcome(ctx, nil, recordOutcomeInput{AgentID: "writer-1", Success: true, Quality: 95})
	require.NoError(t, err)
	assert.True(t, out.Recorded)

	metrics, err := engine.AgentMetrics(ctx, "writer-1")
	require.NoError(t, err)
	assert.Equal(t, 90, metrics.AvgQuality)

	_, _, err = s.handleRecordOutcome(ctx, nil, recordOutcomeInput{AgentID: "writer-1", Quality: 150})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidQuality)

	_, _, err = s.handleRecordOutcome(ctx, nil, recordOutcomeInput{Quality: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_id is required")
}

func TestHandleAgentMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)

	_, out, err := s.handleAgentMetrics(context.Background(), nil, agentMetricsInput{AgentID: "coder-1"})
	require.NoError(t, err)
	assert.Equal(t, agentMetricsOutput{
		AgentID: "coder-1", Category: "code", AvgQuality: 75, ExecutionCount: 1, Trend: "stable",
	}, out)

	_, _, err = s.handleAgentMetrics(context.Background(), nil, agentMetricsInput{AgentID: "ghost"})
	assert.ErrorIs(t, err, orchestrator.ErrAgentNotFound)
}

func TestHandleListAgents(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	_, all, err := s.handleListAgents(ctx, nil, listAgentsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Count)
	assert.Equal(t, []string{}, all.Agents[1].Specializations)

	_, code, err := s.handleListAgents(ctx, nil, listAgentsInput{Category: "code"})
	require.NoError(t, err)
	require.Equal(t, 1, code.Count)
	assert.Equal(t, "coder-1", code.Agents[0].ID)

	_, none, err := s.handleListAgents(ctx, nil, listAgentsInput{Category: "data"})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Count)
	assert.NotNil(t, none.Agents)

	_, _, err = s.handleListAgents(ctx, nil, listAgentsInput{Category: "painting"})
	assert.Error(t, err)
}

func TestServer_ToolsOverTransport(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.mcp.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{toolAgentMetrics, toolDecide, toolListAgents, toolRecordOutcome}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: toolAgentMetrics,
		Arguments: map[string]any{
			"agent_id": "writer-1",
		},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, "", categorizeError(nil))
	assert.Equal(t, "no_suitable_agent", categorizeError(orchestrator.ErrNoSuitableAgent))
	assert.Equal(t, "not_found", categorizeError(orchestrator.ErrAgentNotFound))
	assert.Equal(t, "validation_error", categorizeError(orchestrator.ErrInvalidContext))
	assert.Equal(t, "timeout", categorizeError(context.DeadlineExceeded))
	assert.Equal(t, "internal_error", categorizeError(orchestrator.ErrInternal))
}
