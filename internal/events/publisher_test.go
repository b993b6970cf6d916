package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// startTestNATSServer starts an embedded NATS server on a random port.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func nextMessage(t *testing.T, sub *nats.Subscription) *nats.Msg {
	t.Helper()
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	return msg
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"summarize", "summarize"},
		{"Code Review", "code_review"},
		{"a.b*c>d", "a_b_c_d"},
		{"  agent-1 ", "agent-1"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectToken(tt.in))
		})
	}
}

func TestPublisher_Subjects(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	assert.Equal(t, "dispatch.decisions.code_review", p.DecisionSubject("code review"))
	assert.Equal(t, "dispatch.outcomes.a1", p.OutcomeSubject("a1"))

	p = NewPublisher(nil, "prod.dispatch", nil)
	assert.Equal(t, "prod.dispatch.outcomes.a1", p.OutcomeSubject("a1"))
}

func TestPublisher_RecordDecision(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	sub, err := nc.SubscribeSync("dispatch.decisions.>")
	require.NoError(t, err)

	p := NewPublisher(connect(t, server), "", nil)
	decidedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	decision := &orchestrator.Decision{
		DecisionID: "d-1",
		TaskID:     "t1",
		SelectedAgent: orchestrator.AgentSelection{
			AgentID: "a1", EstimatedCost: 50, ExpectedQuality: 85, Score: 0.91,
		},
		ShouldProceed: true,
		Policies: []orchestrator.PolicyViolation{{
			PolicyID: orchestrator.PolicyTime, Severity: orchestrator.SeverityWarning, Message: "tight",
		}},
		AutonomyLevel: orchestrator.AutonomySupervised,
		DecidedAt:     decidedAt,
	}
	execCtx := orchestrator.ExecutionContext{UserID: "u1", TaskID: "t1", Capability: "Summarize"}

	require.NoError(t, p.RecordDecision(context.Background(), execCtx, decision))
	require.NoError(t, p.Flush(time.Second))

	msg := nextMessage(t, sub)
	assert.Equal(t, "dispatch.decisions.summarize", msg.Subject)

	var got DecisionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "d-1", got.DecisionID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Summarize", got.Capability)
	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, orchestrator.AutonomySupervised, got.AutonomyLevel)
	require.Len(t, got.Violations, 1)
	assert.Equal(t, orchestrator.PolicyTime, got.Violations[0].PolicyID)
	assert.True(t, decidedAt.Equal(got.DecidedAt))
}

func TestPublisher_RecordOutcome(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	sub, err := nc.SubscribeSync("dispatch.outcomes.a1")
	require.NoError(t, err)

	p := NewPublisher(connect(t, server), "dispatch", nil)
	require.NoError(t, p.RecordOutcome(context.Background(), orchestrator.Outcome{
		AgentID: "a1", Success: true, Quality: 92,
	}))
	require.NoError(t, p.Flush(time.Second))

	var got orchestrator.Outcome
	require.NoError(t, json.Unmarshal(nextMessage(t, sub).Data, &got))
	assert.Equal(t, "a1", got.AgentID)
	assert.True(t, got.Success)
	assert.InDelta(t, 92.0, got.Quality, 1e-9)
}

func TestPublisher_EngineIntegration(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	sub, err := nc.SubscribeSync("dispatch.>")
	require.NoError(t, err)

	p := NewPublisher(connect(t, server), "", nil)
	engine := orchestrator.NewEngine(orchestrator.WithEventRecorder(p))
	ctx := context.Background()
	require.NoError(t, engine.RegisterAgent(ctx, orchestrator.AgentCapability{
		ID: "a1", Category: orchestrator.CategoryContent, CostPerCall: 50,
		TrustScore: 90, SuccessRate: 85, Specializations: []string{"summarize"},
	}))

	decision, err := engine.MakeDecision(ctx, orchestrator.ExecutionContext{
		UserID: "u1", TaskID: "t1", Capability: "summarize",
		Budget: 1000, TimeLimit: 30000, RequiredQuality: 70,
	})
	require.NoError(t, err)
	require.NoError(t, engine.RecordOutcome(ctx, "a1", true, 90))
	require.NoError(t, p.Flush(time.Second))

	first := nextMessage(t, sub)
	assert.Equal(t, "dispatch.decisions.summarize", first.Subject)
	var event DecisionEvent
	require.NoError(t, json.Unmarshal(first.Data, &event))
	assert.Equal(t, decision.DecisionID, event.DecisionID)

	assert.Equal(t, "dispatch.outcomes.a1", nextMessage(t, sub).Subject)
}

func TestPublisher_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	p := NewPublisher(nc, "", nil)
	err = p.RecordOutcome(context.Background(), orchestrator.Outcome{AgentID: "a1"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Flush(time.Second), ErrClosed)
	assert.NoError(t, p.Close())
}

func TestPublisher_CanceledContext(t *testing.T) {
	server := startTestNATSServer(t)
	p := NewPublisher(connect(t, server), "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.RecordOutcome(ctx, orchestrator.Outcome{AgentID: "a1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_NilDecision(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	assert.Error(t, p.RecordDecision(context.Background(), orchestrator.ExecutionContext{}, nil))
}

func TestConnect_OwnsConnection(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(config.EventsConfig{NATSURL: server.ClientURL(), SubjectPrefix: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x.outcomes.a1", p.OutcomeSubject("a1"))

	require.NoError(t, p.Close())
	assert.Eventually(t, p.nc.IsClosed, 2*time.Second, 10*time.Millisecond)
}
