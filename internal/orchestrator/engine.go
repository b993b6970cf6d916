package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/dispatchd/internal/orchestrator"

// Engine is the decision orchestrator. It owns the capability registry and
// the learning history and composes gates, optimizer and autonomy
// classifier into one decision per task.
//
// Engine is safe for concurrent use. Each MakeDecision call works on a
// snapshot of the registry taken at entry.
type Engine struct {
	registry  *Registry
	history   HistoryStore
	checker   *PolicyChecker
	optimizer *Optimizer
	reporter  ErrorReporter
	events    EventRecorder
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHistoryStore replaces the in-memory learning history.
func WithHistoryStore(store HistoryStore) Option {
	return func(e *Engine) {
		if store != nil {
			e.history = store
		}
	}
}

// WithErrorReporter sets the collaborator that receives internal failures.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(e *Engine) {
		e.reporter = reporter
	}
}

// WithEventRecorder sets the audit sink for decisions and outcomes.
func WithEventRecorder(recorder EventRecorder) Option {
	return func(e *Engine) {
		e.events = recorder
	}
}

// WithGates replaces the default policy gates.
func WithGates(gates ...PolicyGate) Option {
	return func(e *Engine) {
		e.checker = NewPolicyChecker(gates...)
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine creates an engine with an empty registry.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		registry:  NewRegistry(),
		history:   NewMemoryHistoryStore(),
		checker:   NewPolicyChecker(),
		optimizer: NewOptimizer(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		metrics:   NewMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's capability registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RegisterAgent registers or overwrites an agent and seeds its history with
// the static success rate. The registry is only touched once the seed is
// stored, so a failed call leaves any previous registration as it was.
func (e *Engine) RegisterAgent(ctx context.Context, capability AgentCapability) error {
	if err := capability.Validate(); err != nil {
		return err
	}
	if err := e.history.Reset(ctx, capability.ID, float64(capability.SuccessRate)); err != nil {
		return fmt.Errorf("seed history for %s: %w", capability.ID, err)
	}
	added, err := e.registry.register(capability)
	if err != nil {
		return err
	}

	if added {
		e.metrics.RegisteredAgents.Inc()
	}
	e.logger.Debug("agent registered",
		zap.String("agent_id", capability.ID),
		zap.String("category", string(capability.Category)),
		zap.Int64("cost_per_call", capability.CostPerCall),
		zap.Int("trust_score", capability.TrustScore),
		zap.Int("success_rate", capability.SuccessRate))
	return nil
}

// ListAgents returns every registered agent.
func (e *Engine) ListAgents() []AgentCapability {
	return e.registry.List()
}

// ListAgentsByCategory returns the agents in category.
func (e *Engine) ListAgentsByCategory(category Category) []AgentCapability {
	return e.registry.ListByCategory(category)
}

// MakeDecision picks an agent for execCtx, checks policies and assigns an
// autonomy level.
//
// It fails with ErrNoSuitableAgent when no agent is feasible and with
// ErrInvalidContext for a malformed context. Any other failure, including
// a panic, is reported to the ErrorReporter and returned wrapped in
// ErrInternal. A cancelled or expired ctx is the caller's doing and is not
// reported, even when it surfaces through a wrapped internal error.
func (e *Engine) MakeDecision(ctx context.Context, execCtx ExecutionContext) (decision *Decision, err error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "dispatch.make_decision",
		trace.WithAttributes(
			attribute.String("dispatch.capability", execCtx.Capability),
			attribute.String("dispatch.task_id", execCtx.TaskID),
			attribute.Int64("dispatch.budget", execCtx.Budget),
		))
	defer func() {
		if r := recover(); r != nil {
			decision = nil
			err = fmt.Errorf("%w: panic: %v", ErrInternal, r)
		}
		if err != nil {
			e.observeFailure(ctx, span, err)
		}
		e.metrics.DecisionDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	if err := execCtx.Validate(); err != nil {
		return nil, err
	}

	candidates := FilterFeasible(e.registry.Snapshot(), execCtx)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for capability: %s", ErrNoSuitableAgent, execCtx.Capability)
	}

	violations, err := e.checker.Check(ctx, execCtx, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: policy check: %w", ErrInternal, err)
	}

	selection, err := e.optimizer.Select(ctx, candidates, execCtx, e.history)
	if err != nil {
		return nil, fmt.Errorf("%w: optimize: %w", ErrInternal, err)
	}
	if math.IsNaN(selection.Score) {
		return nil, fmt.Errorf("%w: optimizer produced NaN score for %s", ErrInternal, selection.AgentID)
	}

	level := ClassifyAutonomy(selection.EstimatedCost, violations, selection.ExpectedQuality)

	decision = &Decision{
		DecisionID:    uuid.New().String(),
		TaskID:        execCtx.TaskID,
		SelectedAgent: selection,
		ShouldProceed: !hasCriticalViolation(violations),
		Reasoning:     buildReasoning(selection, violations),
		Policies:      violations,
		AutonomyLevel: level,
		DecidedAt:     e.now().UTC(),
	}

	span.SetAttributes(
		attribute.String("dispatch.agent_id", selection.AgentID),
		attribute.String("dispatch.autonomy_level", string(level)),
		attribute.Int("dispatch.violations", len(violations)),
		attribute.Bool("dispatch.should_proceed", decision.ShouldProceed),
	)
	e.metrics.DecisionsTotal.WithLabelValues(string(level)).Inc()
	e.metrics.observeViolations(violations)

	e.logger.Info("decision made",
		zap.String("decision_id", decision.DecisionID),
		zap.String("task_id", execCtx.TaskID),
		zap.String("user_id", execCtx.UserID),
		zap.String("capability", execCtx.Capability),
		zap.String("agent_id", selection.AgentID),
		zap.Float64("score", selection.Score),
		zap.String("autonomy_level", string(level)),
		zap.Int("violations", len(violations)),
		zap.Bool("should_proceed", decision.ShouldProceed))

	if e.events != nil {
		if perr := e.events.RecordDecision(ctx, execCtx, decision); perr != nil {
			e.logger.Warn("failed to publish decision", zap.String("decision_id", decision.DecisionID), zap.Error(perr))
		}
	}

	return decision, nil
}

// observeFailure classifies a failed decision for metrics, tracing and error
// reporting. Only internal failures reach the ErrorReporter.
func (e *Engine) observeFailure(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case errors.Is(err, ErrNoSuitableAgent):
		e.metrics.FailuresTotal.WithLabelValues("no_suitable_agent").Inc()
		e.logger.Warn("no suitable agent", zap.Error(err))
	case errors.Is(err, ErrInvalidContext):
		e.metrics.FailuresTotal.WithLabelValues("invalid_context").Inc()
		e.logger.Warn("invalid execution context", zap.Error(err))
	case isContextError(err):
		e.metrics.FailuresTotal.WithLabelValues("canceled").Inc()
		e.logger.Warn("decision abandoned", zap.Error(err))
	default:
		e.metrics.FailuresTotal.WithLabelValues("internal").Inc()
		e.logger.Error("decision failed", zap.Error(err))
		e.report(ctx, err)
	}
}

func (e *Engine) report(ctx context.Context, err error) {
	captureException(ctx, e.reporter, e.logger, err)
}

// captureException forwards err to reporter without letting a misbehaving
// reporter affect the caller.
func captureException(ctx context.Context, reporter ErrorReporter, logger *zap.Logger, err error) {
	if reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("error reporter panicked", zap.Any("panic", r))
		}
	}()
	reporter.CaptureException(ctx, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RecordOutcome appends a post-execution quality score to the agent's
// rolling history.
func (e *Engine) RecordOutcome(ctx context.Context, agentID string, success bool, quality float64) error {
	if math.IsNaN(quality) || quality < 0 || quality > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidQuality, quality)
	}
	if err := e.history.Append(ctx, agentID, quality); err != nil {
		return fmt.Errorf("append history for %s: %w", agentID, err)
	}

	result := "failure"
	if success {
		result = "success"
	}
	e.metrics.OutcomesTotal.WithLabelValues(result).Inc()
	e.metrics.OutcomeQuality.Observe(quality)

	e.logger.Debug("outcome recorded",
		zap.String("agent_id", agentID),
		zap.Bool("success", success),
		zap.Float64("quality", quality))

	if e.events != nil {
		outcome := Outcome{AgentID: agentID, Success: success, Quality: quality, RecordedAt: e.now().UTC()}
		if perr := e.events.RecordOutcome(ctx, outcome); perr != nil {
			e.logger.Warn("failed to publish outcome", zap.String("agent_id", agentID), zap.Error(perr))
		}
	}
	return nil
}

// AgentMetrics returns learned performance for a registered agent.
func (e *Engine) AgentMetrics(ctx context.Context, agentID string) (*AgentMetrics, error) {
	agent, ok := e.registry.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	history, err := e.history.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", agentID, err)
	}

	avg := float64(agent.SuccessRate)
	if len(history) > 0 {
		avg = mean(history)
	}

	return &AgentMetrics{
		Agent:          agent,
		AvgQuality:     int(math.Round(avg)),
		ExecutionCount: len(history),
		Trend:          CalculateTrend(history),
	}, nil
}

// buildReasoning renders the human-readable explanation for a decision.
func buildReasoning(selection AgentSelection, violations []PolicyViolation) string {
	parts := []string{
		fmt.Sprintf("Selected agent: %s (%s)", selection.AgentID, selection.Reason),
		fmt.Sprintf("Estimated cost: %s", formatCents(selection.EstimatedCost)),
		fmt.Sprintf("Expected quality: %d%%", selection.ExpectedQuality),
	}

	if len(violations) > 0 {
		parts = append(parts, fmt.Sprintf("\nPolicy violations: %d", len(violations)))
		for _, v := range violations {
			parts = append(parts, fmt.Sprintf("  - [%s] %s", strings.ToUpper(string(v.Severity)), v.Message))
		}
	}

	return strings.Join(parts, "\n")
}
