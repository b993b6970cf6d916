package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrApprovalRequired is returned when a decision needs a human sign-off
// before the executor may run it.
var ErrApprovalRequired = errors.New("operation requires human approval")

// EnforcementLevel controls how policy violations affect execution.
type EnforcementLevel string

const (
	// EnforcementStrict fails on critical and error violations and logs warnings.
	EnforcementStrict EnforcementLevel = "strict"

	// EnforcementModerate records critical violations but keeps going.
	EnforcementModerate EnforcementLevel = "moderate"

	// EnforcementLenient behaves like moderate without logging warnings.
	EnforcementLenient EnforcementLevel = "lenient"
)

// Valid reports whether l is a known enforcement level.
func (l EnforcementLevel) Valid() bool {
	switch l {
	case EnforcementStrict, EnforcementModerate, EnforcementLenient:
		return true
	}
	return false
}

// Executor defaults.
const (
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Second
	DefaultCostCap          = 10000
	DefaultOperationHistory = 1000
)

// ExecutorConfig configures the autonomy loop.
type ExecutorConfig struct {
	MaxRetries       int
	RetryDelay       time.Duration
	LearningEnabled  bool
	EnforcementLevel EnforcementLevel

	// CostCap is the maximum estimated cost per operation, in cents.
	CostCap int64

	// OpsPerSecond limits operation starts. Zero disables limiting.
	OpsPerSecond float64

	// HistoryLimit bounds the operation history kept in memory.
	HistoryLimit int
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:       DefaultMaxRetries,
		RetryDelay:       DefaultRetryDelay,
		LearningEnabled:  true,
		EnforcementLevel: EnforcementStrict,
		CostCap:          DefaultCostCap,
		HistoryLimit:     DefaultOperationHistory,
	}
}

// Validate checks the configuration.
func (c ExecutorConfig) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be >= 0, got %s", c.RetryDelay)
	}
	if !c.EnforcementLevel.Valid() {
		return fmt.Errorf("unknown enforcement level %q", c.EnforcementLevel)
	}
	if c.CostCap < 0 {
		return fmt.Errorf("cost_cap must be >= 0, got %d", c.CostCap)
	}
	if c.OpsPerSecond < 0 {
		return fmt.Errorf("ops_per_second must be >= 0, got %v", c.OpsPerSecond)
	}
	return nil
}

// Dispatcher is the part of Engine the executor depends on.
type Dispatcher interface {
	MakeDecision(ctx context.Context, execCtx ExecutionContext) (*Decision, error)
	RecordOutcome(ctx context.Context, agentID string, success bool, quality float64) error
}

// InvocationResult is what an agent returns.
type InvocationResult struct {
	Output any

	// Quality is the agent's self-reported quality, if any.
	Quality *float64
}

// AgentInvoker runs the selected agent.
type AgentInvoker interface {
	Invoke(ctx context.Context, decision *Decision, execCtx ExecutionContext) (*InvocationResult, error)
}

// AgentInvokerFunc adapts a function to AgentInvoker.
type AgentInvokerFunc func(ctx context.Context, decision *Decision, execCtx ExecutionContext) (*InvocationResult, error)

// Invoke calls f.
func (f AgentInvokerFunc) Invoke(ctx context.Context, decision *Decision, execCtx ExecutionContext) (*InvocationResult, error) {
	return f(ctx, decision, execCtx)
}

// AcknowledgeInvoker is a stand-in invoker that acknowledges the routing
// without running anything. It is used when no agent backend is wired.
type AcknowledgeInvoker struct{}

// Invoke returns the routing acknowledgement.
func (AcknowledgeInvoker) Invoke(ctx context.Context, decision *Decision, execCtx ExecutionContext) (*InvocationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &InvocationResult{
		Output: map[string]any{
			"agent_id":       decision.SelectedAgent.AgentID,
			"autonomy_level": decision.AutonomyLevel,
			"completed_at":   time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// OperationResult records one executor run.
type OperationResult struct {
	OperationID     string      `json:"operation_id"`
	TaskID          string      `json:"task_id,omitempty"`
	Success         bool        `json:"success"`
	Output          any         `json:"output"`
	Cost            int64       `json:"cost"`
	ExecutionTimeMS int64       `json:"execution_time_ms"`
	Attempts        int         `json:"attempts"`
	Decisions       []*Decision `json:"decisions_applied"`
	Errors          []string    `json:"errors"`
	CompletedAt     time.Time   `json:"completed_at"`
}

// OperationStats summarizes the operation history.
type OperationStats struct {
	TotalOperations int     `json:"total_operations"`
	SuccessRate     float64 `json:"success_rate"`
	TotalCost       int64   `json:"total_cost"`
	AvgExecutionMS  float64 `json:"avg_execution_ms"`
}

// String renders stats as "N ops, 66.67% success, 1.50$ spent, 12ms avg".
func (s OperationStats) String() string {
	return fmt.Sprintf("%d ops, %.2f%% success, %s spent, %.0fms avg",
		s.TotalOperations, s.SuccessRate, formatCents(s.TotalCost), s.AvgExecutionMS)
}

// Executor runs operations end to end: decide, enforce, invoke, learn.
type Executor struct {
	dispatcher Dispatcher
	invoker    AgentInvoker
	config     ExecutorConfig
	limiter    *rate.Limiter
	reporter   ErrorReporter
	redactor   Redactor
	metrics    *Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	history []OperationResult

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(x *Executor) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// Redactor strips credentials from agent output and error text before a
// result is stored or returned.
type Redactor interface {
	Redact(s string) string
	RedactValue(v any) any
}

// WithExecutorRedactor sets the redactor applied to every result.
func WithExecutorRedactor(redactor Redactor) ExecutorOption {
	return func(x *Executor) {
		x.redactor = redactor
	}
}

// WithExecutorReporter sets the collaborator that receives failed operations.
func WithExecutorReporter(reporter ErrorReporter) ExecutorOption {
	return func(x *Executor) {
		x.reporter = reporter
	}
}

// NewExecutor creates an executor. A nil invoker uses AcknowledgeInvoker.
func NewExecutor(dispatcher Dispatcher, invoker AgentInvoker, cfg ExecutorConfig, opts ...ExecutorOption) (*Executor, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	if invoker == nil {
		invoker = AcknowledgeInvoker{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultOperationHistory
	}

	x := &Executor{
		dispatcher: dispatcher,
		invoker:    invoker,
		config:     cfg,
		metrics:    NewMetrics(),
		logger:     zap.NewNop(),
		sleep:      sleepContext,
	}
	if cfg.OpsPerSecond > 0 {
		burst := int(cfg.OpsPerSecond)
		if burst < 1 {
			burst = 1
		}
		x.limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Config returns the executor configuration.
func (x *Executor) Config() ExecutorConfig {
	return x.config
}

// Execute runs one operation. It always returns a result; failures are
// reported through Success=false and Errors, and the first failure cause
// is also returned as err.
func (x *Executor) Execute(ctx context.Context, execCtx ExecutionContext) (*OperationResult, error) {
	start := time.Now()
	result := &OperationResult{
		OperationID: uuid.New().String(),
		TaskID:      execCtx.TaskID,
		Decisions:   []*Decision{},
		Errors:      []string{},
	}

	err := x.run(ctx, execCtx, result)

	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	result.CompletedAt = time.Now().UTC()

	if err != nil {
		result.Success = false
		result.Output = nil
		result.Cost = 0
		result.Errors = append(result.Errors, err.Error())
		x.metrics.OperationsTotal.WithLabelValues("failure").Inc()
		x.logger.Warn("operation failed",
			zap.String("operation_id", result.OperationID),
			zap.String("task_id", execCtx.TaskID),
			zap.Int("attempts", result.Attempts),
			zap.Error(err))
		if reportable(err) {
			captureException(ctx, x.reporter, x.logger, err)
		}
	} else {
		result.Success = true
		x.metrics.OperationsTotal.WithLabelValues("success").Inc()
		x.logger.Info("operation completed",
			zap.String("operation_id", result.OperationID),
			zap.String("task_id", execCtx.TaskID),
			zap.Int64("cost", result.Cost),
			zap.Int64("execution_time_ms", result.ExecutionTimeMS))
	}

	if x.redactor != nil {
		result.Output = x.redactor.RedactValue(result.Output)
		for i, msg := range result.Errors {
			result.Errors[i] = x.redactor.Redact(msg)
		}
	}

	x.remember(*result)
	return result, err
}

// reportable reports whether a failed operation should reach the
// ErrorReporter. Decision failures were already classified (and internal
// ones reported) by the engine; the rest are the caller's doing.
func reportable(err error) bool {
	switch {
	case errors.Is(err, ErrInternal),
		errors.Is(err, ErrNoSuitableAgent),
		errors.Is(err, ErrInvalidContext),
		errors.Is(err, ErrApprovalRequired),
		isContextError(err):
		return false
	}
	return true
}

func (x *Executor) run(ctx context.Context, execCtx ExecutionContext, result *OperationResult) error {
	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}
	}

	decision, err := x.dispatcher.MakeDecision(ctx, execCtx)
	if err != nil {
		return err
	}
	result.Decisions = append(result.Decisions, decision)

	if !decision.ShouldProceed {
		result.Errors = append(result.Errors, "Autonomy blocked: "+decision.Reasoning)
		if decision.AutonomyLevel == AutonomyApprovalRequired {
			return ErrApprovalRequired
		}
	}

	if policyErrors := x.enforcePolicies(decision); len(policyErrors) > 0 {
		result.Errors = append(result.Errors, policyErrors...)
		if x.config.EnforcementLevel == EnforcementStrict {
			return fmt.Errorf("policy violations: %s", strings.Join(policyErrors, ", "))
		}
	}

	selected := decision.SelectedAgent
	if selected.EstimatedCost > x.config.CostCap {
		return fmt.Errorf("operation cost %d¢ exceeds cap %d¢", selected.EstimatedCost, x.config.CostCap)
	}

	invocation, err := x.invokeWithRetry(ctx, decision, execCtx, result)
	if err != nil {
		return err
	}

	if x.config.LearningEnabled {
		quality := float64(selected.ExpectedQuality)
		if invocation.Quality != nil {
			quality = *invocation.Quality
		}
		if err := x.dispatcher.RecordOutcome(ctx, selected.AgentID, true, quality); err != nil {
			x.logger.Warn("failed to record outcome",
				zap.String("agent_id", selected.AgentID),
				zap.Error(err))
		}
	}

	result.Output = invocation.Output
	result.Cost = selected.EstimatedCost
	return nil
}

// invokeWithRetry calls the invoker up to MaxRetries times.
func (x *Executor) invokeWithRetry(ctx context.Context, decision *Decision, execCtx ExecutionContext, result *OperationResult) (*InvocationResult, error) {
	agentID := decision.SelectedAgent.AgentID

	var lastErr error
	for attempt := 1; attempt <= x.config.MaxRetries; attempt++ {
		result.Attempts = attempt

		x.logger.Debug("invoking agent",
			zap.String("agent_id", agentID),
			zap.String("autonomy_level", string(decision.AutonomyLevel)),
			zap.Int("attempt", attempt))

		out, err := x.invoker.Invoke(ctx, decision, execCtx)
		if err == nil {
			if out == nil {
				out = &InvocationResult{}
			}
			return out, nil
		}
		lastErr = err

		if attempt < x.config.MaxRetries {
			x.logger.Warn("agent invocation failed, retrying",
				zap.String("agent_id", agentID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if serr := x.sleep(ctx, x.config.RetryDelay); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, fmt.Errorf("agent %s failed after %d attempts: %w", agentID, x.config.MaxRetries, lastErr)
}

// enforcePolicies returns the violations that count as errors at the
// configured enforcement level.
func (x *Executor) enforcePolicies(decision *Decision) []string {
	var errs []string
	for _, v := range filterSeverity(decision.Policies, SeverityCritical) {
		errs = append(errs, "[CRITICAL] "+v.Message)
	}

	if x.config.EnforcementLevel != EnforcementStrict {
		return errs
	}

	for _, v := range filterSeverity(decision.Policies, SeverityError) {
		errs = append(errs, "[ERROR] "+v.Message)
	}
	if warnings := filterSeverity(decision.Policies, SeverityWarning); len(warnings) > 0 {
		x.logger.Warn("policy warnings",
			zap.String("decision_id", decision.DecisionID),
			zap.String("warnings", describeViolations(warnings)))
	}
	return errs
}

func (x *Executor) remember(result OperationResult) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.history = append(x.history, result)
	if over := len(x.history) - x.config.HistoryLimit; over > 0 {
		x.history = append(x.history[:0:0], x.history[over:]...)
	}
}

// History returns up to limit of the most recent operations, oldest first.
// A non-positive limit returns 100.
func (x *Executor) History(limit int) []OperationResult {
	if limit <= 0 {
		limit = 100
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	start := len(x.history) - limit
	if start < 0 {
		start = 0
	}
	return append([]OperationResult(nil), x.history[start:]...)
}

// Stats summarizes the operation history.
func (x *Executor) Stats() OperationStats {
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := OperationStats{TotalOperations: len(x.history)}
	if stats.TotalOperations == 0 {
		return stats
	}

	var successful int
	var elapsed int64
	for _, r := range x.history {
		if r.Success {
			successful++
		}
		stats.TotalCost += r.Cost
		elapsed += r.ExecutionTimeMS
	}
	total := float64(stats.TotalOperations)
	stats.SuccessRate = float64(successful) / total * 100
	stats.AvgExecutionMS = float64(elapsed) / total
	return stats
}

// ClearHistory drops the operation history.
func (x *Executor) ClearHistory() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.history = nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
