package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the engine.
var (
	// ErrNoSuitableAgent is the hard failure when no registered agent is
	// feasible for the requested capability, budget and quality.
	ErrNoSuitableAgent = errors.New("no suitable agent")

	// ErrInvalidContext indicates a malformed ExecutionContext.
	ErrInvalidContext = errors.New("invalid execution context")

	// ErrInvalidCapability indicates a malformed AgentCapability.
	ErrInvalidCapability = errors.New("invalid agent capability")

	// ErrInvalidQuality indicates a quality score outside 0-100.
	ErrInvalidQuality = errors.New("quality score must be between 0 and 100")

	// ErrAgentNotFound is returned when an agent id is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInternal wraps unexpected failures inside the engine.
	ErrInternal = errors.New("internal dispatch error")
)

// Category is the closed set of agent categories.
type Category string

const (
	CategoryCode       Category = "code"
	CategoryContent    Category = "content"
	CategoryData       Category = "data"
	CategoryAnalysis   Category = "analysis"
	CategoryAutomation Category = "automation"
	CategoryReasoning  Category = "reasoning"
)

// AllCategories returns every valid category.
func AllCategories() []Category {
	return []Category{
		CategoryCode, CategoryContent, CategoryData,
		CategoryAnalysis, CategoryAutomation, CategoryReasoning,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// AgentCapability describes a registered executor.
type AgentCapability struct {
	ID          string   `json:"id" koanf:"id"`
	Name        string   `json:"name" koanf:"name"`
	Category    Category `json:"category" koanf:"category"`
	Description string   `json:"description,omitempty" koanf:"description"`

	// CostPerCall is in cents.
	CostPerCall int64 `json:"cost_per_call" koanf:"cost_per_call"`

	// TrustScore is an externally assigned reputation, 0-100.
	TrustScore int `json:"trust_score" koanf:"trust_score"`

	// SuccessRate is the baseline quality before any learning, 0-100.
	SuccessRate int `json:"success_rate" koanf:"success_rate"`

	// MaxContextTokens is a feasibility hint only; it is not scored.
	MaxContextTokens int `json:"max_context_tokens" koanf:"max_context_tokens"`

	Specializations []string `json:"specializations" koanf:"specializations"`
}

// Validate checks the capability invariants.
func (a AgentCapability) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCapability)
	}
	if !a.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidCapability, a.Category)
	}
	if a.CostPerCall < 0 {
		return fmt.Errorf("%w: cost_per_call must be >= 0, got %d", ErrInvalidCapability, a.CostPerCall)
	}
	if a.TrustScore < 0 || a.TrustScore > 100 {
		return fmt.Errorf("%w: trust_score must be 0-100, got %d", ErrInvalidCapability, a.TrustScore)
	}
	if a.SuccessRate < 0 || a.SuccessRate > 100 {
		return fmt.Errorf("%w: success_rate must be 0-100, got %d", ErrInvalidCapability, a.SuccessRate)
	}
	return nil
}

// clone returns a copy that shares no slices with a.
func (a AgentCapability) clone() AgentCapability {
	out := a
	out.Specializations = append([]string(nil), a.Specializations...)
	return out
}

// ConstraintKey names an entry in ExecutionContext.Constraints.
type ConstraintKey string

// Recognized constraint keys. The engine carries them through untouched.
const (
	ConstraintRegion      ConstraintKey = "region"
	ConstraintLanguage    ConstraintKey = "language"
	ConstraintPriority    ConstraintKey = "priority"
	ConstraintDeadline    ConstraintKey = "deadline"
	ConstraintContentType ConstraintKey = "content_type"
)

// ExtensionPrefix marks caller-defined constraint keys.
const ExtensionPrefix = "x-"

// Known reports whether k is recognized or uses the extension prefix.
func (k ConstraintKey) Known() bool {
	switch k {
	case ConstraintRegion, ConstraintLanguage, ConstraintPriority, ConstraintDeadline, ConstraintContentType:
		return true
	}
	return strings.HasPrefix(string(k), ExtensionPrefix) && len(k) > len(ExtensionPrefix)
}

// Constraints is an opaque bag of per-task hints.
type Constraints map[ConstraintKey]string

// Validate rejects keys that are neither recognized nor extensions.
func (c Constraints) Validate() error {
	for k := range c {
		if !k.Known() {
			return fmt.Errorf("unknown constraint key %q (use the %q prefix for extensions)", k, ExtensionPrefix)
		}
	}
	return nil
}

// ExecutionContext is one task's request envelope.
type ExecutionContext struct {
	UserID     string `json:"user_id"`
	TaskID     string `json:"task_id"`
	Capability string `json:"capability"`

	// Budget is the remaining budget in cents.
	Budget int64 `json:"budget"`

	// TimeLimit is in milliseconds. Advisory only.
	TimeLimit int64 `json:"time_limit"`

	// RequiredQuality is the minimum acceptable quality, 0-100.
	RequiredQuality int `json:"required_quality"`

	Constraints Constraints `json:"constraints,omitempty"`
}

// Validate checks the context invariants.
func (c ExecutionContext) Validate() error {
	if c.Budget < 0 {
		return fmt.Errorf("%w: budget must be >= 0, got %d", ErrInvalidContext, c.Budget)
	}
	if c.TimeLimit <= 0 {
		return fmt.Errorf("%w: time_limit must be > 0, got %d", ErrInvalidContext, c.TimeLimit)
	}
	if c.RequiredQuality < 0 || c.RequiredQuality > 100 {
		return fmt.Errorf("%w: required_quality must be 0-100, got %d", ErrInvalidContext, c.RequiredQuality)
	}
	if err := c.Constraints.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	return nil
}

// Severity indicates how serious a violation is
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// rank orders severities: critical > error > warning.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Policy identifiers emitted by the built-in gates.
const (
	PolicyBudget  = "budget_constraint"
	PolicyTime    = "time_constraint"
	PolicyQuality = "quality_requirement"
)

// PolicyViolation is one flagged rule breach.
type PolicyViolation struct {
	PolicyID            string   `json:"policy_id"`
	Rule                string   `json:"rule"`
	Severity            Severity `json:"severity"`
	Message             string   `json:"message"`
	SuggestedResolution string   `json:"suggested_resolution,omitempty"`
}

// AgentSelection is the optimizer's verdict.
type AgentSelection struct {
	AgentID         string  `json:"agent_id"`
	Reason          string  `json:"reason"`
	EstimatedCost   int64   `json:"estimated_cost"`
	ExpectedQuality int     `json:"expected_quality"`
	Score           float64 `json:"score"`
}

// AutonomyLevel is the oversight mode for an execution.
type AutonomyLevel string

const (
	AutonomyFull             AutonomyLevel = "full"
	AutonomySupervised       AutonomyLevel = "supervised"
	AutonomyApprovalRequired AutonomyLevel = "approval_required"
)

// Decision is the engine's final output for one task.
type Decision struct {
	DecisionID    string            `json:"decision_id"`
	TaskID        string            `json:"task_id,omitempty"`
	SelectedAgent AgentSelection    `json:"selected_agent"`
	ShouldProceed bool              `json:"should_proceed"`
	Reasoning     string            `json:"reasoning"`
	Policies      []PolicyViolation `json:"policies"`
	AutonomyLevel AutonomyLevel     `json:"autonomy_level"`
	DecidedAt     time.Time         `json:"decided_at"`
}

// Trend is the coarse direction of an agent's recent quality.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// AgentMetrics summarizes an agent's learned performance.
type AgentMetrics struct {
	Agent          AgentCapability `json:"agent"`
	AvgQuality     int             `json:"avg_quality"`
	ExecutionCount int             `json:"execution_count"`
	Trend          Trend           `json:"trend"`
}

// Outcome is a post-execution quality report for one agent.
type Outcome struct {
	AgentID    string    `json:"agent_id"`
	Success    bool      `json:"success"`
	Quality    float64   `json:"quality"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ErrorReporter receives unexpected engine failures.
// Implementations must not block the caller for long.
type ErrorReporter interface {
	CaptureException(ctx context.Context, err error)
}

// EventRecorder receives decisions and outcomes for audit.
type EventRecorder interface {
	// RecordDecision publishes a completed decision
	RecordDecision(ctx context.Context, execCtx ExecutionContext, decision *Decision) error

	// RecordOutcome publishes an outcome report
	RecordOutcome(ctx context.Context, outcome Outcome) error
}
