package orchestrator

import (
	"context"
	"fmt"
	"strings"
)

// Policy thresholds. These are fixed.
const (
	// MinTimeLimitMS is the time limit below which TimeGate warns.
	MinTimeLimitMS = 5000

	// MaxRealisticQuality is the required quality above which QualityGate warns.
	MaxRealisticQuality = 95
)

// GateInput is what a policy gate evaluates.
type GateInput struct {
	Context    ExecutionContext
	Candidates []AgentCapability
}

// PolicyGate flags risk in a prospective execution.
type PolicyGate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns zero or more violations
	Check(ctx context.Context, in GateInput) ([]PolicyViolation, error)
}

// BudgetGate flags a cheapest candidate that the budget cannot cover.
type BudgetGate struct{}

// NewBudgetGate creates a new budget gate
func NewBudgetGate() *BudgetGate {
	return &BudgetGate{}
}

// Name returns the gate identifier
func (g *BudgetGate) Name() string {
	return PolicyBudget
}

// Check validates that the cheapest candidate fits the budget.
func (g *BudgetGate) Check(ctx context.Context, in GateInput) ([]PolicyViolation, error) {
	if len(in.Candidates) == 0 {
		return nil, nil
	}

	minCost := in.Candidates[0].CostPerCall
	for _, a := range in.Candidates[1:] {
		if a.CostPerCall < minCost {
			minCost = a.CostPerCall
		}
	}

	if minCost <= in.Context.Budget {
		return nil, nil
	}

	return []PolicyViolation{{
		PolicyID:            PolicyBudget,
		Rule:                "Minimum agent cost must be within budget",
		Severity:            SeverityError,
		Message:             fmt.Sprintf("Minimum cost %d¢ exceeds budget %d¢", minCost, in.Context.Budget),
		SuggestedResolution: "Increase budget or request lower-cost operation",
	}}, nil
}

// TimeGate warns about unrealistically tight time limits.
type TimeGate struct{}

// NewTimeGate creates a new time gate
func NewTimeGate() *TimeGate {
	return &TimeGate{}
}

// Name returns the gate identifier
func (g *TimeGate) Name() string {
	return PolicyTime
}

// Check warns when the time limit is under MinTimeLimitMS.
func (g *TimeGate) Check(ctx context.Context, in GateInput) ([]PolicyViolation, error) {
	if in.Context.TimeLimit >= MinTimeLimitMS {
		return nil, nil
	}
	return []PolicyViolation{{
		PolicyID:            PolicyTime,
		Rule:                "Minimum time limit is 5 seconds",
		Severity:            SeverityWarning,
		Message:             fmt.Sprintf("Time limit %dms is very tight", in.Context.TimeLimit),
		SuggestedResolution: "Consider increasing time limit for better results",
	}}, nil
}

// QualityGate warns about quality bars that are likely unachievable.
type QualityGate struct{}

// NewQualityGate creates a new quality gate
func NewQualityGate() *QualityGate {
	return &QualityGate{}
}

// Name returns the gate identifier
func (g *QualityGate) Name() string {
	return PolicyQuality
}

// Check warns when required quality exceeds MaxRealisticQuality.
func (g *QualityGate) Check(ctx context.Context, in GateInput) ([]PolicyViolation, error) {
	if in.Context.RequiredQuality <= MaxRealisticQuality {
		return nil, nil
	}
	return []PolicyViolation{{
		PolicyID:            PolicyQuality,
		Rule:                "Quality above 95% may be unrealistic",
		Severity:            SeverityWarning,
		Message:             fmt.Sprintf("Required quality %d%% is very high", in.Context.RequiredQuality),
		SuggestedResolution: "Consider relaxing quality requirements slightly",
	}}, nil
}

// DefaultGates returns the built-in policy gates in evaluation order.
func DefaultGates() []PolicyGate {
	return []PolicyGate{NewBudgetGate(), NewTimeGate(), NewQualityGate()}
}

// PolicyChecker runs a fixed set of gates and concatenates their findings.
type PolicyChecker struct {
	gates []PolicyGate
}

// NewPolicyChecker creates a checker. With no gates it uses DefaultGates.
func NewPolicyChecker(gates ...PolicyGate) *PolicyChecker {
	if len(gates) == 0 {
		gates = DefaultGates()
	}
	return &PolicyChecker{gates: gates}
}

// Check runs every gate in order.
func (p *PolicyChecker) Check(ctx context.Context, execCtx ExecutionContext, candidates []AgentCapability) ([]PolicyViolation, error) {
	in := GateInput{Context: execCtx, Candidates: candidates}

	violations := []PolicyViolation{}
	for _, gate := range p.gates {
		found, err := gate.Check(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("gate %s check failed: %w", gate.Name(), err)
		}
		violations = append(violations, found...)
	}
	return violations, nil
}

// hasCriticalViolation checks if any violation is critical
func hasCriticalViolation(violations []PolicyViolation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// filterSeverity returns violations with exactly the given severity.
func filterSeverity(violations []PolicyViolation, severity Severity) []PolicyViolation {
	var out []PolicyViolation
	for _, v := range violations {
		if v.Severity == severity {
			out = append(out, v)
		}
	}
	return out
}

// describeViolations creates a summary of violations
func describeViolations(violations []PolicyViolation) string {
	if len(violations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", strings.ToUpper(string(v.Severity)), v.Message))
	}
	return strings.Join(parts, "; ")
}
