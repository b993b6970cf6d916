package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// HistoryReader is the read side of a HistoryStore.
type HistoryReader interface {
	Get(ctx context.Context, agentID string) ([]float64, error)
}

// MatchesCapability reports whether any specialization and the requested
// capability contain one another, ignoring case.
func MatchesCapability(agent AgentCapability, capability string) bool {
	want := strings.ToLower(capability)
	for _, s := range agent.Specializations {
		spec := strings.ToLower(s)
		if strings.Contains(want, spec) || strings.Contains(spec, want) {
			return true
		}
	}
	return false
}

// IsFeasible reports whether agent may serve execCtx: it matches the
// capability, fits the budget and meets the quality floor.
func IsFeasible(agent AgentCapability, execCtx ExecutionContext) bool {
	return MatchesCapability(agent, execCtx.Capability) &&
		agent.CostPerCall <= execCtx.Budget &&
		agent.SuccessRate >= execCtx.RequiredQuality
}

// FilterFeasible returns the feasible agents, preserving order.
func FilterFeasible(agents []AgentCapability, execCtx ExecutionContext) []AgentCapability {
	var out []AgentCapability
	for _, a := range agents {
		if IsFeasible(a, execCtx) {
			out = append(out, a)
		}
	}
	return out
}

// Optimizer selects one agent from a shortlist using a UCB-style score.
type Optimizer struct{}

// NewOptimizer creates a new optimizer
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// Score computes the UCB score of agent given its history.
//
//	exploitation = mean(history) or successRate when history is empty
//	exploration  = sqrt(ln(n)/n), n = len(history)+1
//	costFactor   = max(0, 1 - cost/budget*0.1)
//	trustFactor  = trust/100
//	score        = (exploitation + 10*exploration) * costFactor * trustFactor
func (o *Optimizer) Score(agent AgentCapability, execCtx ExecutionContext, history []float64) float64 {
	n := float64(len(history) + 1)

	exploitation := float64(agent.SuccessRate)
	if len(history) > 0 {
		exploitation = mean(history)
	}

	exploration := math.Sqrt(math.Log(n) / n)

	costFactor := 1.0
	if execCtx.Budget > 0 {
		costFactor = 1 - (float64(agent.CostPerCall)/float64(execCtx.Budget))*0.1
	}
	if costFactor < 0 {
		costFactor = 0
	}

	trustFactor := float64(agent.TrustScore) / 100

	return (exploitation + exploration*10) * costFactor * trustFactor
}

// Select returns the highest-scoring candidate. Ties go to the earlier
// candidate.
func (o *Optimizer) Select(ctx context.Context, candidates []AgentCapability, execCtx ExecutionContext, history HistoryReader) (AgentSelection, error) {
	if len(candidates) == 0 {
		return AgentSelection{}, ErrNoSuitableAgent
	}

	bestScore := math.Inf(-1)
	bestIdx := -1
	for i, agent := range candidates {
		h, err := history.Get(ctx, agent.ID)
		if err != nil {
			return AgentSelection{}, fmt.Errorf("load history for %s: %w", agent.ID, err)
		}
		score := o.Score(agent, execCtx, h)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return AgentSelection{}, ErrNoSuitableAgent
	}

	best := candidates[bestIdx]
	return AgentSelection{
		AgentID: best.ID,
		Reason: fmt.Sprintf("High score (%.2f) - Trust: %d%%, Cost: %s",
			bestScore, best.TrustScore, formatCents(best.CostPerCall)),
		EstimatedCost:   best.CostPerCall,
		ExpectedQuality: best.SuccessRate,
		Score:           bestScore,
	}, nil
}

// formatCents renders cents as dollars, e.g. 150 -> "1.50$".
func formatCents(cents int64) string {
	return fmt.Sprintf("%.2f$", float64(cents)/100)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
