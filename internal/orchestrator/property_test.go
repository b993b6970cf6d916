package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func zipAgents(costs []int64, rates []int) []AgentCapability {
	n := len(costs)
	if len(rates) < n {
		n = len(rates)
	}
	agents := make([]AgentCapability, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, testAgent(fmt.Sprintf("agent-%d", i), costs[i], 50+rates[i]/2, rates[i]))
	}
	return agents
}

// naiveFeasible restates feasibility directly, including the two-way
// case-insensitive substring match on specializations.
func naiveFeasible(a AgentCapability, execCtx ExecutionContext) bool {
	want := strings.ToLower(execCtx.Capability)
	matched := false
	for _, tag := range a.Specializations {
		tag = strings.ToLower(tag)
		if strings.Contains(tag, want) || strings.Contains(want, tag) {
			matched = true
		}
	}
	return matched && a.CostPerCall <= execCtx.Budget && a.SuccessRate >= execCtx.RequiredQuality
}

func tagGen() gopter.Gen {
	return gen.OneGenOf(
		gen.OneConstOf("summarize", "Summarize", "SUMMARY", "sum", "translate", "Trans", "code-review", "REVIEW", ""),
		gen.AlphaString(),
	)
}

// Property: FilterFeasible keeps exactly the agents that match the
// capability, fit the budget and meet the quality floor, in input order.
func TestFilterFeasible_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("feasible set equals the naive predicate", prop.ForAll(
		func(costs []int64, rates []int, tags [][]string, capability string, budget int64, quality int) bool {
			agents := zipAgents(costs, rates)
			for i := range agents {
				agents[i].Specializations = nil
				if i < len(tags) {
					agents[i].Specializations = tags[i]
				}
			}
			execCtx := baseContext()
			execCtx.Capability = capability
			execCtx.Budget = budget
			execCtx.RequiredQuality = quality

			var want []string
			for _, a := range agents {
				if naiveFeasible(a, execCtx) {
					want = append(want, a.ID)
				}
			}
			var got []string
			for _, a := range FilterFeasible(agents, execCtx) {
				got = append(got, a.ID)
			}
			return reflect.DeepEqual(want, got)
		},
		gen.SliceOf(gen.Int64Range(0, 2000)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.SliceOf(tagGen())),
		gen.OneGenOf(
			gen.OneConstOf("summarize", "SUM", "Summarize-Long-Document", "translation", "review", "Code", ""),
			gen.AlphaString(),
		),
		gen.Int64Range(0, 2000),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// Property: matching is symmetric in containment and ignores case.
func TestMatchesCapability_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("a tag matches its own substrings and superstrings in any case", prop.ForAll(
		func(tag, prefix, suffix string) bool {
			agent := AgentCapability{Specializations: []string{tag}}
			longer := prefix + strings.ToUpper(tag) + suffix
			return MatchesCapability(agent, longer) &&
				MatchesCapability(AgentCapability{Specializations: []string{longer}}, strings.ToLower(tag))
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: a decision never selects an agent outside the feasible set and
// always selects one with the maximal score.
func TestMakeDecision_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("selection is feasible and maximal", prop.ForAll(
		func(costs []int64, rates []int, budget int64) bool {
			ctx := context.Background()
			agents := zipAgents(costs, rates)
			e := NewEngine()
			for _, a := range agents {
				if err := e.RegisterAgent(ctx, a); err != nil {
					return false
				}
			}
			execCtx := baseContext()
			execCtx.Budget = budget
			execCtx.RequiredQuality = 0

			feasible := FilterFeasible(agents, execCtx)
			d, err := e.MakeDecision(ctx, execCtx)
			if len(feasible) == 0 {
				return err != nil && d == nil
			}
			if err != nil {
				return false
			}

			o := NewOptimizer()
			var found bool
			for _, a := range feasible {
				h, _ := e.history.Get(ctx, a.ID)
				if o.Score(a, execCtx, h) > d.SelectedAgent.Score {
					return false
				}
				if a.ID == d.SelectedAgent.AgentID {
					found = true
				}
			}
			return found
		},
		gen.SliceOf(gen.Int64Range(0, 1500)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t)
}

func autonomyRank(l AutonomyLevel) int {
	switch l {
	case AutonomyFull:
		return 2
	case AutonomySupervised:
		return 1
	}
	return 0
}

// Property: raising cost, adding violations or lowering quality never
// grants more autonomy.
func TestClassifyAutonomy_Monotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	severities := []Severity{SeverityWarning, SeverityError, SeverityCritical}

	properties.Property("autonomy is monotone", prop.ForAll(
		func(cost, extraCost int64, quality, qualityDrop, sevIdx int) bool {
			base := ClassifyAutonomy(cost, nil, quality)

			worseQuality := quality - qualityDrop
			if worseQuality < 0 {
				worseQuality = 0
			}
			violation := []PolicyViolation{{Severity: severities[sevIdx]}}

			return autonomyRank(ClassifyAutonomy(cost+extraCost, nil, quality)) <= autonomyRank(base) &&
				autonomyRank(ClassifyAutonomy(cost, violation, quality)) <= autonomyRank(base) &&
				autonomyRank(ClassifyAutonomy(cost, nil, worseQuality)) <= autonomyRank(base)
		},
		gen.Int64Range(0, 2000),
		gen.Int64Range(0, 2000),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property: history never exceeds MaxHistory and keeps the newest values.
func TestMemoryHistoryStore_BoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("history is bounded FIFO", prop.ForAll(
		func(values []float64) bool {
			ctx := context.Background()
			store := NewMemoryHistoryStore()
			for _, v := range values {
				if err := store.Append(ctx, "a1", v); err != nil {
					return false
				}
			}
			got, _ := store.Get(ctx, "a1")
			if len(got) > MaxHistory {
				return false
			}
			want := values
			if len(want) > MaxHistory {
				want = want[len(want)-MaxHistory:]
			}
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(250, gen.Float64Range(0, 100)),
	))

	properties.TestingRun(t)
}
