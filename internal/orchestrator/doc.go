// Package orchestrator implements the agent-dispatch decision engine.
//
// # Overview
//
// Given a task request, the engine picks which registered AI agent should
// execute the work, checks the choice against budget/time/quality policies,
// decides how much human oversight the execution needs, and adapts future
// choices from reported outcomes.
//
// # Architecture
//
// A decision flows through fixed stages:
//
//	Filter → Policy Gates → Optimize → Classify Autonomy → Decision
//
// After the chosen agent runs elsewhere, the caller reports the outcome back
// with RecordOutcome, which feeds the rolling history the optimizer reads on
// the next call.
//
// # Key Components
//
// ## Registry
//
// Registry holds agent capabilities in registration order. Re-registering an
// id overwrites the agent in place and resets its learning history, which is
// how catalog hot-reload works.
//
// ## Policy Gates
//
// Gates flag risk; they never block on their own:
//   - BudgetGate: cheapest candidate exceeds remaining budget (error)
//   - TimeGate: time limit under 5s (warning)
//   - QualityGate: required quality above 95 (warning)
//
// ## Optimizer
//
// The optimizer ranks feasible candidates with an upper-confidence-bound
// score combining historical quality, an exploration bonus, cost efficiency
// and trust. Ties go to the first-seen candidate.
//
// ## Autonomy
//
// ClassifyAutonomy maps (cost, violations, quality) to full, supervised or
// approval_required.
//
// ## Executor
//
// Executor runs whole operations: it asks the engine for a decision,
// enforces policies at the configured strictness, invokes the agent through
// an AgentInvoker with retries and records the outcome.
//
// # Usage Example
//
//	engine := orchestrator.NewEngine(
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithErrorReporter(reporter),
//	)
//	_ = engine.RegisterAgent(ctx, orchestrator.AgentCapability{
//	    ID: "a1", Category: orchestrator.CategoryContent,
//	    CostPerCall: 50, TrustScore: 90, SuccessRate: 85,
//	    Specializations: []string{"content"},
//	})
//	decision, err := engine.MakeDecision(ctx, orchestrator.ExecutionContext{
//	    Capability: "content", Budget: 1000, TimeLimit: 10000, RequiredQuality: 50,
//	})
//
// # Failure Semantics
//
// The only hard failure for a well-formed request is ErrNoSuitableAgent;
// a malformed one fails with ErrInvalidContext. Policy findings are returned
// inside the Decision. Unexpected internal failures are forwarded to the
// ErrorReporter and returned wrapped in ErrInternal.
package orchestrator
