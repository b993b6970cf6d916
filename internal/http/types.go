package http

import "github.com/fyrsmithlabs/dispatchd/internal/orchestrator"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Agents  int    `json:"agents"`
}

// AgentsResponse is the response body for GET /api/v1/agents.
type AgentsResponse struct {
	Agents []orchestrator.AgentCapability `json:"agents"`
	Count  int                            `json:"count"`
}

// OutcomeRequest is the request body for POST /api/v1/outcomes.
type OutcomeRequest struct {
	AgentID string   `json:"agent_id"`
	Success bool     `json:"success"`
	Quality *float64 `json:"quality"`
}

// OutcomeResponse acknowledges a recorded outcome.
type OutcomeResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
}

// OperationResponse is the response body for POST /api/v1/operations.
// Result is present even when the operation failed.
type OperationResponse struct {
	Result *orchestrator.OperationResult `json:"result"`
	Error  string                        `json:"error,omitempty"`
}

// OperationHistoryResponse is the response body for GET /api/v1/operations.
type OperationHistoryResponse struct {
	Operations []orchestrator.OperationResult `json:"operations"`
	Count      int                            `json:"count"`
}

// OperationStatsResponse is the response body for
// GET /api/v1/operations/stats.
type OperationStatsResponse struct {
	orchestrator.OperationStats
	Summary string `json:"summary"`
}
