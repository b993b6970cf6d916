package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

const defaultHistoryLimit = 100

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Agents:  len(s.engine.ListAgents()),
	})
}

func (s *Server) handleListAgents(c echo.Context) error {
	var agents []orchestrator.AgentCapability
	if raw := c.QueryParam("category"); raw != "" {
		category := orchestrator.Category(raw)
		if !category.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category: "+raw)
		}
		agents = s.engine.ListAgentsByCategory(category)
	} else {
		agents = s.engine.ListAgents()
	}
	if agents == nil {
		agents = []orchestrator.AgentCapability{}
	}
	return c.JSON(http.StatusOK, AgentsResponse{Agents: agents, Count: len(agents)})
}

func (s *Server) handleRegisterAgent(c echo.Context) error {
	var capability orchestrator.AgentCapability
	if err := c.Bind(&capability); err != nil {
		s.logger.Warn("invalid agent request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.engine.RegisterAgent(c.Request().Context(), capability); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, capability)
}

func (s *Server) handleAgentMetrics(c echo.Context) error {
	metrics, err := s.engine.AgentMetrics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleDecide(c echo.Context) error {
	var execCtx orchestrator.ExecutionContext
	if err := c.Bind(&execCtx); err != nil {
		s.logger.Warn("invalid decision request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	decision, err := s.engine.MakeDecision(withTask(c, execCtx), execCtx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decision)
}

func (s *Server) handleRecordOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid outcome request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id field is required")
	}
	if req.Quality == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "quality field is required")
	}

	if err := s.engine.RecordOutcome(c.Request().Context(), req.AgentID, req.Success, *req.Quality); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, OutcomeResponse{Status: "recorded", AgentID: req.AgentID})
}

func (s *Server) handleExecute(c echo.Context) error {
	if s.operations == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "operation executor not configured")
	}

	var execCtx orchestrator.ExecutionContext
	if err := c.Bind(&execCtx); err != nil {
		s.logger.Warn("invalid operation request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.operations.Execute(withTask(c, execCtx), execCtx)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			// Agent, policy and cost-cap failures are reported in the result.
			code = http.StatusUnprocessableEntity
		}
		return c.JSON(code, OperationResponse{Result: result, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, OperationResponse{Result: result})
}

func (s *Server) handleOperationHistory(c echo.Context) error {
	if s.operations == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "operation executor not configured")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	ops := s.operations.History(limit)
	if ops == nil {
		ops = []orchestrator.OperationResult{}
	}
	return c.JSON(http.StatusOK, OperationHistoryResponse{Operations: ops, Count: len(ops)})
}

func (s *Server) handleOperationStats(c echo.Context) error {
	if s.operations == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "operation executor not configured")
	}
	stats := s.operations.Stats()
	return c.JSON(http.StatusOK, OperationStatsResponse{OperationStats: stats, Summary: stats.String()})
}

// withTask tags the request context with the task identity for logging.
func withTask(c echo.Context, execCtx orchestrator.ExecutionContext) context.Context {
	return logging.WithTask(c.Request().Context(), execCtx.TaskID, execCtx.UserID)
}
